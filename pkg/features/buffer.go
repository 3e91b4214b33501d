package features

// Buffer is the append-only value arena used by recursive forecasting. It
// starts with the tail of the observed series and grows by one predicted
// value per step; lookups index from the end. Capacity is reserved up front
// so a forecast call never reallocates.
type Buffer struct {
	values []float64
}

// NewBuffer keeps the last lookback values of history (all of it when
// shorter) and reserves room for horizon appended predictions.
func NewBuffer(history []float64, lookback, horizon int) *Buffer {
	start := max(len(history)-lookback, 0)
	values := make([]float64, 0, len(history)-start+max(horizon, 0))
	values = append(values, history[start:]...)
	return &Buffer{values: values}
}

// Len returns the number of values held.
func (b *Buffer) Len() int { return len(b.values) }

// Append records v as the newest value.
func (b *Buffer) Append(v float64) { b.values = append(b.values, v) }

// Lag returns the value k positions from the end (k=1 is the newest).
func (b *Buffer) Lag(k int) (float64, bool) {
	if k < 1 || k > len(b.values) {
		return 0, false
	}
	return b.values[len(b.values)-k], true
}

// Window returns the newest w values, oldest first. The slice aliases the
// buffer and must not be modified.
func (b *Buffer) Window(w int) ([]float64, bool) {
	if w < 1 || w > len(b.values) {
		return nil, false
	}
	return b.values[len(b.values)-w:], true
}
