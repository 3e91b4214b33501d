package features

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Assembler rebuilds feature vectors for future dates in a fixed, persisted
// feature order. It is the inference-side counterpart of Builder.
type Assembler struct {
	schema   Schema
	feats    []feature
	lookback int
}

// NewAssembler parses a persisted feature order. Unknown or malformed names
// fail with ErrSchemaMismatch.
func NewAssembler(order []string) (*Assembler, error) {
	schema, err := NewSchema(order)
	if err != nil {
		return nil, err
	}
	a := &Assembler{schema: schema, feats: make([]feature, 0, len(order))}
	for _, name := range order {
		f, err := parseFeature(name)
		if err != nil {
			return nil, err
		}
		a.feats = append(a.feats, f)
		a.lookback = max(a.lookback, f.n)
	}
	return a, nil
}

// Schema returns the order every assembled vector follows.
func (a *Assembler) Schema() Schema { return a.schema }

// Lookback is the buffer length needed to reconstruct every feature.
func (a *Assembler) Lookback() int { return a.lookback }

// Assemble computes the vector for date from the current buffer contents:
// lag_k is the k-th newest value, rolling statistics cover the newest w
// values. A feature the buffer cannot supply fails with ErrSchemaMismatch.
func (a *Assembler) Assemble(date time.Time, buf *Buffer) (Vector, error) {
	values := make([]float64, len(a.feats))
	for i, f := range a.feats {
		switch f.kind {
		case kindCalendar:
			values[i] = calendarValue(f.name, date)
		case kindLag:
			v, ok := buf.Lag(f.n)
			if !ok {
				return Vector{}, a.short(f, buf)
			}
			values[i] = v
		case kindRollingMean, kindRollingStd:
			w, ok := buf.Window(f.n)
			if !ok {
				return Vector{}, a.short(f, buf)
			}
			if f.kind == kindRollingMean {
				values[i] = stat.Mean(w, nil)
			} else {
				values[i] = stat.StdDev(w, nil)
			}
		}
	}
	return Vector{schema: a.schema, values: values}, nil
}

func (a *Assembler) short(f feature, buf *Buffer) error {
	return fmt.Errorf("%w: %s needs %d values, buffer holds %d", ErrSchemaMismatch, f.name, f.n, buf.Len())
}
