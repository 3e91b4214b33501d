// Package series defines the daily observation type shared by loaders, the
// feature engineer and the forecasting backends, and the cleaning step that
// turns raw upstream records into a model-ready series.
package series

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Observation is one daily value of a business metric.
// A missing value is represented as NaN and is filled by Clean.
type Observation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Day truncates t to its calendar date at UTC midnight.
// The calendar fields are read in t's own location so a local midnight
// timestamp stays on the same day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Missing reports whether v represents an absent observation. Infinite
// values are unusable for fitting and count as missing.
func Missing(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// Values returns the values of obs in order.
func Values(obs []Observation) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = o.Value
	}
	return out
}

// ErrNoData is the sentinel matched by NoDataError.
var ErrNoData = errors.New("no data")

// ErrEmptySeries is returned by Clean when nothing usable is left.
var ErrEmptySeries = errors.New("series is empty after cleaning")

// NoDataError reports that the upstream store holds no observations for a key.
type NoDataError struct {
	BusinessID int64
	Metric     string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no data for business %d metric %q", e.BusinessID, e.Metric)
}

// Is makes errors.Is(err, ErrNoData) match.
func (e *NoDataError) Is(target error) bool {
	return target == ErrNoData
}
