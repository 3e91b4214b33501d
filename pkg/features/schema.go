package features

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Calendar feature names, in model order.
const (
	DayOfWeek    = "day_of_week"
	DayOfMonth   = "day_of_month"
	Month        = "month"
	Quarter      = "quarter"
	Year         = "year"
	IsWeekend    = "is_weekend"
	IsMonthStart = "is_month_start"
	IsMonthEnd   = "is_month_end"
)

// CalendarFeatures lists the calendar feature names in model order.
var CalendarFeatures = []string{
	DayOfWeek, DayOfMonth, Month, Quarter, Year, IsWeekend, IsMonthStart, IsMonthEnd,
}

const (
	lagPrefix         = "lag_"
	rollingMeanPrefix = "rolling_mean_"
	rollingStdPrefix  = "rolling_std_"
)

func lagName(k int) string         { return lagPrefix + strconv.Itoa(k) }
func rollingMeanName(w int) string { return rollingMeanPrefix + strconv.Itoa(w) }
func rollingStdName(w int) string  { return rollingStdPrefix + strconv.Itoa(w) }

// Schema is an ordered, duplicate-free list of feature names.
type Schema struct {
	names []string
}

// NewSchema validates names and returns a Schema preserving their order.
func NewSchema(names []string) (Schema, error) {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return Schema{}, fmt.Errorf("%w: empty feature name", ErrSchemaMismatch)
		}
		if seen[n] {
			return Schema{}, fmt.Errorf("%w: duplicate feature %q", ErrSchemaMismatch, n)
		}
		seen[n] = true
	}
	return Schema{names: slices.Clone(names)}, nil
}

// Names returns a copy of the ordered feature names.
func (s Schema) Names() []string { return slices.Clone(s.names) }

// Len returns the number of features.
func (s Schema) Len() int { return len(s.names) }

// Equal reports whether both schemas list the same names in the same order.
func (s Schema) Equal(o Schema) bool { return slices.Equal(s.names, o.names) }

// Vector is a feature vector bound to the schema it was assembled for.
type Vector struct {
	schema Schema
	values []float64
}

// Schema returns the vector's schema.
func (v Vector) Schema() Schema { return v.schema }

// Values returns the raw values in schema order. Callers must not modify it.
func (v Vector) Values() []float64 { return v.values }

// Get returns the value of the named feature.
func (v Vector) Get(name string) (float64, bool) {
	i := slices.Index(v.schema.names, name)
	if i < 0 {
		return 0, false
	}
	return v.values[i], true
}

type featureKind int

const (
	kindCalendar featureKind = iota
	kindLag
	kindRollingMean
	kindRollingStd
)

// feature is a parsed feature name.
type feature struct {
	name string
	kind featureKind
	n    int
}

func parseFeature(name string) (feature, error) {
	if slices.Contains(CalendarFeatures, name) {
		return feature{name: name, kind: kindCalendar}, nil
	}

	for _, p := range []struct {
		prefix string
		kind   featureKind
		min    int
	}{
		{lagPrefix, kindLag, 1},
		{rollingMeanPrefix, kindRollingMean, 2},
		{rollingStdPrefix, kindRollingStd, 2},
	} {
		rest, ok := strings.CutPrefix(name, p.prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < p.min {
			return feature{}, fmt.Errorf("%w: malformed feature %q", ErrSchemaMismatch, name)
		}
		return feature{name: name, kind: p.kind, n: n}, nil
	}

	return feature{}, fmt.Errorf("%w: unknown feature %q", ErrSchemaMismatch, name)
}

// calendarValue computes a calendar feature for date d. Day of week counts
// Monday as 0; weekend is Saturday and Sunday.
func calendarValue(name string, d time.Time) float64 {
	switch name {
	case DayOfWeek:
		return float64((int(d.Weekday()) + 6) % 7)
	case DayOfMonth:
		return float64(d.Day())
	case Month:
		return float64(d.Month())
	case Quarter:
		return float64((int(d.Month())-1)/3 + 1)
	case Year:
		return float64(d.Year())
	case IsWeekend:
		return boolValue(d.Weekday() == time.Saturday || d.Weekday() == time.Sunday)
	case IsMonthStart:
		return boolValue(d.Day() == 1)
	case IsMonthEnd:
		return boolValue(d.AddDate(0, 0, 1).Month() != d.Month())
	}
	panic("features: unknown calendar feature " + name)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
