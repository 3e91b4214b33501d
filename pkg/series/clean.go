package series

import (
	"sort"
)

// Clean deduplicates, sorts and fills a raw series.
//
// Duplicate dates keep the last value seen in input order. Missing values
// are forward-filled, then leading gaps are back-filled from the first known
// value. Calendar gaps are not inserted: lags downstream are positional.
//
// Clean never mutates obs. It returns ErrEmptySeries when no observation with
// a usable value survives.
func Clean(obs []Observation) ([]Observation, error) {
	if len(obs) == 0 {
		return nil, ErrEmptySeries
	}

	latest := make(map[int64]int, len(obs))
	days := make([]Observation, 0, len(obs))
	for _, o := range obs {
		d := Day(o.Date)
		k := d.Unix()
		if i, ok := latest[k]; ok {
			days[i].Value = o.Value
			continue
		}
		latest[k] = len(days)
		days = append(days, Observation{Date: d, Value: o.Value})
	}

	sort.Slice(days, func(i, j int) bool {
		return days[i].Date.Before(days[j].Date)
	})

	fillForward(days)
	fillBackward(days)

	out := days[:0]
	for _, o := range days {
		if !Missing(o.Value) {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptySeries
	}
	return out, nil
}

func fillForward(obs []Observation) {
	for i := 1; i < len(obs); i++ {
		if Missing(obs[i].Value) {
			obs[i].Value = obs[i-1].Value
		}
	}
}

func fillBackward(obs []Observation) {
	for i := len(obs) - 2; i >= 0; i-- {
		if Missing(obs[i].Value) {
			obs[i].Value = obs[i+1].Value
		}
	}
}
