// Package features turns a cleaned daily series into model inputs.
//
// Training uses Builder to produce a Table of feature rows aligned with their
// targets. Recursive forecasting uses Assembler over a Buffer so that every
// step reproduces the exact column order a model was fitted with.
package features

import (
	"errors"
	"fmt"
)

// Config is the feature and training-size configuration shared by the
// feature engineer and the tree backend. It is passed by value and never
// mutated after startup.
type Config struct {
	LagOffsets         []int   `yaml:"lag_offsets" json:"lag_offsets"`
	RollingWindows     []int   `yaml:"rolling_windows" json:"rolling_windows"`
	MinTrainingSamples int     `yaml:"min_training_samples" json:"min_training_samples"`
	TrainTestSplit     float64 `yaml:"train_test_split" json:"train_test_split"`
}

// DefaultConfig returns lags 1/7/14/30, windows 7/14/30, at least 30 training
// rows and an 80/20 chronological split.
func DefaultConfig() Config {
	return Config{
		LagOffsets:         []int{1, 7, 14, 30},
		RollingWindows:     []int{7, 14, 30},
		MinTrainingSamples: 30,
		TrainTestSplit:     0.8,
	}
}

// Validate checks the configuration for values the engineer cannot honour.
func (c Config) Validate() error {
	seen := make(map[int]bool, len(c.LagOffsets))
	for _, k := range c.LagOffsets {
		if k <= 0 {
			return fmt.Errorf("lag offset %d must be > 0", k)
		}
		if seen[k] {
			return fmt.Errorf("duplicate lag offset %d", k)
		}
		seen[k] = true
	}

	seen = make(map[int]bool, len(c.RollingWindows))
	for _, w := range c.RollingWindows {
		if w < 2 {
			return fmt.Errorf("rolling window %d must be >= 2", w)
		}
		if seen[w] {
			return fmt.Errorf("duplicate rolling window %d", w)
		}
		seen[w] = true
	}

	if c.MinTrainingSamples < 1 {
		return errors.New("min training samples must be >= 1")
	}
	if c.TrainTestSplit <= 0 || c.TrainTestSplit >= 1 {
		return fmt.Errorf("train/test split %v must be in (0, 1)", c.TrainTestSplit)
	}
	return nil
}

// Lookback is max(lags ∪ windows): the history a recursive step needs.
func (c Config) Lookback() int {
	n := 0
	for _, k := range c.LagOffsets {
		n = max(n, k)
	}
	for _, w := range c.RollingWindows {
		n = max(n, w)
	}
	return n
}

// firstCompleteRow is the first series position whose lags and inclusive
// rolling windows all fall inside the series.
func (c Config) firstCompleteRow() int {
	n := 0
	for _, k := range c.LagOffsets {
		n = max(n, k)
	}
	for _, w := range c.RollingWindows {
		n = max(n, w-1)
	}
	return n
}

// Names returns the feature order produced by this configuration: calendar
// features, then lag_k per offset, then rolling_mean_w and rolling_std_w per
// window.
func (c Config) Names() []string {
	names := make([]string, 0, len(CalendarFeatures)+len(c.LagOffsets)+2*len(c.RollingWindows))
	names = append(names, CalendarFeatures...)
	for _, k := range c.LagOffsets {
		names = append(names, lagName(k))
	}
	for _, w := range c.RollingWindows {
		names = append(names, rollingMeanName(w), rollingStdName(w))
	}
	return names
}
