package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/bizcast/pkg/features"
	"github.com/HatiCode/bizcast/pkg/models"
)

// EngineConfig tunes feature engineering and both backends. Keys absent
// from the YAML file keep their defaults.
//
//	features:
//	  lag_offsets: [1, 7, 14, 30]
//	  rolling_windows: [7, 14, 30]
//	  min_training_samples: 30
//	  train_test_split: 0.8
//	tree:
//	  rounds: 100
//	  max_depth: 6
//	  learning_rate: 0.1
//	additive:
//	  changepoint_prior_scale: 0.05
//	  interval_width: 0.8
type EngineConfig struct {
	Features features.Config      `yaml:"features"`
	Tree     models.BoostParams    `yaml:"tree"`
	Additive models.AdditiveParams `yaml:"additive"`
}

// DefaultEngine returns the built-in tuning.
func DefaultEngine() EngineConfig {
	return EngineConfig{
		Features: features.DefaultConfig(),
		Tree:     models.DefaultBoostParams(),
		Additive: models.DefaultAdditiveParams(),
	}
}

// LoadEngine reads and validates the engine configuration at path. An empty
// path returns the defaults.
func LoadEngine(path string) (EngineConfig, error) {
	if path == "" {
		return DefaultEngine(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("read engine config: %w", err)
	}
	cfg, err := ParseEngine(data)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("engine config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseEngine decodes YAML over the defaults. Unknown keys are rejected.
func ParseEngine(data []byte) (EngineConfig, error) {
	cfg := DefaultEngine()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return EngineConfig{}, fmt.Errorf("decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (e EngineConfig) Validate() error {
	if err := e.Features.Validate(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if err := e.Tree.Validate(); err != nil {
		return fmt.Errorf("tree: %w", err)
	}
	if err := e.Additive.Validate(); err != nil {
		return fmt.Errorf("additive: %w", err)
	}
	return nil
}

// WithIntervalWidth overrides the additive interval width from p-notation or
// a fraction. An empty value leaves the configuration unchanged.
func (e EngineConfig) WithIntervalWidth(s string) (EngineConfig, error) {
	if s == "" {
		return e, nil
	}
	w, err := models.ParseIntervalWidth(s)
	if err != nil {
		return e, err
	}
	e.Additive.IntervalWidth = w
	return e, nil
}
