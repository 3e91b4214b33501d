// Package models builds the forecaster's backend registry from configuration.
package models

import (
	"fmt"
	"log/slog"

	"github.com/HatiCode/bizcast/cmd/forecaster/config"
	"github.com/HatiCode/bizcast/pkg/models"
)

// New creates the registry of enabled backends. The additive interval width
// from the command line, when set, overrides the engine file.
func New(cfg *config.Config, engine config.EngineConfig, logger *slog.Logger) (*models.Registry, error) {
	engine, err := engine.WithIntervalWidth(cfg.IntervalWidth)
	if err != nil {
		return nil, fmt.Errorf("interval width: %w", err)
	}

	for _, name := range cfg.Backends {
		switch name {
		case string(models.Tree):
			logger.Info("initializing tree backend",
				"rounds", engine.Tree.Rounds,
				"max_depth", engine.Tree.MaxDepth,
				"learning_rate", engine.Tree.LearningRate,
				"lags", engine.Features.LagOffsets,
				"windows", engine.Features.RollingWindows,
			)
		case string(models.Additive):
			logger.Info("initializing additive backend",
				"changepoints", engine.Additive.Changepoints,
				"changepoint_prior_scale", engine.Additive.ChangepointPriorScale,
				"interval", models.FormatIntervalWidth(engine.Additive.IntervalWidth),
			)
		}
	}

	registry, err := models.BuildRegistry(cfg.Backends, engine.Features, engine.Tree, engine.Additive)
	if err != nil {
		return nil, err
	}
	if len(registry.Available()) == 0 {
		return nil, fmt.Errorf("no backends enabled")
	}
	return registry, nil
}
