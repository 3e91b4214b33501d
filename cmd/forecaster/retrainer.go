// Package main implements scheduled retraining of stored models.
//
// This file contains the Retrainer type, which sweeps every stored artifact
// on a cron schedule and retrains it with its own backend on fresh history:
//
//	list models → load history → train → save
//
// A failure for one key is logged and counted; it never aborts the sweep.
// Sweeps do not overlap: a schedule firing while a sweep is still running is
// skipped.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HatiCode/bizcast/pkg/forecast"
	"github.com/HatiCode/bizcast/pkg/models"
)

// trainer is the part of the orchestrator the retrainer drives.
type trainer interface {
	Models(ctx context.Context) ([]forecast.ModelInfo, error)
	Train(ctx context.Context, businessID int64, metric, backend string) (*models.Artifact, error)
}

// errorRecorder receives retraining failures.
type errorRecorder interface {
	RecordError(component, reason string)
}

// Retrainer refreshes stored models.
type Retrainer struct {
	svc     trainer
	logger  *slog.Logger
	metrics errorRecorder
	timeout time.Duration
	cron    *cron.Cron
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Retrained int
	Failed    int
}

// NewRetrainer creates a Retrainer. timeout bounds each key's retraining.
func NewRetrainer(svc trainer, timeout time.Duration, logger *slog.Logger, metrics errorRecorder) *Retrainer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Retrainer{
		svc:     svc,
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
	}
}

// Start schedules sweeps on spec (standard five-field cron syntax) until
// ctx is canceled or Stop is called.
func (r *Retrainer) Start(ctx context.Context, spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := r.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("retrain sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retraining %q: %w", spec, err)
	}

	r.cron = c
	c.Start()
	r.logger.Info("retraining scheduled", "schedule", spec)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (r *Retrainer) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Tick performs one sweep over all stored models.
// Exported for testing purposes.
func (r *Retrainer) Tick(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var res SweepResult

	infos, err := r.svc.Models(ctx)
	if err != nil {
		r.recordError("list_failed")
		return res, fmt.Errorf("list models: %w", err)
	}
	r.logger.Debug("starting retrain sweep", "models", len(infos))

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := r.retrain(ctx, info.Key); err != nil {
			res.Failed++
			r.recordError("retrain_failed")
			r.logger.Warn("retraining failed", "key", info.Key.String(), "error", err)
			continue
		}
		res.Retrained++
	}

	r.logger.Info("retrain sweep complete",
		"retrained", res.Retrained,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (r *Retrainer) retrain(ctx context.Context, key models.Key) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.svc.Train(ctx, key.BusinessID, key.Metric, string(key.Backend))
	return err
}

func (r *Retrainer) recordError(reason string) {
	if r.metrics != nil {
		r.metrics.RecordError("retrainer", reason)
	}
}
