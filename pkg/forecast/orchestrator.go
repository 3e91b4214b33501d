// Package forecast coordinates loading, training and prediction for one
// forecast request.
//
// A request moves through four stages:
//
//	resolve backend → ensure trained → predict → respond
//
// Backends are resolved against the process-wide models.Registry. When the
// resolved backend has no stored artifact for the key, it is trained on the
// freshly loaded history and saved before predicting. Concurrent requests
// that find the same artifact missing share one training run.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/HatiCode/bizcast/pkg/adapters"
	"github.com/HatiCode/bizcast/pkg/features"
	"github.com/HatiCode/bizcast/pkg/models"
	"github.com/HatiCode/bizcast/pkg/series"
	"github.com/HatiCode/bizcast/pkg/storage"
	"github.com/HatiCode/bizcast/pkg/telemetry"
)

const tracerName = "github.com/HatiCode/bizcast/pkg/forecast"

// Orchestrator serves forecasts. It is safe for concurrent use.
type Orchestrator struct {
	loader   adapters.Loader
	repo     storage.Repository
	registry *models.Registry
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer

	flights singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the metrics sink.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates an Orchestrator over the given collaborators.
func New(loader adapters.Loader, repo storage.Repository, registry *models.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loader:   loader,
		repo:     repo,
		registry: registry,
		logger:   slog.Default(),
		observer: nopObserver{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Forecast serves req, training the resolved backend first if it has no
// stored artifact. Engine errors (no data, insufficient data, unsupported
// backend, ...) are returned as produced so callers can match them with
// errors.Is and errors.As.
func (o *Orchestrator) Forecast(ctx context.Context, req Request) (*Result, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "forecast.Forecast", trace.WithAttributes(
		telemetry.AttrBusinessID.Int64(req.BusinessID),
		telemetry.AttrMetric.String(req.MetricName),
		telemetry.AttrHorizon.Int(req.days()),
	))
	defer span.End()

	result, err := o.forecast(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		telemetry.AttrBackend.String(string(result.BackendUsed)),
		telemetry.AttrPoints.Int(len(result.Points)),
	)
	return result, nil
}

func (o *Orchestrator) forecast(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	id, err := o.resolve(ctx, req.BusinessID, req.MetricName, req.Backend)
	if err != nil {
		o.observer.RecordError("orchestrator", "resolve_failed")
		return nil, err
	}
	backend, _ := o.registry.Get(id)
	key := models.Key{BusinessID: req.BusinessID, Metric: req.MetricName, Backend: id}

	history, err := o.load(ctx, req.BusinessID, req.MetricName)
	if err != nil {
		return nil, err
	}

	artifact, err := o.ensureTrained(ctx, backend, key, history)
	if err != nil {
		return nil, err
	}

	points, err := o.predict(ctx, backend, artifact, history, req.days())
	if err != nil {
		return nil, err
	}
	o.observer.ObserveHorizon(req.days())

	metrics := artifact.Metrics
	o.logger.Info("forecast served",
		"key", key.String(),
		"horizon", req.days(),
		"history", len(history),
		"total_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		BusinessID:      req.BusinessID,
		MetricName:      req.MetricName,
		Horizon:         req.days(),
		BackendUsed:     id,
		Points:          points,
		TrainingMetrics: &metrics,
	}, nil
}

// Train loads fresh history and retrains backend for the key, overwriting
// any stored artifact. backend may be Auto or empty to use the preferred
// available backend.
func (o *Orchestrator) Train(ctx context.Context, businessID int64, metric, backend string) (*models.Artifact, error) {
	key := models.Key{BusinessID: businessID, Metric: metric}

	if backend == "" || backend == Auto {
		available := o.registry.Available()
		if len(available) == 0 {
			return nil, ErrNoBackendAvailable
		}
		key.Backend = available[0]
	} else {
		id, err := models.ParseBackendID(backend)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		key.Backend = id
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	b, ok := o.registry.Get(key.Backend)
	if !ok {
		return nil, &UnsupportedBackendError{Backend: key.Backend}
	}

	ctx, span := o.tracer.Start(ctx, "forecast.Train", trace.WithAttributes(
		telemetry.AttrBusinessID.Int64(businessID),
		telemetry.AttrMetric.String(metric),
		telemetry.AttrBackend.String(string(key.Backend)),
	))
	defer span.End()

	history, err := o.load(ctx, businessID, metric)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	// Shares the on-demand flight key so a cold forecast and a retrain of the
	// same key fit one model.
	v, err, _ := o.flights.Do(key.String(), func() (any, error) {
		return o.trainAndSave(ctx, b, key, history, TriggerExplicit)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return v.(*models.Artifact), nil
}

// ModelInfo describes a stored artifact without its fitted state.
type ModelInfo struct {
	models.Key
	StoragePath  string                 `json:"storage_path,omitempty"`
	TrainedAt    time.Time              `json:"trained_at"`
	FeatureOrder []string               `json:"feature_order,omitempty"`
	Metrics      models.TrainingMetrics `json:"training_metrics"`
}

// Models lists every stored artifact. Artifacts removed between listing and
// loading are skipped.
func (o *Orchestrator) Models(ctx context.Context) ([]ModelInfo, error) {
	keys, err := o.repo.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	infos := make([]ModelInfo, 0, len(keys))
	for _, k := range keys {
		a, err := o.repo.Load(ctx, k)
		if errors.Is(err, models.ErrModelNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load model %s: %w", k, err)
		}
		infos = append(infos, ModelInfo{
			Key:          k,
			StoragePath:  a.StoragePath,
			TrainedAt:    a.TrainedAt,
			FeatureOrder: a.FeatureOrder,
			Metrics:      a.Metrics,
		})
	}
	return infos, nil
}

// DeleteModel removes the stored artifact for key and reports whether one
// existed. The next forecast for the key retrains on demand.
func (o *Orchestrator) DeleteModel(ctx context.Context, key models.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	deleted, err := o.repo.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("delete model %s: %w", key, err)
	}
	if deleted {
		o.logger.Info("model deleted", "key", key.String())
	}
	return deleted, nil
}

// resolve picks the backend for a request. An explicit backend must be
// registered. Auto prefers a backend that already has an artifact for the
// key, then the first available backend in preference order.
func (o *Orchestrator) resolve(ctx context.Context, businessID int64, metric, requested string) (models.BackendID, error) {
	if requested != Auto {
		id, err := models.ParseBackendID(requested)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if !o.registry.Has(id) {
			return "", &UnsupportedBackendError{Backend: id}
		}
		return id, nil
	}

	available := o.registry.Available()
	if len(available) == 0 {
		return "", ErrNoBackendAvailable
	}
	for _, id := range available {
		ok, err := o.repo.Exists(ctx, models.Key{BusinessID: businessID, Metric: metric, Backend: id})
		if err != nil {
			return "", fmt.Errorf("check model %s: %w", id, err)
		}
		if ok {
			return id, nil
		}
	}
	return available[0], nil
}

// load fetches and cleans the history for a key.
func (o *Orchestrator) load(ctx context.Context, businessID int64, metric string) ([]series.Observation, error) {
	ctx, span := o.tracer.Start(ctx, "forecast.load")
	defer span.End()

	start := time.Now()
	raw, err := o.loader.Load(ctx, businessID, metric)
	if err != nil {
		telemetry.RecordError(span, err)
		o.observer.RecordError("loader", "load_failed")
		return nil, err
	}
	o.observer.ObserveLoad(time.Since(start).Seconds())

	history, err := series.Clean(raw)
	if err != nil {
		telemetry.RecordError(span, err)
		o.observer.RecordError("cleaner", "empty_series")
		return nil, err
	}

	o.logger.Debug("loaded history",
		"loader", o.loader.Name(),
		"business_id", businessID,
		"metric_name", metric,
		"raw", len(raw),
		"clean", len(history),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return history, nil
}

// ensureTrained returns the stored artifact for key, training and saving
// one first if none exists.
func (o *Orchestrator) ensureTrained(ctx context.Context, b models.Backend, key models.Key, history []series.Observation) (*models.Artifact, error) {
	if a, err := o.stored(ctx, key); a != nil || err != nil {
		return a, err
	}

	v, err, shared := o.flights.Do(key.String(), func() (any, error) {
		// Another flight may have saved the artifact since the check above.
		if a, err := o.stored(ctx, key); a != nil || err != nil {
			return a, err
		}
		return o.trainAndSave(ctx, b, key, history, TriggerOnDemand)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		o.logger.Debug("joined in-flight training", "key", key.String())
	}
	return v.(*models.Artifact), nil
}

// stored loads the artifact for key, returning nil without error when there
// is none.
func (o *Orchestrator) stored(ctx context.Context, key models.Key) (*models.Artifact, error) {
	ok, err := o.repo.Exists(ctx, key)
	if err != nil {
		o.observer.RecordError("storage", "exists_failed")
		return nil, fmt.Errorf("check model %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	a, err := o.repo.Load(ctx, key)
	if errors.Is(err, models.ErrModelNotFound) {
		return nil, nil
	}
	if err != nil {
		o.observer.RecordError("storage", "load_failed")
		return nil, fmt.Errorf("load model %s: %w", key, err)
	}
	return a, nil
}

func (o *Orchestrator) trainAndSave(ctx context.Context, b models.Backend, key models.Key, history []series.Observation, trigger string) (*models.Artifact, error) {
	ctx, span := o.tracer.Start(ctx, "forecast.train", trace.WithAttributes(
		telemetry.AttrBackend.String(string(key.Backend)),
		telemetry.AttrTrigger.String(trigger),
	))
	defer span.End()

	start := time.Now()
	a, err := b.Train(ctx, key, history)
	if err != nil {
		telemetry.RecordError(span, err)
		o.observer.RecordError("model", "train_failed")
		o.logger.Warn("training failed", "key", key.String(), "samples", len(history), "error", err)
		return nil, err
	}
	elapsed := time.Since(start)
	o.observer.ObserveTrain(string(key.Backend), elapsed.Seconds(), trigger)

	if err := o.repo.Save(ctx, key, a); err != nil {
		telemetry.RecordError(span, err)
		o.observer.RecordError("storage", "save_failed")
		return nil, fmt.Errorf("save model %s: %w", key, err)
	}

	o.logger.Info("model trained",
		"key", key.String(),
		"trigger", trigger,
		"mae", a.Metrics.MAE,
		"rmse", a.Metrics.RMSE,
		"train_samples", a.Metrics.TrainSamples,
		"duration_ms", elapsed.Milliseconds(),
	)
	return a, nil
}

func (o *Orchestrator) predict(ctx context.Context, b models.Backend, a *models.Artifact, history []series.Observation, horizon int) ([]models.ForecastPoint, error) {
	ctx, span := o.tracer.Start(ctx, "forecast.predict", trace.WithAttributes(
		telemetry.AttrBackend.String(string(b.ID())),
		telemetry.AttrHorizon.Int(horizon),
	))
	defer span.End()

	start := time.Now()
	points, err := b.Forecast(ctx, a, history, horizon)
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, features.ErrSchemaMismatch) {
			o.observer.RecordError("model", "schema_mismatch")
			o.logger.Error("artifact feature order does not match the engine",
				"key", a.Key.String(),
				"feature_order", a.FeatureOrder,
				"error", err,
			)
		} else {
			o.observer.RecordError("model", "predict_failed")
		}
		return nil, err
	}
	o.observer.ObservePredict(string(b.ID()), time.Since(start).Seconds())
	return points, nil
}
