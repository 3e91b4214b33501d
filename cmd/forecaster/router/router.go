// Package router configures HTTP routes for the forecaster's HTTP API.
//
// Routes configured:
//   - POST /v1/forecast - Serve a forecast, training on demand
//   - POST /v1/train/{business_id}/{metric_name}?backend=<id> - Retrain a model
//   - GET /v1/models - List stored models
//   - DELETE /v1/models/{key} - Delete a stored model ("tree_42_revenue")
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Engine errors map onto status codes in statusFor. Unexpected errors are
// logged and answered with a generic 500 body.
package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/bizcast/pkg/features"
	"github.com/HatiCode/bizcast/pkg/forecast"
	"github.com/HatiCode/bizcast/pkg/httpx"
	"github.com/HatiCode/bizcast/pkg/models"
	"github.com/HatiCode/bizcast/pkg/series"
)

// Service is the forecasting surface the routes serve.
type Service interface {
	Forecast(ctx context.Context, req forecast.Request) (*forecast.Result, error)
	Train(ctx context.Context, businessID int64, metric, backend string) (*models.Artifact, error)
	Models(ctx context.Context) ([]forecast.ModelInfo, error)
	DeleteModel(ctx context.Context, key models.Key) (bool, error)
}

// Options configures SetupRoutes.
type Options struct {
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Health, if set, is consulted by /healthz.
	Health func(ctx context.Context) error
	// RequestTimeout bounds every API call. Defaults to two minutes.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// TrainResponse is the body returned by the train endpoint.
type TrainResponse struct {
	BusinessID int64                  `json:"business_id"`
	MetricName string                 `json:"metric_name"`
	Backend    models.BackendID       `json:"backend"`
	Status     string                 `json:"status"`
	Metrics    models.TrainingMetrics `json:"metrics"`
}

// ModelsResponse is the body returned by the model listing endpoint.
type ModelsResponse struct {
	Models []forecast.ModelInfo `json:"models"`
}

// SetupRoutes configures HTTP endpoints for the forecaster.
func SetupRoutes(svc Service, opts Options) *http.ServeMux {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &handlers{svc: svc, timeout: opts.RequestTimeout, logger: opts.Logger}

	mux := http.NewServeMux()

	// Health check endpoint
	if opts.Health != nil {
		mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(opts.Health))
	} else {
		mux.Handle("GET /healthz", httpx.HealthHandler())
	}

	mux.HandleFunc("POST /v1/forecast", h.forecast)
	mux.HandleFunc("POST /v1/train/{business_id}/{metric_name}", h.train)
	mux.HandleFunc("GET /v1/models", h.listModels)
	mux.HandleFunc("DELETE /v1/models/{key}", h.deleteModel)

	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	return mux
}

type handlers struct {
	svc     Service
	timeout time.Duration
	logger  *slog.Logger
}

func (h *handlers) forecast(w http.ResponseWriter, r *http.Request) {
	var req forecast.Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.svc.Forecast(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := httpx.WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func (h *handlers) train(w http.ResponseWriter, r *http.Request) {
	businessID, err := strconv.ParseInt(r.PathValue("business_id"), 10, 64)
	if err != nil || businessID <= 0 {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "business_id must be a positive integer")
		return
	}
	metric := r.PathValue("metric_name")
	backend := r.URL.Query().Get("backend")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	artifact, err := h.svc.Train(ctx, businessID, metric, backend)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := TrainResponse{
		BusinessID: artifact.BusinessID,
		MetricName: artifact.Metric,
		Backend:    artifact.Backend,
		Status:     "trained",
		Metrics:    artifact.Metrics,
	}
	if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	infos, err := h.svc.Models(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := httpx.WriteJSON(w, http.StatusOK, ModelsResponse{Models: infos}); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func (h *handlers) deleteModel(w http.ResponseWriter, r *http.Request) {
	key, err := models.ParseKey(r.PathValue("key"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	deleted, err := h.svc.DeleteModel(ctx, key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		httpx.WriteError(w, http.StatusNotFound, &models.ModelNotFoundError{Key: key})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpx.WriteErrorMessage(w, status, "internal server error")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	httpx.WriteError(w, status, err)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, forecast.ErrInvalidRequest), errors.Is(err, httpx.ErrBadBody):
		return http.StatusBadRequest
	case errors.Is(err, forecast.ErrUnsupportedBackend):
		return http.StatusBadRequest
	case errors.Is(err, series.ErrNoData), errors.Is(err, models.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, series.ErrEmptySeries), errors.Is(err, features.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, forecast.ErrNoBackendAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
