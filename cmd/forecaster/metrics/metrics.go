// Package metrics provides Prometheus metrics instrumentation for the forecaster.
//
// Metrics exposed:
//   - bizcast_loader_load_seconds: Histogram of series load duration
//   - bizcast_model_train_seconds: Histogram of training duration by backend
//   - bizcast_model_predict_seconds: Histogram of forecast duration by backend
//   - bizcast_trainings_total: Counter of training runs by backend and trigger
//   - bizcast_forecast_horizon_days: Histogram of requested horizons
//   - bizcast_errors_total: Counter of errors by component and reason
//
// Metrics implements forecast.Observer so the orchestrator reports through it
// without depending on Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the forecaster.
type Metrics struct {
	LoaderLoadSeconds   prometheus.Histogram
	ModelTrainSeconds   *prometheus.HistogramVec
	ModelPredictSeconds *prometheus.HistogramVec
	TrainingsTotal      *prometheus.CounterVec
	ForecastHorizonDays prometheus.Histogram
	ErrorsTotal         *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil reg registers
// with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LoaderLoadSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bizcast_loader_load_seconds",
			Help:    "Time spent loading a metric series",
			Buckets: prometheus.DefBuckets,
		}),

		ModelTrainSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bizcast_model_train_seconds",
			Help:    "Time spent training a model",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"backend"}),

		ModelPredictSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bizcast_model_predict_seconds",
			Help:    "Time spent producing a forecast",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),

		TrainingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bizcast_trainings_total",
			Help: "Total number of training runs by backend and trigger",
		}, []string{"backend", "trigger"}),

		ForecastHorizonDays: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bizcast_forecast_horizon_days",
			Help:    "Requested forecast horizon in days",
			Buckets: []float64{1, 7, 14, 30, 60, 90, 180, 365},
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bizcast_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// ObserveLoad records the time spent loading a series.
func (m *Metrics) ObserveLoad(seconds float64) {
	m.LoaderLoadSeconds.Observe(seconds)
}

// ObserveTrain records one training run.
func (m *Metrics) ObserveTrain(backend string, seconds float64, trigger string) {
	m.ModelTrainSeconds.WithLabelValues(backend).Observe(seconds)
	m.TrainingsTotal.WithLabelValues(backend, trigger).Inc()
}

// ObservePredict records the time spent forecasting.
func (m *Metrics) ObservePredict(backend string, seconds float64) {
	m.ModelPredictSeconds.WithLabelValues(backend).Observe(seconds)
}

// ObserveHorizon records a served horizon.
func (m *Metrics) ObserveHorizon(days int) {
	m.ForecastHorizonDays.Observe(float64(days))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
