// Package models implements the forecasting backends and the artifact types
// they exchange with storage.
//
// A Backend trains on a cleaned daily series and produces an Artifact: the
// backend-specific fitted state plus the metadata every backend shares (key,
// training time, feature order, evaluation metrics). Forecasting takes an
// artifact and the current history and returns one ForecastPoint per day.
//
// Two backends are provided:
//   - TreeBackend: gradient-boosted regression trees on calendar, lag and
//     rolling features, forecasting recursively one day at a time
//   - AdditiveBackend: piecewise-linear trend plus Fourier seasonality,
//     extrapolated in closed form with uncertainty bounds
package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/bizcast/pkg/series"
)

// BackendID names a forecasting backend.
type BackendID string

const (
	Tree     BackendID = "tree"
	Additive BackendID = "additive"
)

// Preference is the order in which backends are chosen when the caller does
// not name one.
var Preference = []BackendID{Tree, Additive}

// ParseBackendID validates s as a known backend id.
func ParseBackendID(s string) (BackendID, error) {
	switch id := BackendID(strings.ToLower(strings.TrimSpace(s))); id {
	case Tree, Additive:
		return id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

var metricNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_.-]{0,126}[a-zA-Z0-9])?$`)

// ValidMetricName reports whether name can be part of an artifact key:
// 1-128 alphanumerics, dots, dashes or underscores, starting and ending
// alphanumeric.
func ValidMetricName(name string) bool {
	return metricNameRegex.MatchString(name)
}

// Key identifies one artifact: a metric of a business modelled by a backend.
type Key struct {
	BusinessID int64     `json:"business_id"`
	Metric     string    `json:"metric_name"`
	Backend    BackendID `json:"backend"`
}

// String renders the portable artifact name "{backend}_{business_id}_{metric_name}".
func (k Key) String() string {
	return fmt.Sprintf("%s_%d_%s", k.Backend, k.BusinessID, k.Metric)
}

// Validate checks that every component is usable as part of a storage name.
func (k Key) Validate() error {
	if _, err := ParseBackendID(string(k.Backend)); err != nil {
		return err
	}
	if k.BusinessID <= 0 {
		return fmt.Errorf("business id %d must be > 0", k.BusinessID)
	}
	if !ValidMetricName(k.Metric) {
		return fmt.Errorf("invalid metric name %q (alphanumeric with dot, dash or underscore, 1-128 chars)", k.Metric)
	}
	return nil
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "_", 3)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("malformed model key %q", s)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("malformed model key %q: %w", s, err)
	}
	k := Key{BusinessID: id, Metric: parts[2], Backend: BackendID(parts[0])}
	if err := k.Validate(); err != nil {
		return Key{}, fmt.Errorf("malformed model key %q: %w", s, err)
	}
	return k, nil
}

// TrainingMetrics summarises how well a model fit. TestSamples is nil for
// backends evaluated in-sample.
type TrainingMetrics struct {
	MAE          float64 `json:"mae"`
	RMSE         float64 `json:"rmse"`
	TrainSamples int     `json:"train_samples"`
	TestSamples  *int    `json:"test_samples,omitempty"`
}

// Artifact is the persisted result of one training run. State is opaque to
// everything but the backend that produced it.
type Artifact struct {
	Key
	StoragePath  string          `json:"storage_path,omitempty"`
	TrainedAt    time.Time       `json:"trained_at"`
	FeatureOrder []string        `json:"feature_order,omitempty"`
	Metrics      TrainingMetrics `json:"training_metrics"`
	State        json.RawMessage `json:"state"`
}

// ForecastPoint is one forecasted day. Bounds are nil when the backend does
// not estimate uncertainty.
type ForecastPoint struct {
	Date       time.Time
	Value      float64
	LowerBound *float64
	UpperBound *float64
}

type forecastPointJSON struct {
	Date       string   `json:"date"`
	Value      float64  `json:"value"`
	LowerBound *float64 `json:"lower_bound,omitempty"`
	UpperBound *float64 `json:"upper_bound,omitempty"`
}

const dateLayout = "2006-01-02"

// MarshalJSON renders the date as YYYY-MM-DD and omits absent bounds.
func (p ForecastPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(forecastPointJSON{
		Date:       p.Date.Format(dateLayout),
		Value:      p.Value,
		LowerBound: p.LowerBound,
		UpperBound: p.UpperBound,
	})
}

// UnmarshalJSON accepts the format written by MarshalJSON.
func (p *ForecastPoint) UnmarshalJSON(data []byte) error {
	var raw forecastPointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := time.Parse(dateLayout, raw.Date)
	if err != nil {
		return fmt.Errorf("forecast point date: %w", err)
	}
	*p = ForecastPoint{Date: d, Value: raw.Value, LowerBound: raw.LowerBound, UpperBound: raw.UpperBound}
	return nil
}

// Backend is a forecasting strategy.
//
// Train fits a model on a cleaned series and returns an unsaved artifact.
// Forecast extends history by horizon days starting the day after its last
// observation; it must be deterministic for identical inputs.
type Backend interface {
	ID() BackendID
	Train(ctx context.Context, key Key, history []series.Observation) (*Artifact, error)
	Forecast(ctx context.Context, artifact *Artifact, history []series.Observation, horizon int) ([]ForecastPoint, error)
}

var (
	// ErrModelNotFound is the sentinel matched by ModelNotFoundError.
	ErrModelNotFound = errors.New("model not found")

	// ErrUnknownBackend is returned for backend ids outside Preference.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrInvalidHorizon is returned when horizon < 1.
	ErrInvalidHorizon = errors.New("horizon must be >= 1")
)

// ModelNotFoundError reports a missing artifact.
type ModelNotFoundError struct {
	Key Key
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %s not found", e.Key)
}

// Is makes errors.Is(err, ErrModelNotFound) match.
func (e *ModelNotFoundError) Is(target error) bool {
	return target == ErrModelNotFound
}

// checkArtifact rejects artifacts that cannot belong to backend id.
func checkArtifact(id BackendID, a *Artifact) error {
	if a == nil {
		return &ModelNotFoundError{Key: Key{Backend: id}}
	}
	if a.Backend != id {
		return fmt.Errorf("%s backend cannot use %s artifact %s", id, a.Backend, a.Key)
	}
	if len(a.State) == 0 {
		return fmt.Errorf("artifact %s has no fitted state", a.Key)
	}
	return nil
}
