package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HatiCode/bizcast/pkg/features"
	"github.com/HatiCode/bizcast/pkg/series"
)

// TreeBackend is a direct regression model over engineered features.
//
// Training builds the feature table, holds out the newest rows for
// evaluation and fits the boosted ensemble on the rest. Forecasting is
// recursive: each predicted day is appended to a value buffer and becomes
// the lag and rolling input of the following day.
type TreeBackend struct {
	cfg     features.Config
	params  BoostParams
	builder *features.Builder
	now     func() time.Time

	// observe, when set, sees every assembled vector during Forecast.
	observe func(step int, vec features.Vector)
}

type treeState struct {
	Model *boostedModel `json:"model"`
}

// NewTreeBackend validates its configuration and returns a ready backend.
func NewTreeBackend(cfg features.Config, params BoostParams) (*TreeBackend, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	builder, err := features.NewBuilder(cfg)
	if err != nil {
		return nil, err
	}
	return &TreeBackend{cfg: cfg, params: params, builder: builder, now: time.Now}, nil
}

// ID returns Tree.
func (b *TreeBackend) ID() BackendID { return Tree }

// Train fits the ensemble on the oldest TrainTestSplit share of complete
// feature rows and reports MAE and RMSE on the remainder.
func (b *TreeBackend) Train(ctx context.Context, key Key, history []series.Observation) (*Artifact, error) {
	if err := features.RequireSamples(len(history), b.cfg.MinTrainingSamples); err != nil {
		return nil, err
	}
	table, err := b.builder.Build(history)
	if err != nil {
		return nil, err
	}

	train, test := table.Split(b.cfg.TrainTestSplit)
	if train.Len() < 2 || test.Len() < 1 {
		return nil, fmt.Errorf("tree: %d rows split at %v leave an empty partition: %w",
			table.Len(), b.cfg.TrainTestSplit, features.ErrInsufficientData)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := fitBoosted(train.Rows, train.Targets, b.params)
	if err != nil {
		return nil, fmt.Errorf("tree: fit: %w", err)
	}

	predicted := make([]float64, test.Len())
	for i, row := range test.Rows {
		predicted[i] = model.predict(row)
	}
	mae, rmse := errorMetrics(test.Targets, predicted)

	state, err := json.Marshal(treeState{Model: model})
	if err != nil {
		return nil, fmt.Errorf("tree: encode state: %w", err)
	}

	key.Backend = Tree
	testSamples := test.Len()
	return &Artifact{
		Key:          key,
		TrainedAt:    b.now().UTC(),
		FeatureOrder: table.Schema.Names(),
		Metrics: TrainingMetrics{
			MAE:          mae,
			RMSE:         rmse,
			TrainSamples: train.Len(),
			TestSamples:  &testSamples,
		},
		State: state,
	}, nil
}

// Forecast predicts horizon days after the last observation of history.
//
// Vectors are assembled in the artifact's FeatureOrder from a buffer seeded
// with the newest history values. Any feature the buffer cannot reconstruct
// fails with features.ErrSchemaMismatch.
func (b *TreeBackend) Forecast(ctx context.Context, a *Artifact, history []series.Observation, horizon int) ([]ForecastPoint, error) {
	if err := checkArtifact(Tree, a); err != nil {
		return nil, err
	}
	if horizon < 1 {
		return nil, ErrInvalidHorizon
	}
	if len(history) == 0 {
		return nil, series.ErrEmptySeries
	}

	var state treeState
	if err := json.Unmarshal(a.State, &state); err != nil {
		return nil, fmt.Errorf("tree: decode state: %w", err)
	}
	if state.Model == nil {
		return nil, fmt.Errorf("tree: artifact %s has no model", a.Key)
	}

	asm, err := features.NewAssembler(a.FeatureOrder)
	if err != nil {
		return nil, err
	}
	if n := len(state.Model.Base.Weights); n != asm.Schema().Len() {
		return nil, fmt.Errorf("%w: model has %d inputs, feature order lists %d",
			features.ErrSchemaMismatch, n, asm.Schema().Len())
	}

	buf := features.NewBuffer(series.Values(history), asm.Lookback(), horizon)
	last := history[len(history)-1].Date
	points := make([]ForecastPoint, 0, horizon)

	for step := 1; step <= horizon; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		date := last.AddDate(0, 0, step)
		vec, err := asm.Assemble(date, buf)
		if err != nil {
			return nil, fmt.Errorf("tree: step %d: %w", step, err)
		}
		if b.observe != nil {
			b.observe(step, vec)
		}

		value := state.Model.predict(vec.Values())
		buf.Append(value)
		points = append(points, ForecastPoint{Date: date, Value: value})
	}
	return points, nil
}
