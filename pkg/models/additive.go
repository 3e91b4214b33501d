package models

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/HatiCode/bizcast/pkg/features"
	"github.com/HatiCode/bizcast/pkg/series"
)

// AdditiveParams tunes the trend and seasonality decomposition.
type AdditiveParams struct {
	Changepoints          int     `yaml:"changepoints" json:"changepoints"`
	ChangepointRange      float64 `yaml:"changepoint_range" json:"changepoint_range"`
	ChangepointPriorScale float64 `yaml:"changepoint_prior_scale" json:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `yaml:"seasonality_prior_scale" json:"seasonality_prior_scale"`
	WeeklySeasonality     bool    `yaml:"weekly_seasonality" json:"weekly_seasonality"`
	YearlySeasonality     bool    `yaml:"yearly_seasonality" json:"yearly_seasonality"`
	WeeklyOrder           int     `yaml:"weekly_order" json:"weekly_order"`
	YearlyOrder           int     `yaml:"yearly_order" json:"yearly_order"`
	IntervalWidth         float64 `yaml:"interval_width" json:"interval_width"`
}

// DefaultAdditiveParams returns 25 changepoints over the first 80% of
// history, weekly and yearly seasonality and an 80% interval.
func DefaultAdditiveParams() AdditiveParams {
	return AdditiveParams{
		Changepoints:          25,
		ChangepointRange:      0.8,
		ChangepointPriorScale: 0.05,
		SeasonalityPriorScale: 10,
		WeeklySeasonality:     true,
		YearlySeasonality:     true,
		WeeklyOrder:           3,
		YearlyOrder:           10,
		IntervalWidth:         0.8,
	}
}

// Validate rejects parameters the fitter cannot use.
func (p AdditiveParams) Validate() error {
	switch {
	case p.Changepoints < 0:
		return fmt.Errorf("changepoints %d must be >= 0", p.Changepoints)
	case p.ChangepointRange <= 0 || p.ChangepointRange > 1:
		return fmt.Errorf("changepoint range %v must be in (0, 1]", p.ChangepointRange)
	case p.ChangepointPriorScale <= 0 || p.SeasonalityPriorScale <= 0:
		return fmt.Errorf("prior scales must be > 0")
	case p.WeeklyOrder < 0 || p.YearlyOrder < 0:
		return fmt.Errorf("fourier orders must be >= 0")
	case p.IntervalWidth <= 0 || p.IntervalWidth >= 1:
		return fmt.Errorf("interval width %v must be in (0, 1)", p.IntervalWidth)
	}
	return nil
}

const (
	weekDays = 7.0
	yearDays = 365.25

	// referenceNoise is the residual scale, in units of the scaled series,
	// at which a prior scale maps to a unit ridge penalty.
	referenceNoise = 0.05

	// interceptPenalty keeps the normal equations definite without
	// shrinking level or slope in practice.
	interceptPenalty = 1e-9
)

// AdditiveBackend fits y(t) = trend(t) + weekly(t) + yearly(t) on the full
// series. The trend is piecewise linear with ridge-shrunk slope changes at
// evenly spaced changepoints; each seasonality is a Fourier series and is
// only fitted when the history covers two of its periods.
type AdditiveBackend struct {
	cfg    features.Config
	params AdditiveParams
	now    func() time.Time
}

// NewAdditiveBackend validates its configuration and returns a ready backend.
func NewAdditiveBackend(cfg features.Config, params AdditiveParams) (*AdditiveBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &AdditiveBackend{cfg: cfg, params: params, now: time.Now}, nil
}

// ID returns Additive.
func (b *AdditiveBackend) ID() BackendID { return Additive }

type additiveState struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	SpanDays     float64   `json:"span_days"`
	YScale       float64   `json:"y_scale"`
	Changepoints []float64 `json:"changepoints"`
	WeeklyOrder  int       `json:"weekly_order"`
	YearlyOrder  int       `json:"yearly_order"`
	Coef         []float64 `json:"coef"`
	Sigma        float64   `json:"sigma"`
	DeltaScale   float64   `json:"delta_scale"`
	Z            float64   `json:"z"`
}

func (s *additiveState) scaledTime(d time.Time) float64 {
	return d.Sub(s.Start).Hours() / 24 / s.SpanDays
}

// row is the design row for date d: level, slope, changepoint hinges, then
// weekly and yearly sine/cosine pairs.
func (s *additiveState) row(d time.Time) []float64 {
	t := s.scaledTime(d)
	row := make([]float64, 0, 2+len(s.Changepoints)+2*(s.WeeklyOrder+s.YearlyOrder))
	row = append(row, 1, t)
	for _, c := range s.Changepoints {
		row = append(row, math.Max(t-c, 0))
	}
	row = appendFourier(row, d, weekDays, s.WeeklyOrder)
	row = appendFourier(row, d, yearDays, s.YearlyOrder)
	return row
}

// appendFourier phases terms on days since the Unix epoch so seasonality
// does not depend on where the history starts.
func appendFourier(row []float64, d time.Time, period float64, order int) []float64 {
	days := float64(d.Unix()) / 86400
	for k := 1; k <= order; k++ {
		x := 2 * math.Pi * float64(k) * days / period
		row = append(row, math.Sin(x), math.Cos(x))
	}
	return row
}

// Train fits the decomposition on every observation and reports in-sample
// MAE and RMSE.
func (b *AdditiveBackend) Train(ctx context.Context, key Key, history []series.Observation) (*Artifact, error) {
	if err := features.RequireSamples(len(history), b.cfg.MinTrainingSamples); err != nil {
		return nil, err
	}
	if len(history) < 2 {
		return nil, &features.InsufficientDataError{Have: len(history), Need: 2}
	}

	n := len(history)
	y := series.Values(history)
	state := &additiveState{
		Start:  history[0].Date,
		End:    history[n-1].Date,
		YScale: floats.Max(absAll(y)),
	}
	state.SpanDays = state.End.Sub(state.Start).Hours() / 24
	if state.YScale == 0 {
		state.YScale = 1
	}
	if b.params.WeeklySeasonality && state.SpanDays >= 2*weekDays {
		state.WeeklyOrder = b.params.WeeklyOrder
	}
	if b.params.YearlySeasonality && state.SpanDays >= 2*yearDays {
		state.YearlyOrder = b.params.YearlyOrder
	}
	state.Changepoints = b.changepoints(state, history)
	state.Z = distuv.UnitNormal.Quantile(0.5 + b.params.IntervalWidth/2)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ys := make([]float64, n)
	for i, v := range y {
		ys[i] = v / state.YScale
	}
	design := make([][]float64, n)
	for i, o := range history {
		design[i] = state.row(o.Date)
	}

	coef, err := solvePenalized(design, ys, b.penalties(state))
	if err != nil {
		return nil, fmt.Errorf("additive: fit: %w", err)
	}
	state.Coef = coef

	fitted := make([]float64, n)
	residuals := make([]float64, n)
	for i, r := range design {
		f := floats.Dot(r, coef)
		fitted[i] = f * state.YScale
		residuals[i] = ys[i] - f
	}
	state.Sigma = stat.StdDev(residuals, nil)
	if len(state.Changepoints) > 0 {
		deltas := coef[2 : 2+len(state.Changepoints)]
		state.DeltaScale = floats.Sum(absAll(deltas)) / float64(len(deltas))
	}
	mae, rmse := errorMetrics(y, fitted)

	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("additive: encode state: %w", err)
	}

	key.Backend = Additive
	return &Artifact{
		Key:       key,
		TrainedAt: b.now().UTC(),
		Metrics: TrainingMetrics{
			MAE:          mae,
			RMSE:         rmse,
			TrainSamples: n,
		},
		State: encoded,
	}, nil
}

// changepoints places up to params.Changepoints hinges at evenly spaced
// observations within the first ChangepointRange share of history.
func (b *AdditiveBackend) changepoints(state *additiveState, history []series.Observation) []float64 {
	hist := int(math.Floor(float64(len(history)) * b.params.ChangepointRange))
	count := min(b.params.Changepoints, hist-1)
	if count <= 0 {
		return nil
	}
	cps := make([]float64, 0, count)
	for j := 1; j <= count; j++ {
		idx := int(math.Round(float64(j) * float64(hist-1) / float64(count)))
		cps = append(cps, state.scaledTime(history[idx].Date))
	}
	return cps
}

// penalties maps prior scales onto per-column ridge penalties.
func (b *AdditiveBackend) penalties(state *additiveState) []float64 {
	cp := math.Pow(referenceNoise/b.params.ChangepointPriorScale, 2)
	season := math.Pow(referenceNoise/b.params.SeasonalityPriorScale, 2)

	pen := []float64{interceptPenalty, interceptPenalty}
	for range state.Changepoints {
		pen = append(pen, cp)
	}
	for i := 0; i < 2*(state.WeeklyOrder+state.YearlyOrder); i++ {
		pen = append(pen, season)
	}
	return pen
}

// Forecast extends the fitted decomposition horizon days past the later of
// the last training date and the last history date. Bounds widen with
// distance from the training end as unseen slope changes accumulate.
func (b *AdditiveBackend) Forecast(ctx context.Context, a *Artifact, history []series.Observation, horizon int) ([]ForecastPoint, error) {
	if err := checkArtifact(Additive, a); err != nil {
		return nil, err
	}
	if horizon < 1 {
		return nil, ErrInvalidHorizon
	}

	var state additiveState
	if err := json.Unmarshal(a.State, &state); err != nil {
		return nil, fmt.Errorf("additive: decode state: %w", err)
	}
	if state.SpanDays <= 0 || len(state.Coef) != 2+len(state.Changepoints)+2*(state.WeeklyOrder+state.YearlyOrder) {
		return nil, fmt.Errorf("additive: artifact %s has inconsistent state", a.Key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	last := state.End
	if n := len(history); n > 0 && history[n-1].Date.After(last) {
		last = history[n-1].Date
	}
	rate := float64(len(state.Changepoints))

	points := make([]ForecastPoint, 0, horizon)
	for step := 1; step <= horizon; step++ {
		date := last.AddDate(0, 0, step)
		value := floats.Dot(state.row(date), state.Coef) * state.YScale

		ahead := math.Max(date.Sub(state.End).Hours()/24/state.SpanDays, 0)
		variance := state.Sigma*state.Sigma + rate*2*state.DeltaScale*state.DeltaScale*ahead*ahead*ahead/3
		spread := state.Z * math.Sqrt(variance) * state.YScale

		lower, upper := value-spread, value+spread
		points = append(points, ForecastPoint{Date: date, Value: value, LowerBound: &lower, UpperBound: &upper})
	}
	return points, nil
}

// solvePenalized solves min ||Xβ - y||² + Σ pen_j β_j².
func solvePenalized(rows [][]float64, y, pen []float64) ([]float64, error) {
	n, q := len(rows), len(pen)
	x := mat.NewDense(n, q, nil)
	for i, r := range rows {
		x.SetRow(i, r)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, x.T())
	for j, p := range pen {
		gram.SetSym(j, j, gram.At(j, j)+p)
	}
	var rhs mat.VecDense
	rhs.MulVec(x.T(), mat.NewVecDense(n, y))

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, fmt.Errorf("normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return nil, err
	}
	out := make([]float64, q)
	for j := range out {
		out[j] = beta.AtVec(j)
	}
	return out, nil
}

func absAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Abs(x)
	}
	return out
}
