package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/HatiCode/bizcast/pkg/adapters"
	"github.com/HatiCode/bizcast/pkg/features"
	"github.com/HatiCode/bizcast/pkg/models"
	"github.com/HatiCode/bizcast/pkg/series"
	"github.com/HatiCode/bizcast/pkg/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// countingBackend wraps a real backend and counts training runs.
type countingBackend struct {
	models.Backend
	trains atomic.Int32
	delay  time.Duration
}

func (c *countingBackend) Train(ctx context.Context, key models.Key, history []series.Observation) (*models.Artifact, error) {
	c.trains.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.Backend.Train(ctx, key, history)
}

// recordingObserver captures observer calls.
type recordingObserver struct {
	mu       sync.Mutex
	trains   []string
	errors   []string
	horizons []int
}

func (r *recordingObserver) ObserveLoad(float64) {}
func (r *recordingObserver) ObserveTrain(backend string, _ float64, trigger string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trains = append(r.trains, backend+"/"+trigger)
}
func (r *recordingObserver) ObservePredict(string, float64) {}
func (r *recordingObserver) ObserveHorizon(days int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.horizons = append(r.horizons, days)
}
func (r *recordingObserver) RecordError(component, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, component+"/"+reason)
}

func linearHistory(n int) []series.Observation {
	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	obs := make([]series.Observation, n)
	for i := range obs {
		obs[i] = series.Observation{Date: start.AddDate(0, 0, i), Value: 100 + float64(i)}
	}
	return obs
}

type fixture struct {
	loader   *adapters.StaticLoader
	repo     *storage.MemoryRepository
	tree     *countingBackend
	additive *countingBackend
	observer *recordingObserver
	orch     *Orchestrator
}

func newFixture(t *testing.T, ids ...models.BackendID) *fixture {
	t.Helper()
	cfg := features.DefaultConfig()
	tree, err := models.NewTreeBackend(cfg, models.DefaultBoostParams())
	if err != nil {
		t.Fatal(err)
	}
	additive, err := models.NewAdditiveBackend(cfg, models.DefaultAdditiveParams())
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		loader:   adapters.NewStaticLoader(),
		repo:     storage.NewMemoryRepository(),
		tree:     &countingBackend{Backend: tree},
		additive: &countingBackend{Backend: additive},
		observer: &recordingObserver{},
	}
	var backends []models.Backend
	for _, id := range ids {
		switch id {
		case models.Tree:
			backends = append(backends, f.tree)
		case models.Additive:
			backends = append(backends, f.additive)
		}
	}
	f.loader.Set(1, "revenue", linearHistory(90))
	f.orch = New(f.loader, f.repo, models.NewRegistry(backends...), WithLogger(discard), WithObserver(f.observer))
	return f
}

func TestOrchestrator_TrainsOnceThenReuses(t *testing.T) {
	f := newFixture(t, models.Tree, models.Additive)
	ctx := context.Background()
	req := Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(7)}

	first, err := f.orch.Forecast(ctx, req)
	if err != nil {
		t.Fatalf("first Forecast() error: %v", err)
	}
	if first.BackendUsed != models.Tree {
		t.Errorf("BackendUsed = %q, want tree", first.BackendUsed)
	}
	if got := f.tree.trains.Load(); got != 1 {
		t.Fatalf("trains after first call = %d, want 1", got)
	}

	key := models.Key{BusinessID: 1, Metric: "revenue", Backend: models.Tree}
	if ok, _ := f.repo.Exists(ctx, key); !ok {
		t.Fatal("artifact should exist after the first call")
	}

	second, err := f.orch.Forecast(ctx, req)
	if err != nil {
		t.Fatalf("second Forecast() error: %v", err)
	}
	if got := f.tree.trains.Load(); got != 1 {
		t.Errorf("trains after second call = %d, want 1", got)
	}

	j1, _ := json.Marshal(first.Points)
	j2, _ := json.Marshal(second.Points)
	if string(j1) != string(j2) {
		t.Error("forecasts from the trained and the reloaded artifact differ")
	}
	if f.additive.trains.Load() != 0 {
		t.Error("additive backend should not have been trained")
	}
}

func TestOrchestrator_ResultShape(t *testing.T) {
	f := newFixture(t, models.Tree)
	res, err := f.orch.Forecast(context.Background(), Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(7)})
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}

	if res.BusinessID != 1 || res.MetricName != "revenue" || res.Horizon != 7 {
		t.Errorf("result header = %+v", res)
	}
	if len(res.Points) != 7 {
		t.Fatalf("len(Points) = %d, want 7", len(res.Points))
	}
	last := linearHistory(90)[89].Date
	for i, p := range res.Points {
		if want := last.AddDate(0, 0, i+1); !p.Date.Equal(want) {
			t.Errorf("point[%d].Date = %v, want %v", i, p.Date, want)
		}
		if want := 190 + float64(i); p.Value < want*0.95 || p.Value > want*1.05 {
			t.Errorf("point[%d] = %.2f, want within 5%% of %.0f", i, p.Value, want)
		}
	}
	if res.TrainingMetrics == nil || res.TrainingMetrics.TrainSamples != 48 {
		t.Errorf("TrainingMetrics = %+v", res.TrainingMetrics)
	}
	if len(f.observer.trains) != 1 || f.observer.trains[0] != "tree/on_demand" {
		t.Errorf("observed trains = %v", f.observer.trains)
	}
	if len(f.observer.horizons) != 1 || f.observer.horizons[0] != 7 {
		t.Errorf("observed horizons = %v", f.observer.horizons)
	}
}

func TestOrchestrator_AutoPrefersExistingArtifact(t *testing.T) {
	f := newFixture(t, models.Tree, models.Additive)
	ctx := context.Background()

	// Only the additive backend has been trained for this key.
	if _, err := f.orch.Train(ctx, 1, "revenue", "additive"); err != nil {
		t.Fatalf("Train() error: %v", err)
	}

	res, err := f.orch.Forecast(ctx, Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(5), Backend: "auto"})
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if res.BackendUsed != models.Additive {
		t.Errorf("BackendUsed = %q, want additive", res.BackendUsed)
	}
	if f.tree.trains.Load() != 0 {
		t.Error("tree backend should not be trained when additive already has an artifact")
	}
	if res.Points[0].LowerBound == nil {
		t.Error("additive points should carry bounds")
	}

	// Once the tree backend is also trained, it wins.
	if _, err := f.orch.Train(ctx, 1, "revenue", "tree"); err != nil {
		t.Fatalf("Train(tree) error: %v", err)
	}
	res, err = f.orch.Forecast(ctx, Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(5)})
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if res.BackendUsed != models.Tree {
		t.Errorf("BackendUsed = %q, want tree", res.BackendUsed)
	}
}

func TestOrchestrator_AutoFallsBackToAdditive(t *testing.T) {
	f := newFixture(t, models.Additive)
	res, err := f.orch.Forecast(context.Background(), Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(3)})
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if res.BackendUsed != models.Additive {
		t.Errorf("BackendUsed = %q, want additive", res.BackendUsed)
	}
}

func TestOrchestrator_BackendErrors(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, models.Additive)
	_, err := f.orch.Forecast(ctx, Request{BusinessID: 1, MetricName: "revenue", Backend: "tree"})
	var unsupported *UnsupportedBackendError
	if !errors.As(err, &unsupported) || unsupported.Backend != models.Tree {
		t.Errorf("Forecast(tree) error = %v, want UnsupportedBackendError{tree}", err)
	}
	if _, err := f.orch.Train(ctx, 1, "revenue", "tree"); !errors.Is(err, ErrUnsupportedBackend) {
		t.Errorf("Train(tree) error = %v, want unsupported backend", err)
	}

	empty := newFixture(t)
	if _, err := empty.orch.Forecast(ctx, Request{BusinessID: 1, MetricName: "revenue"}); !errors.Is(err, ErrNoBackendAvailable) {
		t.Errorf("Forecast(auto, no backends) error = %v, want ErrNoBackendAvailable", err)
	}
	if _, err := empty.orch.Train(ctx, 1, "revenue", ""); !errors.Is(err, ErrNoBackendAvailable) {
		t.Errorf("Train(auto, no backends) error = %v, want ErrNoBackendAvailable", err)
	}
}

func TestOrchestrator_DataErrorsPassThrough(t *testing.T) {
	f := newFixture(t, models.Tree)
	ctx := context.Background()

	_, err := f.orch.Forecast(ctx, Request{BusinessID: 2, MetricName: "revenue"})
	var noData *series.NoDataError
	if !errors.As(err, &noData) || noData.BusinessID != 2 {
		t.Errorf("Forecast(unknown key) error = %v, want NoDataError", err)
	}

	f.loader.Set(3, "revenue", linearHistory(29))
	_, err = f.orch.Forecast(ctx, Request{BusinessID: 3, MetricName: "revenue"})
	var insufficient *features.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Forecast(29 obs) error = %v, want InsufficientDataError", err)
	}
	if !strings.Contains(err.Error(), "29 < 30") {
		t.Errorf("error %q should mention 29 < 30", err)
	}
	if ok, _ := f.repo.Exists(ctx, models.Key{BusinessID: 3, Metric: "revenue", Backend: models.Tree}); ok {
		t.Error("failed training must not leave an artifact")
	}

	_, err = f.orch.Forecast(ctx, Request{BusinessID: 0, MetricName: "revenue"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Forecast(invalid) error = %v, want ErrInvalidRequest", err)
	}
}

func TestOrchestrator_SchemaMismatchSurfaces(t *testing.T) {
	f := newFixture(t, models.Tree)
	ctx := context.Background()

	a, err := f.orch.Train(ctx, 1, "revenue", "tree")
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	a.FeatureOrder = append(a.FeatureOrder[:len(a.FeatureOrder)-1], "lag_400")
	if err := f.repo.Save(ctx, a.Key, a); err != nil {
		t.Fatal(err)
	}

	_, err = f.orch.Forecast(ctx, Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(3)})
	if !errors.Is(err, features.ErrSchemaMismatch) {
		t.Fatalf("Forecast() error = %v, want ErrSchemaMismatch", err)
	}
	found := false
	for _, e := range f.observer.errors {
		found = found || e == "model/schema_mismatch"
	}
	if !found {
		t.Errorf("observed errors = %v, want model/schema_mismatch", f.observer.errors)
	}
}

func TestOrchestrator_ConcurrentRequestsShareTraining(t *testing.T) {
	f := newFixture(t, models.Tree)
	f.tree.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.Forecast(context.Background(), Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(3)}); err != nil {
				t.Errorf("Forecast() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.tree.trains.Load(); got != 1 {
		t.Errorf("trains = %d, want 1 shared training run", got)
	}
}

func TestOrchestrator_TrainJoinsOnDemandTraining(t *testing.T) {
	f := newFixture(t, models.Tree)
	f.tree.delay = 200 * time.Millisecond
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Forecast(ctx, Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(3), Backend: "tree"})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.tree.trains.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("on-demand training never started")
		}
		time.Sleep(time.Millisecond)
	}

	a, err := f.orch.Train(ctx, 1, "revenue", "tree")
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	if a == nil || a.Backend != models.Tree {
		t.Fatalf("Train() artifact = %+v, want tree artifact", a)
	}
	if err := <-done; err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if got := f.tree.trains.Load(); got != 1 {
		t.Errorf("trains = %d, want 1 shared training run", got)
	}
}

func TestOrchestrator_TrainOverwrites(t *testing.T) {
	f := newFixture(t, models.Tree)
	ctx := context.Background()

	first, err := f.orch.Train(ctx, 1, "revenue", "auto")
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	if first.Backend != models.Tree || first.StoragePath == "" {
		t.Errorf("artifact = %+v", first.Key)
	}

	f.loader.Set(1, "revenue", linearHistory(120))
	second, err := f.orch.Train(ctx, 1, "revenue", "tree")
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	if second.Metrics.TrainSamples <= first.Metrics.TrainSamples {
		t.Errorf("retrain used %d samples, want more than %d", second.Metrics.TrainSamples, first.Metrics.TrainSamples)
	}
	if f.repo.Len() != 1 {
		t.Errorf("repository holds %d artifacts, want 1", f.repo.Len())
	}
	if f.tree.trains.Load() != 2 {
		t.Errorf("trains = %d, want 2", f.tree.trains.Load())
	}

	if _, err := f.orch.Train(ctx, 1, "bad name", "tree"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Train(bad metric) error = %v, want ErrInvalidRequest", err)
	}
}

func TestOrchestrator_ModelsAndDelete(t *testing.T) {
	f := newFixture(t, models.Tree, models.Additive)
	ctx := context.Background()

	for _, b := range []string{"tree", "additive"} {
		if _, err := f.orch.Train(ctx, 1, "revenue", b); err != nil {
			t.Fatalf("Train(%s) error: %v", b, err)
		}
	}

	infos, err := f.orch.Models(ctx)
	if err != nil {
		t.Fatalf("Models() error: %v", err)
	}
	if len(infos) != 2 || infos[0].Backend != models.Additive || infos[1].Backend != models.Tree {
		t.Fatalf("Models() = %+v", infos)
	}
	if infos[1].TrainedAt.IsZero() || len(infos[1].FeatureOrder) == 0 {
		t.Errorf("tree model info incomplete: %+v", infos[1])
	}

	key := models.Key{BusinessID: 1, Metric: "revenue", Backend: models.Tree}
	deleted, err := f.orch.DeleteModel(ctx, key)
	if err != nil || !deleted {
		t.Fatalf("DeleteModel() = %v, %v", deleted, err)
	}
	deleted, err = f.orch.DeleteModel(ctx, key)
	if err != nil || deleted {
		t.Errorf("second DeleteModel() = %v, %v, want false", deleted, err)
	}

	// Auto now resolves to the remaining additive artifact.
	res, err := f.orch.Forecast(ctx, Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(2)})
	if err != nil {
		t.Fatal(err)
	}
	if res.BackendUsed != models.Additive {
		t.Errorf("BackendUsed = %q, want additive", res.BackendUsed)
	}
}

func TestOrchestrator_Spans(t *testing.T) {
	f := newFixture(t, models.Tree)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	orch := New(f.loader, f.repo, models.NewRegistry(f.tree), WithLogger(discard), WithTracerProvider(tp))

	if _, err := orch.Forecast(context.Background(), Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(3)}); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	got := strings.Join(names, ",")
	for _, want := range []string{"forecast.load", "forecast.train", "forecast.predict", "forecast.Forecast"} {
		if !strings.Contains(got, want) {
			t.Errorf("spans %v missing %s", names, want)
		}
	}
}

func TestForecast_InfiniteObservationIsFilled(t *testing.T) {
	f := newFixture(t, models.Tree, models.Additive)
	history := linearHistory(90)
	history[50].Value = math.Inf(1)
	f.loader.Set(1, "revenue", history)

	for _, backend := range []string{"tree", "additive"} {
		res, err := f.orch.Forecast(context.Background(), Request{BusinessID: 1, MetricName: "revenue", Horizon: Days(3), Backend: backend})
		if err != nil {
			t.Fatalf("%s: Forecast() error: %v", backend, err)
		}
		for _, p := range res.Points {
			if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
				t.Errorf("%s: non-finite forecast %v", backend, p.Value)
			}
		}
	}
}
