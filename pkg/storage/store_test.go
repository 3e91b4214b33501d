package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HatiCode/bizcast/pkg/models"
)

func testArtifact(key models.Key, mae float64) *models.Artifact {
	test := 12
	return &models.Artifact{
		Key:          key,
		TrainedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FeatureOrder: []string{"day_of_week", "lag_1"},
		Metrics:      models.TrainingMetrics{MAE: mae, RMSE: mae * 1.5, TrainSamples: 48, TestSamples: &test},
		State:        json.RawMessage(`{"model":{"learning_rate":0.1}}`),
	}
}

// repositories returns a fresh instance of every local implementation.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	file, err := NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository() error: %v", err)
	}
	cachedFile, err := NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository() error: %v", err)
	}
	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"file":   file,
		"cached": NewCachedRepository(cachedFile, 8, time.Minute),
	}
}

func TestRepository_SaveLoad(t *testing.T) {
	key := models.Key{BusinessID: 42, Metric: "revenue", Backend: models.Tree}

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a := testArtifact(key, 3.5)
			if err := repo.Save(ctx, key, a); err != nil {
				t.Fatalf("Save() error: %v", err)
			}
			if a.StoragePath == "" {
				t.Error("Save() should set StoragePath")
			}

			got, err := repo.Load(ctx, key)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if got.Key != key {
				t.Errorf("Key = %+v, want %+v", got.Key, key)
			}
			if got.StoragePath != a.StoragePath {
				t.Errorf("StoragePath = %q, want %q", got.StoragePath, a.StoragePath)
			}
			if !got.TrainedAt.Equal(a.TrainedAt) {
				t.Errorf("TrainedAt = %v, want %v", got.TrainedAt, a.TrainedAt)
			}
			if got.Metrics.MAE != 3.5 || got.Metrics.TestSamples == nil || *got.Metrics.TestSamples != 12 {
				t.Errorf("Metrics = %+v", got.Metrics)
			}
			if strings.Join(got.FeatureOrder, ",") != "day_of_week,lag_1" {
				t.Errorf("FeatureOrder = %v", got.FeatureOrder)
			}
			if string(got.State) != string(a.State) {
				t.Errorf("State = %s, want %s", got.State, a.State)
			}

			ok, err := repo.Exists(ctx, key)
			if err != nil || !ok {
				t.Errorf("Exists() = %v, %v, want true", ok, err)
			}
		})
	}
}

func TestRepository_SaveOverwrites(t *testing.T) {
	key := models.Key{BusinessID: 7, Metric: "orders", Backend: models.Additive}

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.Save(ctx, key, testArtifact(key, 1)); err != nil {
				t.Fatalf("Save() error: %v", err)
			}
			if err := repo.Save(ctx, key, testArtifact(key, 2)); err != nil {
				t.Fatalf("Save() error: %v", err)
			}

			got, err := repo.Load(ctx, key)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if got.Metrics.MAE != 2 {
				t.Errorf("MAE = %v, want the newest artifact (2)", got.Metrics.MAE)
			}
			keys, _ := repo.Keys(ctx)
			if len(keys) != 1 {
				t.Errorf("Keys() = %v, want a single key", keys)
			}
		})
	}
}

func TestRepository_NotFound(t *testing.T) {
	key := models.Key{BusinessID: 1, Metric: "missing", Backend: models.Tree}

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := repo.Load(ctx, key)
			var notFound *models.ModelNotFoundError
			if !errors.As(err, &notFound) {
				t.Fatalf("Load() error = %v, want ModelNotFoundError", err)
			}
			if notFound.Key != key {
				t.Errorf("error key = %+v, want %+v", notFound.Key, key)
			}
			if !errors.Is(err, models.ErrModelNotFound) {
				t.Error("error should match ErrModelNotFound")
			}

			ok, err := repo.Exists(ctx, key)
			if err != nil || ok {
				t.Errorf("Exists() = %v, %v, want false", ok, err)
			}
			deleted, err := repo.Delete(ctx, key)
			if err != nil || deleted {
				t.Errorf("Delete() = %v, %v, want false", deleted, err)
			}
		})
	}
}

func TestRepository_KeysAndDelete(t *testing.T) {
	keys := []models.Key{
		{BusinessID: 2, Metric: "revenue", Backend: models.Tree},
		{BusinessID: 1, Metric: "orders.count", Backend: models.Additive},
		{BusinessID: 1, Metric: "revenue", Backend: models.Tree},
	}

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range keys {
				if err := repo.Save(ctx, k, testArtifact(k, 1)); err != nil {
					t.Fatalf("Save(%s) error: %v", k, err)
				}
			}

			got, err := repo.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys() error: %v", err)
			}
			want := []string{"additive_1_orders.count", "tree_1_revenue", "tree_2_revenue"}
			if len(got) != len(want) {
				t.Fatalf("Keys() = %v, want %v", got, want)
			}
			for i := range want {
				if got[i].String() != want[i] {
					t.Errorf("Keys()[%d] = %s, want %s", i, got[i], want[i])
				}
			}

			deleted, err := repo.Delete(ctx, keys[0])
			if err != nil || !deleted {
				t.Fatalf("Delete() = %v, %v, want true", deleted, err)
			}
			if _, err := repo.Load(ctx, keys[0]); !errors.Is(err, models.ErrModelNotFound) {
				t.Errorf("Load() after delete error = %v, want not found", err)
			}
			if got, _ := repo.Keys(ctx); len(got) != 2 {
				t.Errorf("Keys() after delete = %v", got)
			}
		})
	}
}

func TestRepository_RejectsInvalidInput(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bad := models.Key{BusinessID: 1, Metric: "has space", Backend: models.Tree}
			if err := repo.Save(ctx, bad, testArtifact(bad, 1)); err == nil {
				t.Error("Save() with invalid metric name expected error")
			}
			good := models.Key{BusinessID: 1, Metric: "revenue", Backend: models.Tree}
			if err := repo.Save(ctx, good, nil); err == nil {
				t.Error("Save(nil) expected error")
			}
		})
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	key := models.Key{BusinessID: 1, Metric: "revenue", Backend: models.Tree}

	a := testArtifact(key, 1)
	if err := repo.Save(ctx, key, a); err != nil {
		t.Fatal(err)
	}
	a.FeatureOrder[0] = "mutated"

	got, _ := repo.Load(ctx, key)
	got.State[0] = 'X'

	again, _ := repo.Load(ctx, key)
	if again.FeatureOrder[0] != "day_of_week" || again.State[0] != '{' {
		t.Error("stored artifact was modified through a caller's copy")
	}
	if got.StoragePath != "memory://tree_1_revenue" {
		t.Errorf("StoragePath = %q", got.StoragePath)
	}
}

func TestMemoryRepository_Concurrent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := models.Key{BusinessID: int64(i%5 + 1), Metric: "revenue", Backend: models.Tree}
			if err := repo.Save(ctx, key, testArtifact(key, float64(i))); err != nil {
				t.Errorf("Save() error: %v", err)
			}
			if _, err := repo.Load(ctx, key); err != nil {
				t.Errorf("Load() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if repo.Len() != 5 {
		t.Errorf("Len() = %d, want 5", repo.Len())
	}
}

func TestMemoryRepository_ContextCanceled(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	key := models.Key{BusinessID: 1, Metric: "revenue", Backend: models.Tree}
	if err := repo.Save(ctx, key, testArtifact(key, 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("Save() error = %v, want context.Canceled", err)
	}
	if _, err := repo.Load(ctx, key); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestFileRepository_Layout(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileRepository(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := models.Key{BusinessID: 9, Metric: "visits", Backend: models.Additive}

	if err := repo.Save(ctx, key, testArtifact(key, 1)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	want := filepath.Join(dir, "additive_9_visits.json")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("artifact not written to %s: %v", want, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("artifact is not JSON: %v", err)
	}
	for _, field := range []string{"backend", "business_id", "metric_name", "trained_at", "training_metrics", "state"} {
		if _, ok := doc[field]; !ok {
			t.Errorf("artifact JSON missing %q", field)
		}
	}

	// Stray files are ignored when listing.
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{}"), 0o644)
	keys, err := repo.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("Keys() = %v, want [%s]", keys, key)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}
}

func TestFileRepository_CorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	repo, _ := NewFileRepository(dir)
	key := models.Key{BusinessID: 1, Metric: "revenue", Backend: models.Tree}
	os.WriteFile(filepath.Join(dir, key.String()+".json"), []byte("{not json"), 0o644)

	_, err := repo.Load(context.Background(), key)
	if err == nil || errors.Is(err, models.ErrModelNotFound) {
		t.Errorf("Load(corrupt) error = %v, want decode error", err)
	}
}

// countingRepository counts loads reaching the inner repository.
type countingRepository struct {
	Repository
	mu    sync.Mutex
	loads int
}

func (c *countingRepository) Load(ctx context.Context, key models.Key) (*models.Artifact, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.Repository.Load(ctx, key)
}

func TestCachedRepository_ServesFromCache(t *testing.T) {
	inner := &countingRepository{Repository: NewMemoryRepository()}
	repo := NewCachedRepository(inner, 2, time.Minute)
	ctx := context.Background()

	key := models.Key{BusinessID: 1, Metric: "revenue", Backend: models.Tree}
	if err := repo.Save(ctx, key, testArtifact(key, 1)); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := repo.Load(ctx, key); err != nil {
			t.Fatal(err)
		}
	}
	if inner.loads != 0 {
		t.Errorf("inner loads = %d, want 0 after write-through", inner.loads)
	}

	// Fill past capacity so key is evicted and reloaded from inner.
	for i := 2; i <= 3; i++ {
		k := models.Key{BusinessID: int64(i), Metric: "revenue", Backend: models.Tree}
		repo.Save(ctx, k, testArtifact(k, 1))
	}
	if _, err := repo.Load(ctx, key); err != nil {
		t.Fatal(err)
	}
	if inner.loads != 1 {
		t.Errorf("inner loads = %d, want 1 after eviction", inner.loads)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg     Config
		want    string
		wantErr bool
	}{
		{cfg: Config{}, want: "*storage.MemoryRepository"},
		{cfg: Config{Backend: "memory"}, want: "*storage.MemoryRepository"},
		{cfg: Config{Backend: "file", Dir: t.TempDir()}, want: "*storage.FileRepository"},
		{cfg: Config{Backend: "file", Dir: t.TempDir(), CacheSize: 10}, want: "*storage.CachedRepository"},
		{cfg: Config{Backend: "file"}, wantErr: true},
		{cfg: Config{Backend: "redis"}, wantErr: true},
		{cfg: Config{Backend: "s3"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.cfg.Backend, func(t *testing.T) {
			repo, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer Close(repo)
			if got := fmt.Sprintf("%T", repo); got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
		})
	}
}

type pingRepository struct {
	Repository
	err error
}

func (p pingRepository) Ping(context.Context) error { return p.err }

func TestPing(t *testing.T) {
	ctx := context.Background()
	if err := Ping(ctx, NewMemoryRepository()); err != nil {
		t.Errorf("Ping(memory) = %v", err)
	}

	down := errors.New("connection refused")
	cached := NewCachedRepository(pingRepository{Repository: NewMemoryRepository(), err: down}, 4, time.Minute)
	if err := Ping(ctx, cached); !errors.Is(err, down) {
		t.Errorf("Ping(cached) = %v, want inner error", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := Ping(canceled, NewMemoryRepository()); !errors.Is(err, context.Canceled) {
		t.Errorf("Ping(canceled) = %v", err)
	}
}

func TestRedisRepository_ClosedClient(t *testing.T) {
	// A closed repository has released its client; no Redis needed.
	r := &RedisRepository{}
	ctx := context.Background()
	key := models.Key{BusinessID: 1, Metric: "revenue", Backend: models.Tree}

	checks := map[string]error{}
	_, checks["Exists"] = r.Exists(ctx, key)
	checks["Save"] = r.Save(ctx, key, testArtifact(key, 1))
	_, checks["Load"] = r.Load(ctx, key)
	_, checks["Keys"] = r.Keys(ctx)
	_, checks["Delete"] = r.Delete(ctx, key)
	checks["Ping"] = r.Ping(ctx)

	for op, err := range checks {
		if !errors.Is(err, ErrRepositoryClosed) {
			t.Errorf("%s() after Close error = %v, want ErrRepositoryClosed", op, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() on closed repository error = %v", err)
	}
}
