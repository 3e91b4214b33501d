//go:build integration

package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/HatiCode/bizcast/pkg/series"
)

// setupPostgres starts PostgreSQL, creates business_metrics and returns a DSN.
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bizcast",
				"POSTGRES_PASSWORD": "bizcast",
				"POSTGRES_DB":       "bizcast",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("postgres://bizcast:bizcast@%s:%s/bizcast?sslmode=disable", host, port.Port())
}

func TestPostgresLoader_Load(t *testing.T) {
	ctx := context.Background()
	pool, err := ConnectPostgres(ctx, setupPostgres(t))
	if err != nil {
		t.Fatalf("ConnectPostgres() error: %v", err)
	}
	loader := NewPostgresLoader(pool, "")
	defer loader.Close()

	_, err = pool.Exec(ctx, `
		CREATE TABLE business_metrics (
			business_id BIGINT NOT NULL,
			metric_name TEXT NOT NULL,
			observed_on DATE NOT NULL,
			value DOUBLE PRECISION
		)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO business_metrics VALUES
			(1, 'revenue', '2024-01-02', 12),
			(1, 'revenue', '2024-01-01', 10),
			(1, 'revenue', '2024-01-03', NULL),
			(1, 'orders', '2024-01-01', 3),
			(2, 'revenue', '2024-01-01', 99)`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	obs, err := loader.Load(ctx, 1, "revenue")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(obs) != 3 {
		t.Fatalf("got %d observations, want 3", len(obs))
	}
	if obs[0].Value != 10 || obs[1].Value != 12 || !math.IsNaN(obs[2].Value) {
		t.Errorf("values = %v %v %v", obs[0].Value, obs[1].Value, obs[2].Value)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !obs[0].Date.Equal(want) {
		t.Errorf("first date = %v, want %v", obs[0].Date, want)
	}

	if _, err := loader.Load(ctx, 3, "revenue"); !errors.Is(err, series.ErrNoData) {
		t.Errorf("Load(unknown) error = %v, want no data", err)
	}
}
