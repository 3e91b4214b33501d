package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/HatiCode/bizcast/cmd/forecaster/rpc"
	"github.com/HatiCode/bizcast/pkg/adapters"
	"github.com/HatiCode/bizcast/pkg/features"
	"github.com/HatiCode/bizcast/pkg/forecast"
	"github.com/HatiCode/bizcast/pkg/models"
	"github.com/HatiCode/bizcast/pkg/series"
	"github.com/HatiCode/bizcast/pkg/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func history(n int) []series.Observation {
	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	obs := make([]series.Observation, n)
	for i := range obs {
		obs[i] = series.Observation{Date: start.AddDate(0, 0, i), Value: 100 + float64(i)}
	}
	return obs
}

// startForecaster serves a forecaster backed by static data on a loopback
// port and returns its address.
func startForecaster(t *testing.T) string {
	t.Helper()
	registry, err := models.BuildRegistry([]string{"tree", "additive"}, features.DefaultConfig(),
		models.DefaultBoostParams(), models.DefaultAdditiveParams())
	if err != nil {
		t.Fatal(err)
	}
	loader := adapters.NewStaticLoader()
	loader.Set(1, "revenue", history(90))
	orch := forecast.New(loader, storage.NewMemoryRepository(), registry, forecast.WithLogger(discard))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	gs := grpc.NewServer()
	rpc.Register(gs, rpc.NewServer(orch, discard))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return lis.Addr().String()
}

func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--addr", addr, "--timeout", "30s"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainAndList(t *testing.T) {
	addr := startForecaster(t)

	out, err := run(t, addr, "train", "1", "revenue", "--backend", "tree")
	if err != nil {
		t.Fatalf("train error: %v", err)
	}
	if !strings.Contains(out, "trained tree_1_revenue") || !strings.Contains(out, "train_samples=48") {
		t.Errorf("train output = %q", out)
	}

	out, err = run(t, addr, "models", "list")
	if err != nil {
		t.Fatalf("models list error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "KEY") || !strings.HasPrefix(lines[1], "tree_1_revenue") {
		t.Errorf("models list output = %q", out)
	}

	out, err = run(t, addr, "models", "list", "-o", "json")
	if err != nil {
		t.Fatalf("models list json error: %v", err)
	}
	var infos []map[string]any
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(infos) != 1 || infos[0]["backend"] != "tree" {
		t.Errorf("infos = %v", infos)
	}
}

func TestForecast(t *testing.T) {
	addr := startForecaster(t)

	out, err := run(t, addr, "forecast", "1", "revenue", "--horizon", "3")
	if err != nil {
		t.Fatalf("forecast error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 {
		t.Fatalf("forecast output has %d lines, want 5: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], "backend tree horizon 3") {
		t.Errorf("summary = %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "2024-04-04") {
		t.Errorf("first row = %q", lines[2])
	}

	out, err = run(t, addr, "forecast", "1", "revenue", "--horizon", "2", "--backend", "additive", "-o", "json")
	if err != nil {
		t.Fatalf("forecast json error: %v", err)
	}
	var res struct {
		BackendUsed string            `json:"backend_used"`
		Points      []json.RawMessage `json:"points"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.BackendUsed != "additive" || len(res.Points) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestModelsDelete(t *testing.T) {
	addr := startForecaster(t)

	if _, err := run(t, addr, "train", "1", "revenue"); err != nil {
		t.Fatalf("train error: %v", err)
	}
	out, err := run(t, addr, "models", "delete", "tree_1_revenue")
	if err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if strings.TrimSpace(out) != "deleted tree_1_revenue" {
		t.Errorf("delete output = %q", out)
	}

	_, err = run(t, addr, "models", "delete", "tree_1_revenue")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("second delete error = %v, want not found", err)
	}
}

func TestCommandErrors(t *testing.T) {
	addr := startForecaster(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad business id", []string{"forecast", "abc", "revenue"}},
		{"zero business id", []string{"train", "0", "revenue"}},
		{"missing args", []string{"forecast", "1"}},
		{"bad output", []string{"models", "list", "-o", "yaml"}},
		{"unknown series", []string{"forecast", "7", "revenue"}},
		{"bad horizon", []string{"forecast", "1", "revenue", "--horizon", "400"}},
		{"bad key", []string{"models", "delete", "nope"}},
		{"missing tls ca", []string{"--tls-ca", "/nonexistent/ca.pem", "models", "list"}},
		{"tls cert without key", []string{"--tls-cert", "/nonexistent/client.pem", "models", "list"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, addr, tt.args...); err == nil {
				t.Errorf("%v: expected error", tt.args)
			}
		})
	}
}
