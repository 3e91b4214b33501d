package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseEngine_Overrides(t *testing.T) {
	data := []byte(`
features:
  lag_offsets: [1, 7]
  rolling_windows: [7]
tree:
  rounds: 50
additive:
  yearly_seasonality: false
  interval_width: 0.95
`)
	cfg, err := ParseEngine(data)
	if err != nil {
		t.Fatalf("ParseEngine() error: %v", err)
	}

	if !reflect.DeepEqual(cfg.Features.LagOffsets, []int{1, 7}) {
		t.Errorf("LagOffsets = %v", cfg.Features.LagOffsets)
	}
	if cfg.Features.MinTrainingSamples != 30 || cfg.Features.TrainTestSplit != 0.8 {
		t.Errorf("absent feature keys should keep defaults: %+v", cfg.Features)
	}
	if cfg.Tree.Rounds != 50 || cfg.Tree.MaxDepth != 6 {
		t.Errorf("Tree = %+v", cfg.Tree)
	}
	if cfg.Additive.YearlySeasonality || !cfg.Additive.WeeklySeasonality || cfg.Additive.IntervalWidth != 0.95 {
		t.Errorf("Additive = %+v", cfg.Additive)
	}
}

func TestParseEngine_Empty(t *testing.T) {
	cfg, err := ParseEngine(nil)
	if err != nil {
		t.Fatalf("ParseEngine(nil) error: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultEngine()) {
		t.Errorf("ParseEngine(nil) = %+v, want defaults", cfg)
	}
}

func TestParseEngine_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "unknown key", yaml: "tree:\n  depth: 3\n", wantErr: "depth"},
		{name: "zero lag", yaml: "features:\n  lag_offsets: [0]\n", wantErr: "features"},
		{name: "bad split", yaml: "features:\n  train_test_split: 1.5\n", wantErr: "split"},
		{name: "bad learning rate", yaml: "tree:\n  learning_rate: 0\n", wantErr: "tree"},
		{name: "bad interval", yaml: "additive:\n  interval_width: 1\n", wantErr: "additive"},
		{name: "not yaml", yaml: "features: [", wantErr: "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEngine([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseEngine() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEngine(t *testing.T) {
	cfg, err := LoadEngine("")
	if err != nil || cfg.Tree.Rounds != 100 {
		t.Fatalf("LoadEngine(\"\") = %+v, %v", cfg.Tree, err)
	}

	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte("tree:\n  max_depth: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadEngine(path)
	if err != nil {
		t.Fatalf("LoadEngine() error: %v", err)
	}
	if cfg.Tree.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", cfg.Tree.MaxDepth)
	}

	if _, err := LoadEngine(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestWithIntervalWidth(t *testing.T) {
	cfg, err := DefaultEngine().WithIntervalWidth("p95")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Additive.IntervalWidth != 0.95 {
		t.Errorf("IntervalWidth = %v, want 0.95", cfg.Additive.IntervalWidth)
	}
	if _, err := DefaultEngine().WithIntervalWidth("wide"); err == nil {
		t.Error("invalid width should fail")
	}
	unchanged, _ := DefaultEngine().WithIntervalWidth("")
	if unchanged.Additive.IntervalWidth != 0.8 {
		t.Errorf("empty override changed width to %v", unchanged.Additive.IntervalWidth)
	}
}
