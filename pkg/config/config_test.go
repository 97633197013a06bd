package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pairscan_test")

	logger := zap.NewNop()
	cfg, err := Load(logger)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StorageBackend != "postgres" {
		t.Errorf("StorageBackend = %q, want postgres", cfg.StorageBackend)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if !cfg.EnableSnapshots {
		t.Error("EnableSnapshots should default to true")
	}
}

func TestLoadPostgresRequiresURL(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(zap.NewNop()); err == nil {
		t.Error("expected error for postgres backend without DATABASE_URL")
	}
}

func TestLoadUnknownBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "redis")

	if _, err := Load(zap.NewNop()); err == nil {
		t.Error("expected error for unknown storage backend")
	}
}

func TestLoadSQLiteBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/test.db")

	cfg, err := Load(zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SQLitePath != "/tmp/test.db" {
		t.Errorf("SQLitePath = %q", cfg.SQLitePath)
	}
}

const testYAML = `
parameter_sets:
  - name: baseline
    s0_points: 5
    delta_points: 3
    cycle_interval_seconds: 2
    stop_loss_points: 10
    stop_loss_enabled: true
  - name: fixed-count
    s0_points: 8
    delta_points: 5
    sampling_mode: FIXED_COUNT
    cycles_per_market: 150
markets:
  crypto_assets: [btc, eth]
quality:
  feed_gap_threshold_seconds: 3.5
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeTempConfig(t, testYAML))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if len(cfg.ParameterSets) != 2 {
		t.Fatalf("got %d parameter sets, want 2", len(cfg.ParameterSets))
	}
	if cfg.Markets.MarketType != "updown-15m" {
		t.Errorf("MarketType = %q, want updown-15m", cfg.Markets.MarketType)
	}
	if cfg.Markets.DiscoveryPollIntervalSeconds != 60 {
		t.Errorf("DiscoveryPollIntervalSeconds = %d, want 60", cfg.Markets.DiscoveryPollIntervalSeconds)
	}
	if got := cfg.FeedGapThreshold(); got != 3500*time.Millisecond {
		t.Errorf("FeedGapThreshold = %v, want 3.5s", got)
	}
	if got := cfg.HeartbeatInterval(); got != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", got)
	}
}

func TestToParameterSets(t *testing.T) {
	cfg, err := LoadFile(writeTempConfig(t, testYAML))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	sets, err := cfg.ToParameterSets()
	if err != nil {
		t.Fatalf("ToParameterSets: %v", err)
	}

	baseline := sets[0]
	if baseline.TriggerRule != types.TriggerAskTouch {
		t.Errorf("TriggerRule = %q, want ASK_TOUCH", baseline.TriggerRule)
	}
	if baseline.ReferenceSource != types.RefMidpoint {
		t.Errorf("ReferenceSource = %q, want MIDPOINT", baseline.ReferenceSource)
	}
	if baseline.SamplingMode != types.SamplingFixedInterval {
		t.Errorf("SamplingMode = %q, want FIXED_INTERVAL", baseline.SamplingMode)
	}
	if baseline.CycleInterval != 2*time.Second {
		t.Errorf("CycleInterval = %v, want 2s", baseline.CycleInterval)
	}
	if baseline.PairCapPoints() != 97 {
		t.Errorf("PairCapPoints = %d, want 97", baseline.PairCapPoints())
	}

	fixedCount := sets[1]
	if fixedCount.SamplingMode != types.SamplingFixedCount {
		t.Errorf("SamplingMode = %q, want FIXED_COUNT", fixedCount.SamplingMode)
	}
	if fixedCount.CyclesPerMarket != 150 {
		t.Errorf("CyclesPerMarket = %d, want 150", fixedCount.CyclesPerMarket)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no-parameter-sets", yaml: "markets:\n  crypto_assets: [btc]\n"},
		{name: "no-assets", yaml: "parameter_sets:\n  - name: a\n    s0_points: 5\n    delta_points: 3\n"},
		{
			name: "duplicate-names",
			yaml: `
parameter_sets:
  - name: dup
    s0_points: 5
    delta_points: 3
    cycle_interval_seconds: 2
  - name: dup
    s0_points: 6
    delta_points: 3
    cycle_interval_seconds: 2
markets:
  crypto_assets: [btc]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFile(writeTempConfig(t, tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestToParameterSetsRejectsOutOfRange(t *testing.T) {
	badYAML := `
parameter_sets:
  - name: too-wide
    s0_points: 75
    delta_points: 3
    cycle_interval_seconds: 2
markets:
  crypto_assets: [btc]
`
	cfg, err := LoadFile(writeTempConfig(t, badYAML))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, err := cfg.ToParameterSets(); err == nil {
		t.Error("expected validation error for s0_points out of range")
	}
}
