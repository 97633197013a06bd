package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/pkg/config"
	"github.com/mglvsky/pairscan/pkg/types"
)

func testMarket() types.MarketInfo {
	start := time.Unix(1770356700, 0).UTC()
	return types.MarketInfo{
		MarketID:       "btc-updown-15m-1770356700",
		ConditionID:    "0xabc",
		CryptoAsset:    "btc",
		YesTokenID:     "111",
		NoTokenID:      "222",
		StartTime:      start,
		SettlementTime: start.Add(15 * time.Minute),
		TickSizePoints: 1,
		Active:         true,
	}
}

const testConfigYAML = `
parameter_sets:
  - name: baseline
    s0_points: 5
    delta_points: 3
    cycle_interval_seconds: 2
  - name: aggressive
    s0_points: 10
    delta_points: 5
    cycle_interval_seconds: 1
    stop_loss_points: 20
    stop_loss_enabled: true

markets:
  crypto_assets: [btc]
`

func writeTestConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func testAppConfig(t *testing.T) *config.Config {
	return &config.Config{
		StorageBackend:  "console",
		ConfigFile:      writeTestConfig(t),
		GammaAPIURL:     "https://gamma-api.invalid",
		CLOBAPIURL:      "https://clob.invalid",
		WSURL:           "wss://ws.invalid",
		EnableSnapshots: true,
		EnableLifecycle: true,
		Logger:          zap.NewNop(),
	}
}

func TestNew_WiresComponentsAndRegistersSets(t *testing.T) {
	a, err := New(testAppConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.store.Close()

	if a.writer == nil || a.supervisor == nil || a.httpServer == nil || a.discovery == nil {
		t.Fatal("component left unwired")
	}
	if len(a.sets) != 2 {
		t.Fatalf("sets = %d, want 2", len(a.sets))
	}
	for _, set := range a.sets {
		if set.ID == 0 {
			t.Fatalf("parameter set %q has no database ID", set.Name)
		}
	}
	if a.sets[0].Name != "baseline" {
		t.Fatalf("primary set = %q, want baseline", a.sets[0].Name)
	}
}

func TestNew_FailsWithoutConfigFile(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestNewMonitor_BuildsRunnerForMarket(t *testing.T) {
	a, err := New(testAppConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.store.Close()

	runner, err := a.newMonitor(testMarket())
	if err != nil {
		t.Fatalf("newMonitor: %v", err)
	}
	if got := runner.Market().MarketID; got != "btc-updown-15m-1770356700" {
		t.Fatalf("market = %q", got)
	}
}

func TestRun_DrainsOnCancelledContext(t *testing.T) {
	a, err := New(testAppConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not drain")
	}
}
