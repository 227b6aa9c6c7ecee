package config_test

import (
	"GasFutures/internal/config"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gasfutures.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sample = `
log_level = "debug"

[engine]
persist_batch_size = 128
snapshot_interval = "30s"

[listing]
cooldown = "15m"

[[markets]]
symbol = "GAS-DEC"
contract_class = "GAS"
contract_size = 1
tick_size = 1000
initial_margin_bps = 1000
maintenance_margin_bps = 600
liquidation_fee_bps = 100
keeper_incentive_bps = 2000
max_deviation_bps = 1000
maker_fee_bps = -2
taker_fee_bps = 10
expiry = 2026-12-31T00:00:00Z

  [[markets.tiers]]
  notional_threshold = 1000000000
  initial_margin_bps = 1500
`

// ============================================================================
// Test: Load
// ============================================================================

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.PersistBatchSize != 50 {
		t.Errorf("persist batch size: got %d, want 50", cfg.Engine.PersistBatchSize)
	}
	if cfg.Listing.Cooldown.Duration != time.Hour {
		t.Errorf("cooldown: got %v, want 1h", cfg.Listing.Cooldown.Duration)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q", cfg.LogLevel)
	}
	if cfg.Engine.PersistBatchSize != 128 {
		t.Errorf("batch size: got %d", cfg.Engine.PersistBatchSize)
	}
	if cfg.Engine.SnapshotInterval.Duration != 30*time.Second {
		t.Errorf("snapshot interval: got %v", cfg.Engine.SnapshotInterval.Duration)
	}
	if cfg.Engine.DedupCapacity != 1_000_000 {
		t.Errorf("unset keys keep defaults: dedup capacity %d", cfg.Engine.DedupCapacity)
	}
	if len(cfg.Markets) != 1 || len(cfg.Markets[0].Tiers) != 1 {
		t.Fatalf("markets: %+v", cfg.Markets)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("GASFUT_PERSIST_BATCH_SIZE", "7")
	t.Setenv("GASFUT_LISTING_COOLDOWN", "2m")
	t.Setenv("GASFUT_REDIS_ENABLED", "false")
	t.Setenv("GASFUT_DEDUP_CAPACITY", "not-a-number")

	cfg, err := config.Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.PersistBatchSize != 7 {
		t.Errorf("batch size: got %d, want 7", cfg.Engine.PersistBatchSize)
	}
	if cfg.Listing.Cooldown.Duration != 2*time.Minute {
		t.Errorf("cooldown: got %v", cfg.Listing.Cooldown.Duration)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled")
	}
	if cfg.Engine.DedupCapacity != 1_000_000 {
		t.Errorf("unparseable override must be ignored, got %d", cfg.Engine.DedupCapacity)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// ============================================================================
// Test: Validate and bootstrap listings
// ============================================================================

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := config.Defaults()
	cfg.Engine.PersistBatchSize = 0
	cfg.Markets = []config.MarketConfig{
		{Symbol: "GAS-DEC"},
		{Symbol: "GAS-DEC", ContractClass: "GAS", Expiry: time.Now()},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"persist_batch_size", "contract_class is required", "expiry is required", "duplicate symbol"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestMarketConfig_ListMarket(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m := cfg.Markets[0]

	cmd := m.ListMarket(42)
	if cmd.Symbol != "GAS-DEC" || cmd.ContractClass != "GAS" || cmd.TimestampUs != 42 {
		t.Errorf("listing: %+v", cmd)
	}
	if cmd.MakerFeeBps != -2 || cmd.TakerFeeBps != 10 {
		t.Errorf("fees: maker %d taker %d", cmd.MakerFeeBps, cmd.TakerFeeBps)
	}
	wantExpiry := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC).UnixMicro()
	if cmd.ExpiryTimestampUs != wantExpiry {
		t.Errorf("expiry: got %d, want %d", cmd.ExpiryTimestampUs, wantExpiry)
	}
	if cmd.ListingTimestampUs != 0 {
		t.Errorf("unset listing time must activate immediately, got %d", cmd.ListingTimestampUs)
	}
	if len(cmd.Tiers) != 1 || cmd.Tiers[0].InitialMarginBps != 1500 {
		t.Errorf("tiers: %+v", cmd.Tiers)
	}
	if again := m.ListMarket(99); again.RequestID != cmd.RequestID {
		t.Error("request id must be stable across restarts")
	}
}
