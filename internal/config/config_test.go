package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Scanner.MinProfitBps = 0
	cfg.Risk.MaxConcentration = 2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "min_profit_bps")
	assert.Contains(t, err.Error(), "max_concentration")
}

func TestValidateFeedSources(t *testing.T) {
	// A bus channel alone is a valid feed source for follower instances.
	cfg := Defaults()
	cfg.Feed.Enabled = true
	cfg.Feed.WSURL = ""
	cfg.Feed.BusChannel = "venue_updates"
	assert.NoError(t, cfg.Validate())

	cfg.Feed.BusChannel = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws_url or bus_channel")
}

func TestValidateTradeModeRequiresStores(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Postgres.Host = ""
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "redis: addr")

	// A DSN stands in for the discrete connection fields.
	cfg.Postgres.DSN = "postgres://u:p@db:5432/poolrunner"
	cfg.Redis.Addr = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}

func TestValidateVenues(t *testing.T) {
	cfg := Defaults()
	cfg.Venues = []VenueConfig{
		{ID: "pool-a", Kind: "pool", Base: "WETH", Quote: "USDC", Price: 100, Depth: 1000},
		{ID: "pool-a", Kind: "teleporter", Base: "WETH", Quote: "WETH", Address: "nothex"},
		{ID: "clp-1", Kind: "concentrated", Base: "WETH", Quote: "USDC", RangeLower: 100, RangeUpper: 80},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate id "pool-a"`)
	assert.Contains(t, err.Error(), "unknown kind")
	assert.Contains(t, err.Error(), "not a hex address")
	assert.Contains(t, err.Error(), "base and quote must be distinct")
	assert.Contains(t, err.Error(), "range_lower must be below range_upper")
}

func TestValidateVenueAddress(t *testing.T) {
	cfg := Defaults()
	cfg.Venues = []VenueConfig{{
		ID: "pool-a", Kind: "pool", Base: "WETH", Quote: "USDC",
		Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
	}}
	assert.NoError(t, cfg.Validate())
}

func TestValidateCycles(t *testing.T) {
	cfg := Defaults()
	cfg.Scanner.Cycles = [][]string{{"USDC", "WETH"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 3 assets")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"

[scanner]
min_profit_bps = 50
signal_ttl = "45s"
cycles = [["USDC", "WETH", "WBTC"]]

[engine]
max_retries = 5

[[venues]]
id = "pool-a"
kind = "pool"
base = "WETH"
quote = "USDC"
price = 100.0
fee_bps = 30.0
depth = 50000.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.InDelta(t, 50, cfg.Scanner.MinProfitBps, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.Scanner.SignalTTL.Duration)
	assert.Equal(t, [][]string{{"USDC", "WETH", "WBTC"}}, cfg.Scanner.Cycles)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)

	// Untouched sections keep their defaults.
	assert.InDelta(t, 0.25, cfg.Risk.MaxConcentration, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Driver.Interval.Duration)

	require.Len(t, cfg.Venues, 1)
	assert.Equal(t, "pool-a", cfg.Venues[0].ID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `mode = "paper"`)

	t.Setenv("POOLRUNNER_MODE", "monitor")
	t.Setenv("POOLRUNNER_RISK_MAX_DAILY_LOSS", "250")
	t.Setenv("POOLRUNNER_ENGINE_BACKOFF_BASE", "500ms")
	t.Setenv("POOLRUNNER_PLANNER_HOP_ASSETS", "DAI, WBTC")
	t.Setenv("POOLRUNNER_REDIS_TLS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.InDelta(t, 250, cfg.Risk.MaxDailyLoss, 1e-9)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.BackoffBase.Duration)
	assert.Equal(t, []string{"DAI", "WBTC"}, cfg.Planner.HopAssets)
	assert.True(t, cfg.Redis.TLSEnabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
