// Package config defines the top-level configuration for the poolrunner
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POOLRUNNER_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Risk     RiskConfig     `toml:"risk"`
	Planner  PlannerConfig  `toml:"planner"`
	Engine   EngineConfig   `toml:"engine"`
	Driver   DriverConfig   `toml:"driver"`
	Feed     FeedConfig     `toml:"feed"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Venues   []VenueConfig  `toml:"venues"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScannerConfig holds opportunity-scanner parameters.
type ScannerConfig struct {
	MinProfitBps  float64    `toml:"min_profit_bps"`
	ProbeSize     float64    `toml:"probe_size"`     // quote units used for two-sided probe quotes
	MaxAmount     float64    `toml:"max_amount"`     // hard cap on signal input size
	DepthFraction float64    `toml:"depth_fraction"` // fraction of the shallower venue's depth
	GasEstimate   float64    `toml:"gas_estimate"`   // modeled per-leg gas cost in quote units
	SignalTTL     duration   `toml:"signal_ttl"`
	Cycles        [][]string `toml:"cycles"` // triangular 3-asset cycles, e.g. [["USDC","WETH","WBTC"]]
	Epsilon       float64    `toml:"epsilon"`
}

// RiskConfig holds risk-manager thresholds.
type RiskConfig struct {
	MaxDailyLoss       float64  `toml:"max_daily_loss"`    // quote units
	MaxPositionSize    float64  `toml:"max_position_size"` // quote units
	MaxConcentration   float64  `toml:"max_concentration"` // 0..1 fraction of portfolio
	MinConfidence      float64  `toml:"min_confidence"`    // 0..1
	MaxFeeProfitRatio  float64  `toml:"max_fee_profit_ratio"`
	MaxTradesPerWindow int      `toml:"max_trades_per_window"`
	TradeWindow        duration `toml:"trade_window"`
	MinPortfolioValue  float64  `toml:"min_portfolio_value"` // floor used for concentration math on an empty book
}

// PlannerConfig holds execution-planner parameters.
type PlannerConfig struct {
	SlippageTolerance    float64  `toml:"slippage_tolerance"` // 0..1
	MediumRiskThreshold  float64  `toml:"medium_risk_threshold"`
	HighRiskThreshold    float64  `toml:"high_risk_threshold"`
	HopAssets            []string `toml:"hop_assets"` // intermediates for multi-hop obfuscation
	DirectMaxLatency     duration `toml:"direct_max_latency"`
	MultiHopMaxLatency   duration `toml:"multi_hop_max_latency"`
	CommitRevealLatency  duration `toml:"commit_reveal_max_latency"`
	BundleMaxLatency     duration `toml:"bundle_max_latency"`
	CommitRevealDelayMin duration `toml:"commit_reveal_delay_min"`
	CommitRevealDelayMax duration `toml:"commit_reveal_delay_max"`
}

// EngineConfig holds execution-engine parameters.
type EngineConfig struct {
	MaxRetries          int      `toml:"max_retries"`
	BackoffBase         duration `toml:"backoff_base"`
	BackoffMax          duration `toml:"backoff_max"`
	ConfirmationTimeout duration `toml:"confirmation_timeout"`
	MaxConcurrentPlans  int      `toml:"max_concurrent_plans"`
	IdempotencyTTL      duration `toml:"idempotency_ttl"`
}

// DriverConfig holds control-loop parameters.
type DriverConfig struct {
	Interval           duration `toml:"interval"`
	RefreshTimeout     duration `toml:"refresh_timeout"`
	MaxParallelSignals int      `toml:"max_parallel_signals"`
}

// FeedConfig holds the venue event feed parameters.
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	WSURL   string `toml:"ws_url"`
	// BusChannel, when set, re-publishes applied updates so sibling
	// processes can follow the same feed.
	BusChannel string `toml:"bus_channel"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	MinSeverity       string `toml:"min_severity"` // info, warn, critical
}

// VenueConfig declares one monitored venue for the simulated adapter set.
type VenueConfig struct {
	ID       string  `toml:"id"`
	Kind     string  `toml:"kind"` // pool, aggregator, concentrated
	Address  string  `toml:"address"`
	Base     string  `toml:"base"`
	Quote    string  `toml:"quote"`
	Price    float64 `toml:"price"`
	FeeBps   float64 `toml:"fee_bps"`
	FixedFee float64 `toml:"fixed_fee"`
	Depth    float64 `toml:"depth"`

	RangeLower float64 `toml:"range_lower"`
	RangeUpper float64 `toml:"range_upper"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "poolrunner",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolrunner-archive",
			ForcePathStyle: true,
		},
		Scanner: ScannerConfig{
			MinProfitBps:  100,
			ProbeSize:     10,
			MaxAmount:     250,
			DepthFraction: 0.02,
			GasEstimate:   0.05,
			SignalTTL:     duration{30 * time.Second},
			Epsilon:       1e-9,
		},
		Risk: RiskConfig{
			MaxDailyLoss:       100,
			MaxPositionSize:    500,
			MaxConcentration:   0.25,
			MinConfidence:      0.3,
			MaxFeeProfitRatio:  0.5,
			MaxTradesPerWindow: 20,
			TradeWindow:        duration{10 * time.Minute},
			MinPortfolioValue:  1000,
		},
		Planner: PlannerConfig{
			SlippageTolerance:    0.005,
			MediumRiskThreshold:  0.35,
			HighRiskThreshold:    0.7,
			HopAssets:            []string{"USDC", "WETH"},
			DirectMaxLatency:     duration{10 * time.Second},
			MultiHopMaxLatency:   duration{20 * time.Second},
			CommitRevealLatency:  duration{45 * time.Second},
			BundleMaxLatency:     duration{15 * time.Second},
			CommitRevealDelayMin: duration{2 * time.Second},
			CommitRevealDelayMax: duration{8 * time.Second},
		},
		Engine: EngineConfig{
			MaxRetries:          3,
			BackoffBase:         duration{200 * time.Millisecond},
			BackoffMax:          duration{5 * time.Second},
			ConfirmationTimeout: duration{15 * time.Second},
			MaxConcurrentPlans:  8,
			IdempotencyTTL:      duration{2 * time.Minute},
		},
		Driver: DriverConfig{
			Interval:           duration{2 * time.Second},
			RefreshTimeout:     duration{3 * time.Second},
			MaxParallelSignals: 4,
		},
		Feed: FeedConfig{
			Enabled:    false,
			BusChannel: "venue_updates",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			MinSeverity: "warn",
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{
	"pool":         true,
	"aggregator":   true,
	"concentrated": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres is required for trade mode (ledger persistence + audit trail).
	if c.Mode == "trade" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
	}

	if c.Scanner.MinProfitBps <= 0 {
		errs = append(errs, "scanner: min_profit_bps must be > 0")
	}
	if c.Scanner.ProbeSize <= 0 {
		errs = append(errs, "scanner: probe_size must be > 0")
	}
	if c.Scanner.MaxAmount <= 0 {
		errs = append(errs, "scanner: max_amount must be > 0")
	}
	if c.Scanner.DepthFraction <= 0 || c.Scanner.DepthFraction > 1 {
		errs = append(errs, "scanner: depth_fraction must be in (0, 1]")
	}
	for i, cyc := range c.Scanner.Cycles {
		if len(cyc) != 3 {
			errs = append(errs, fmt.Sprintf("scanner: cycles[%d] must name exactly 3 assets", i))
		}
	}

	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.MaxConcentration <= 0 || c.Risk.MaxConcentration > 1 {
		errs = append(errs, "risk: max_concentration must be in (0, 1]")
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1 {
		errs = append(errs, "risk: min_confidence must be in [0, 1]")
	}
	if c.Risk.MaxTradesPerWindow < 1 {
		errs = append(errs, "risk: max_trades_per_window must be >= 1")
	}
	if c.Risk.TradeWindow.Duration <= 0 {
		errs = append(errs, "risk: trade_window must be > 0")
	}

	if c.Planner.SlippageTolerance < 0 || c.Planner.SlippageTolerance >= 1 {
		errs = append(errs, "planner: slippage_tolerance must be in [0, 1)")
	}
	if c.Planner.MediumRiskThreshold >= c.Planner.HighRiskThreshold {
		errs = append(errs, "planner: medium_risk_threshold must be below high_risk_threshold")
	}
	if c.Planner.CommitRevealDelayMin.Duration > c.Planner.CommitRevealDelayMax.Duration {
		errs = append(errs, "planner: commit_reveal_delay_min must not exceed commit_reveal_delay_max")
	}

	if c.Engine.MaxRetries < 0 {
		errs = append(errs, "engine: max_retries must be >= 0")
	}
	if c.Engine.ConfirmationTimeout.Duration <= 0 {
		errs = append(errs, "engine: confirmation_timeout must be > 0")
	}
	if c.Engine.MaxConcurrentPlans < 1 {
		errs = append(errs, "engine: max_concurrent_plans must be >= 1")
	}

	if c.Driver.Interval.Duration <= 0 {
		errs = append(errs, "driver: interval must be > 0")
	}
	if c.Driver.RefreshTimeout.Duration <= 0 {
		errs = append(errs, "driver: refresh_timeout must be > 0")
	}

	if c.Feed.Enabled && c.Feed.WSURL == "" && c.Feed.BusChannel == "" {
		errs = append(errs, "feed: ws_url or bus_channel is required when enabled")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	seen := map[string]bool{}
	for i, v := range c.Venues {
		if v.ID == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: id must not be empty", i))
			continue
		}
		if seen[v.ID] {
			errs = append(errs, fmt.Sprintf("venues[%d]: duplicate id %q", i, v.ID))
		}
		seen[v.ID] = true
		if !validVenueKinds[v.Kind] {
			errs = append(errs, fmt.Sprintf("venues[%d]: unknown kind %q (valid: pool, aggregator, concentrated)", i, v.Kind))
		}
		if v.Address != "" && !common.IsHexAddress(v.Address) {
			errs = append(errs, fmt.Sprintf("venues[%d]: %q is not a hex address", i, v.Address))
		}
		if v.Base == "" || v.Quote == "" || v.Base == v.Quote {
			errs = append(errs, fmt.Sprintf("venues[%d]: base and quote must be distinct, non-empty assets", i))
		}
		if v.Kind == "concentrated" && v.RangeLower >= v.RangeUpper {
			errs = append(errs, fmt.Sprintf("venues[%d]: range_lower must be below range_upper", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
