package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POOLRUNNER_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLRUNNER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POOLRUNNER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POOLRUNNER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POOLRUNNER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POOLRUNNER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POOLRUNNER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POOLRUNNER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POOLRUNNER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POOLRUNNER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POOLRUNNER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POOLRUNNER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POOLRUNNER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLRUNNER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLRUNNER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLRUNNER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLRUNNER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLRUNNER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POOLRUNNER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLRUNNER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLRUNNER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POOLRUNNER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLRUNNER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POOLRUNNER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POOLRUNNER_S3_FORCE_PATH_STYLE")

	// ── Scanner ──
	setFloat64(&cfg.Scanner.MinProfitBps, "POOLRUNNER_SCANNER_MIN_PROFIT_BPS")
	setFloat64(&cfg.Scanner.ProbeSize, "POOLRUNNER_SCANNER_PROBE_SIZE")
	setFloat64(&cfg.Scanner.MaxAmount, "POOLRUNNER_SCANNER_MAX_AMOUNT")
	setFloat64(&cfg.Scanner.DepthFraction, "POOLRUNNER_SCANNER_DEPTH_FRACTION")
	setFloat64(&cfg.Scanner.GasEstimate, "POOLRUNNER_SCANNER_GAS_ESTIMATE")
	setDuration(&cfg.Scanner.SignalTTL, "POOLRUNNER_SCANNER_SIGNAL_TTL")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDailyLoss, "POOLRUNNER_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxPositionSize, "POOLRUNNER_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxConcentration, "POOLRUNNER_RISK_MAX_CONCENTRATION")
	setFloat64(&cfg.Risk.MinConfidence, "POOLRUNNER_RISK_MIN_CONFIDENCE")
	setFloat64(&cfg.Risk.MaxFeeProfitRatio, "POOLRUNNER_RISK_MAX_FEE_PROFIT_RATIO")
	setInt(&cfg.Risk.MaxTradesPerWindow, "POOLRUNNER_RISK_MAX_TRADES_PER_WINDOW")
	setDuration(&cfg.Risk.TradeWindow, "POOLRUNNER_RISK_TRADE_WINDOW")

	// ── Planner ──
	setFloat64(&cfg.Planner.SlippageTolerance, "POOLRUNNER_PLANNER_SLIPPAGE_TOLERANCE")
	setFloat64(&cfg.Planner.MediumRiskThreshold, "POOLRUNNER_PLANNER_MEDIUM_RISK_THRESHOLD")
	setFloat64(&cfg.Planner.HighRiskThreshold, "POOLRUNNER_PLANNER_HIGH_RISK_THRESHOLD")
	setStringSlice(&cfg.Planner.HopAssets, "POOLRUNNER_PLANNER_HOP_ASSETS")
	setDuration(&cfg.Planner.CommitRevealDelayMin, "POOLRUNNER_PLANNER_COMMIT_REVEAL_DELAY_MIN")
	setDuration(&cfg.Planner.CommitRevealDelayMax, "POOLRUNNER_PLANNER_COMMIT_REVEAL_DELAY_MAX")

	// ── Engine ──
	setInt(&cfg.Engine.MaxRetries, "POOLRUNNER_ENGINE_MAX_RETRIES")
	setDuration(&cfg.Engine.BackoffBase, "POOLRUNNER_ENGINE_BACKOFF_BASE")
	setDuration(&cfg.Engine.BackoffMax, "POOLRUNNER_ENGINE_BACKOFF_MAX")
	setDuration(&cfg.Engine.ConfirmationTimeout, "POOLRUNNER_ENGINE_CONFIRMATION_TIMEOUT")
	setInt(&cfg.Engine.MaxConcurrentPlans, "POOLRUNNER_ENGINE_MAX_CONCURRENT_PLANS")

	// ── Driver ──
	setDuration(&cfg.Driver.Interval, "POOLRUNNER_DRIVER_INTERVAL")
	setDuration(&cfg.Driver.RefreshTimeout, "POOLRUNNER_DRIVER_REFRESH_TIMEOUT")
	setInt(&cfg.Driver.MaxParallelSignals, "POOLRUNNER_DRIVER_MAX_PARALLEL_SIGNALS")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "POOLRUNNER_FEED_ENABLED")
	setStr(&cfg.Feed.WSURL, "POOLRUNNER_FEED_WS_URL")
	setStr(&cfg.Feed.BusChannel, "POOLRUNNER_FEED_BUS_CHANNEL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POOLRUNNER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POOLRUNNER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "POOLRUNNER_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POOLRUNNER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLRUNNER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLRUNNER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.MinSeverity, "POOLRUNNER_NOTIFY_MIN_SEVERITY")

	// ── Top-level ──
	setStr(&cfg.Mode, "POOLRUNNER_MODE")
	setStr(&cfg.LogLevel, "POOLRUNNER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
