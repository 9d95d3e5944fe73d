package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (if any) on top of Defaults, loads a
// .env file when present and applies QUANTLAB_* environment overrides. The
// result is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deploy settings
// without touching the TOML file. Empty variables are ignored.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "QUANTLAB_MODE")
	setStr(&cfg.LogLevel, "QUANTLAB_LOG_LEVEL")

	setInt(&cfg.Server.Port, "QUANTLAB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "QUANTLAB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "QUANTLAB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "QUANTLAB_SERVER_RATE_LIMIT")

	setBool(&cfg.Postgres.Enabled, "QUANTLAB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "QUANTLAB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.Host, "QUANTLAB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QUANTLAB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QUANTLAB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QUANTLAB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QUANTLAB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QUANTLAB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "QUANTLAB_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "QUANTLAB_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "QUANTLAB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "QUANTLAB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QUANTLAB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QUANTLAB_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "QUANTLAB_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "QUANTLAB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "QUANTLAB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QUANTLAB_S3_REGION")
	setStr(&cfg.S3.Bucket, "QUANTLAB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "QUANTLAB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QUANTLAB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "QUANTLAB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "QUANTLAB_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.CreateBucket, "QUANTLAB_S3_CREATE_BUCKET")

	setFloat64(&cfg.Binance.FeeRate, "QUANTLAB_BINANCE_FEE_RATE")
	setInt(&cfg.Binance.RateLimit, "QUANTLAB_BINANCE_RATE_LIMIT")
	setDuration(&cfg.Binance.RateWindow, "QUANTLAB_BINANCE_RATE_WINDOW")

	setInt(&cfg.Backtest.MaxConcurrent, "QUANTLAB_BACKTEST_MAX_CONCURRENT")
	setBool(&cfg.Backtest.Strict, "QUANTLAB_BACKTEST_STRICT")
	setFloat64(&cfg.Backtest.RiskFreeRate, "QUANTLAB_BACKTEST_RISK_FREE_RATE")
	setInt64(&cfg.Backtest.MaxSteps, "QUANTLAB_BACKTEST_MAX_STEPS")

	setBool(&cfg.Live.StrategyFatal, "QUANTLAB_LIVE_STRATEGY_FATAL")
	setBool(&cfg.Live.StrategyFatal, "PAPER_STRATEGY_FATAL") // legacy name
	setDuration(&cfg.Live.StopTimeout, "QUANTLAB_LIVE_STOP_TIMEOUT")
	setBool(&cfg.Live.ResumeOnStart, "QUANTLAB_LIVE_RESUME_ON_START")

	setStr(&cfg.Vault.Passphrase, "QUANTLAB_VAULT_PASSPHRASE")

	setStr(&cfg.Notify.TelegramToken, "QUANTLAB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "QUANTLAB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "QUANTLAB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "QUANTLAB_NOTIFY_EVENTS")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
