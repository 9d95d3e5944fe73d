// Package config defines the service configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by QUANTLAB_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Binance  BinanceConfig  `toml:"binance"`
	Backtest BacktestConfig `toml:"backtest"`
	Live     LiveConfig     `toml:"live"`
	Vault    VaultConfig    `toml:"vault"`
	Notify   NotifyConfig   `toml:"notify"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	WriteTimeout duration `toml:"write_timeout"`
	RateLimit    int      `toml:"rate_limit"` // requests per rate_window per client, 0 disables
	RateWindow   duration `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters. Without Postgres,
// runs and sessions are not persisted.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters. Without Redis, progress,
// locks and events stay in process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the result
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	CreateBucket   bool   `toml:"create_bucket"` // create the bucket at startup when missing
	BacktestPrefix string `toml:"backtest_prefix"`
	PaperPrefix    string `toml:"paper_prefix"`
}

// BinanceConfig tunes the market-data client.
type BinanceConfig struct {
	FeeRate        float64  `toml:"fee_rate"`
	RateLimit      int      `toml:"rate_limit"` // kline requests per rate_window, shared via Redis
	RateWindow     duration `toml:"rate_window"`
	ReconnectDelay duration `toml:"reconnect_delay"`
}

// BacktestConfig tunes the backtest service.
type BacktestConfig struct {
	MaxConcurrent int      `toml:"max_concurrent"`
	Strict        bool     `toml:"strict"`
	RiskFreeRate  float64  `toml:"risk_free_rate"`
	MaxSteps      int64    `toml:"max_steps"`
	LockTTL       duration `toml:"lock_ttl"`
}

// LiveConfig tunes paper-trading sessions.
type LiveConfig struct {
	// StrategyFatal stops a session on its first strategy error instead
	// of degrading to HOLD.
	StrategyFatal bool     `toml:"strategy_fatal"`
	StopTimeout   duration `toml:"stop_timeout"`
	ResumeOnStart bool     `toml:"resume_on_start"`
}

// VaultConfig holds the passphrase sealing exchange credentials at rest.
type VaultConfig struct {
	Passphrase string `toml:"passphrase"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding.
type duration struct {
	time.Duration
}

// UnmarshalText parses duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults for local
// development.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			WriteTimeout: duration{10 * time.Minute},
			RateLimit:    0,
			RateWindow:   duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "quantlab",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "quantlab",
			ForcePathStyle: true,
			BacktestPrefix: "backtests",
			PaperPrefix:    "paper",
		},
		Binance: BinanceConfig{
			FeeRate:        0.001,
			RateLimit:      10,
			RateWindow:     duration{time.Second},
			ReconnectDelay: duration{2 * time.Second},
		},
		Backtest: BacktestConfig{
			MaxConcurrent: 4,
			MaxSteps:      5_000_000,
			LockTTL:       duration{30 * time.Minute},
		},
		Live: LiveConfig{
			StopTimeout: duration{3 * time.Second},
		},
		Notify: NotifyConfig{
			Events:   []string{"backtest_failed", "paper_stopped"},
			Cooldown: duration{time.Minute},
		},
	}
}

var validModes = map[string]bool{
	"server":   true,
	"backtest": true,
	"migrate":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns one
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, backtest, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	if strings.EqualFold(c.Mode, "migrate") && !c.Postgres.Enabled {
		errs = append(errs, "postgres: must be enabled for mode migrate")
	}
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}
	if c.Live.ResumeOnStart && !c.Postgres.Enabled {
		errs = append(errs, "live: resume_on_start requires postgres")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Server.RateLimit > 0 && !c.Redis.Enabled {
		errs = append(errs, "server: rate_limit requires redis")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.BacktestPrefix == "" || c.S3.PaperPrefix == "" {
			errs = append(errs, "s3: backtest_prefix and paper_prefix must not be empty")
		}
	}

	if c.Binance.FeeRate < 0 {
		errs = append(errs, "binance: fee_rate must be >= 0")
	}
	if c.Binance.RateLimit < 1 {
		errs = append(errs, "binance: rate_limit must be >= 1")
	}
	if c.Binance.RateWindow.Duration <= 0 {
		errs = append(errs, "binance: rate_window must be > 0")
	}

	if c.Backtest.MaxConcurrent < 1 {
		errs = append(errs, "backtest: max_concurrent must be >= 1")
	}
	if c.Backtest.MaxSteps < 0 {
		errs = append(errs, "backtest: max_steps must be >= 0")
	}
	if c.Backtest.RiskFreeRate < 0 || c.Backtest.RiskFreeRate >= 1 {
		errs = append(errs, "backtest: risk_free_rate must be in [0, 1)")
	}

	if c.Live.StopTimeout.Duration <= 0 {
		errs = append(errs, "live: stop_timeout must be > 0")
	}

	if p := c.Vault.Passphrase; p != "" && len(p) < 12 {
		errs = append(errs, "vault: passphrase must be at least 12 characters")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
