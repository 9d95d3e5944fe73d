package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 4, cfg.Backtest.MaxConcurrent)
	assert.Equal(t, 30*time.Minute, cfg.Backtest.LockTTL.Duration)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // keep any developer .env out of the test
	path := writeConfig(t, `
mode = "backtest"

[server]
port = 9000
write_timeout = "2m"

[backtest]
strict = true
risk_free_rate = 0.02

[notify]
events = ["paper_stopped"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "backtest", cfg.Mode)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout.Duration)
	assert.True(t, cfg.Backtest.Strict)
	assert.Equal(t, 0.02, cfg.Backtest.RiskFreeRate)
	assert.Equal(t, []string{"paper_stopped"}, cfg.Notify.Events)
	assert.Equal(t, 4, cfg.Backtest.MaxConcurrent, "unset keys keep defaults")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `[server]
write_timeout = "soon"`))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUANTLAB_SERVER_PORT", "7000")
	t.Setenv("QUANTLAB_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("QUANTLAB_POSTGRES_ENABLED", "true")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/q")
	t.Setenv("QUANTLAB_BACKTEST_MAX_STEPS", "1000")
	t.Setenv("QUANTLAB_BINANCE_RATE_WINDOW", "2s")
	t.Setenv("PAPER_STRATEGY_FATAL", "true")
	t.Setenv("QUANTLAB_S3_CREATE_BUCKET", "true")
	t.Setenv("QUANTLAB_BACKTEST_MAX_CONCURRENT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "postgres://u:p@db:5432/q", cfg.Postgres.DSN)
	assert.Equal(t, int64(1000), cfg.Backtest.MaxSteps)
	assert.Equal(t, 2*time.Second, cfg.Binance.RateWindow.Duration)
	assert.True(t, cfg.Live.StrategyFatal)
	assert.True(t, cfg.S3.CreateBucket)
	assert.Equal(t, 4, cfg.Backtest.MaxConcurrent, "unparsable values are ignored")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Server.Port = 0
	cfg.Backtest.MaxConcurrent = 0
	cfg.Live.ResumeOnStart = true
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"server: port",
		"backtest: max_concurrent",
		"live: resume_on_start requires postgres",
		"notify: telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateDependencies(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "migrate"
	assert.ErrorContains(t, cfg.Validate(), "must be enabled for mode migrate")

	cfg = Defaults()
	cfg.Server.RateLimit = 10
	assert.ErrorContains(t, cfg.Validate(), "rate_limit requires redis")
	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg = Defaults()
	cfg.Vault.Passphrase = "short"
	assert.ErrorContains(t, cfg.Validate(), "vault: passphrase")
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "key"
	cfg.Postgres.Password = "pw"
	cfg.Vault.Passphrase = "correct horse battery"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := cfg.Redacted()
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Vault.Passphrase)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "key", cfg.Server.APIKey, "original untouched")

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
