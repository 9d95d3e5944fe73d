package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantlab/internal/config"
	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/live"
	"github.com/alanyoungcy/quantlab/internal/server/ws"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixedMarket struct{ candles []domain.Candle }

func (m fixedMarket) FetchCandles(context.Context, domain.CandleRequest) ([]domain.Candle, error) {
	return m.candles, nil
}

func (fixedMarket) DefaultFeeRate() float64 { return 0.001 }

func (fixedMarket) SubscribeClosed(ctx context.Context, _, _ string, _ func(domain.Candle)) error {
	<-ctx.Done()
	return ctx.Err()
}

type fixedExchanges struct{ m fixedMarket }

func (f fixedExchanges) Exchange(string, domain.Credentials) (domain.Exchange, error) {
	return f.m, nil
}

func TestWireWithoutBackends(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(t.Context(), &cfg, discard)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Postgres)
	assert.Nil(t, deps.Runs)
	assert.Nil(t, deps.Bus)
	assert.Nil(t, deps.Blobs)
	assert.Nil(t, deps.Vault)
	assert.NotNil(t, deps.Exchanges)
	assert.NotNil(t, deps.Notifier)
	assert.Empty(t, deps.Checks)
}

func TestWireBuildsVault(t *testing.T) {
	cfg := config.Defaults()
	cfg.Vault.Passphrase = "correct horse battery staple"
	deps, cleanup, err := Wire(t.Context(), &cfg, discard)
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, deps.Vault)

	sealed, err := deps.Vault.Seal("api-key")
	require.NoError(t, err)
	opened, err := deps.Vault.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-key", opened)
}

func TestEventSinks(t *testing.T) {
	hub := ws.NewHub(nil, discard)

	sinks := eventSinks(&Dependencies{}, hub)
	assert.Equal(t, live.FanOut{hub}, sinks, "without a bus the hub is fed directly")

	bus := live.FanOut{} // any EventSink stands in for the bus
	sinks = eventSinks(&Dependencies{BusSink: bus, Events: bus}, hub)
	assert.Len(t, sinks, 2)
	assert.NotContains(t, sinks, domain.EventSink(hub))
}

func TestBacktestMode(t *testing.T) {
	var candles []domain.Candle
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 40 {
		p := 100 + float64(i)
		candles = append(candles, domain.Candle{
			Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1,
			Timestamp: start.Add(time.Duration(i) * time.Hour).UnixMilli(),
		})
	}

	req := map[string]any{
		"run_id":          "cli-1",
		"code":            "def generate_signal(ctx):\n    return 'HOLD'\n",
		"symbol":          "BTCUSDT",
		"timeframe":       "1h",
		"initial_balance": 1000,
		"start_date":      "2024-01-01",
		"end_date":        "2024-01-03",
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg := config.Defaults()
	cfg.Mode = "backtest"
	var out bytes.Buffer
	a := New(&cfg, discard, WithRequestFile(path), WithOutput(&out))

	err = a.BacktestMode(t.Context(), &Dependencies{Exchanges: fixedExchanges{fixedMarket{candles}}})
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "cli-1", res["run_id"])
	assert.Equal(t, 1000.0, res["final_balance"])
}

func TestBacktestModeErrors(t *testing.T) {
	cfg := config.Defaults()
	deps := &Dependencies{Exchanges: fixedExchanges{}}

	err := New(&cfg, discard).BacktestMode(t.Context(), deps)
	assert.ErrorContains(t, err, "needs a request file")

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"symbol":`), 0o600))
	err = New(&cfg, discard, WithRequestFile(path)).BacktestMode(t.Context(), deps)
	assert.ErrorContains(t, err, "decode request")

	require.NoError(t, os.WriteFile(path, []byte(`{"symbol":"BTCUSDT"}`), 0o600))
	err = New(&cfg, discard, WithRequestFile(path)).BacktestMode(t.Context(), deps)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMigrateModeNeedsPostgres(t *testing.T) {
	cfg := config.Defaults()
	err := New(&cfg, discard).MigrateMode(t.Context(), &Dependencies{})
	assert.ErrorContains(t, err, "requires postgres")
}
