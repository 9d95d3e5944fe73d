package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAlgoConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultAlgoConfig().Validate())
}

func TestAlgoConfigFromMapAppliesValues(t *testing.T) {
	cfg, err := AlgoConfigFromMap(map[string]any{
		"batch_size":       int64(25),
		"batch_size_type":  "percent_balance",
		"stop_loss_pct":    2.5,
		"cooldown_seconds": int64(60),
		"allow_reentry":    false,
		"direction":        "long_short",
		"rsi_window":       float64(7),
		"signal_mode":      "mean_reversion",
		"take_profit_pct":  nil,
	})
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.BatchSize)
	assert.Equal(t, SizingPercentBalance, cfg.BatchSizeType)
	require.NotNil(t, cfg.StopLossPct)
	assert.Equal(t, 2.5, *cfg.StopLossPct)
	assert.Nil(t, cfg.TakeProfitPct)
	assert.Equal(t, int64(60), cfg.CooldownSeconds)
	assert.False(t, cfg.AllowReentry)
	assert.Equal(t, DirectionLongShort, cfg.Direction)
	assert.Equal(t, 7, cfg.RSIWindow)
	assert.Equal(t, "mean_reversion", cfg.Params["signal_mode"])
}

func TestAlgoConfigValidateCollectsEveryError(t *testing.T) {
	cfg := DefaultAlgoConfig()
	cfg.MaxAccountExposurePct = 150
	cfg.BatchSize = 0
	cfg.CooldownSeconds = -1
	cfg.Direction = "sideways"

	err := cfg.Validate()
	require.Error(t, err)

	var ce ConfigErrors
	require.True(t, errors.As(err, &ce))
	fields := make([]string, len(ce))
	for i, fe := range ce {
		fields[i] = fe.Field
	}
	assert.ElementsMatch(t, []string{
		"max_account_exposure_pct", "batch_size", "cooldown_seconds", "direction",
	}, fields)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAlgoConfigFromMapRejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   map[string]any
		field string
	}{
		{"unknown key", map[string]any{"martingale": true}, "martingale"},
		{"percent over 100", map[string]any{"batch_size": 150.0, "batch_size_type": "percent_balance"}, "batch_size"},
		{"fractional integer", map[string]any{"cooldown_seconds": 1.5}, "cooldown_seconds"},
		{"string number", map[string]any{"stop_loss_pct": "5"}, "stop_loss_pct"},
		{"negative stop", map[string]any{"stop_loss_pct": -1.0}, "stop_loss_pct"},
		{"drawdown range", map[string]any{"max_drawdown_pct": 0.0}, "max_drawdown_pct"},
		{"huge min_bars", map[string]any{"min_bars": int64(9223372036854775807)}, "min_bars"},
		{"window over limit", map[string]any{"slow_ma_window": int64(MaxWindow + 1)}, "slow_ma_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AlgoConfigFromMap(tt.raw)
			var ce ConfigErrors
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce[0].Field)
		})
	}
}

func TestAlgoConfigWindowBounds(t *testing.T) {
	cfg := DefaultAlgoConfig()
	cfg.LookbackWindow = MaxWindow
	require.NoError(t, cfg.Validate())

	cfg.LookbackWindow = 2_000_000_000
	var ce ConfigErrors
	require.ErrorAs(t, cfg.Validate(), &ce)
	require.Len(t, ce, 1)
	assert.Equal(t, "lookback_window", ce[0].Field)
	assert.Contains(t, ce[0].Message, "10000")
}
