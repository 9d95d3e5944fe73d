package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// SizingMode selects how entry quantity is derived.
type SizingMode string

const (
	SizingFixed          SizingMode = "fixed"
	SizingPercentBalance SizingMode = "percent_balance"
)

// Direction limits which sides a strategy may open.
type Direction string

const (
	DirectionLongOnly  Direction = "long_only"
	DirectionLongShort Direction = "long_short"
)

// ExecutionModel selects the price intents execute at.
type ExecutionModel string

const (
	ExecSameClose ExecutionModel = "same_close"
	ExecNextOpen  ExecutionModel = "next_open"
)

// StopFillModel selects the fill price of an intrabar risk exit.
type StopFillModel string

const (
	StopFillPrice StopFillModel = "stop_price"
	StopFillWorst StopFillModel = "worst"
)

// MaxWindow bounds every bar-count field. Dry runs and indicator warm-up
// allocate this many candles.
const MaxWindow = 10_000

// AllowedConfigFields is the closed set of keys a strategy CONFIG
// declaration may use.
var AllowedConfigFields = map[string]bool{
	"spec_version":                true,
	"max_account_exposure_pct":    true,
	"max_open_positions":          true,
	"max_drawdown_pct":            true,
	"batch_size":                  true,
	"batch_size_type":             true,
	"stop_loss_pct":               true,
	"take_profit_pct":             true,
	"trailing_stop_pct":           true,
	"cooldown_seconds":            true,
	"allow_reentry":               true,
	"direction":                   true,
	"order_type":                  true,
	"slippage_bps":                true,
	"min_bars":                    true,
	"lookback_window":             true,
	"volume_window":               true,
	"volatility_window":           true,
	"signal_mode":                 true,
	"return_threshold_pct":        true,
	"exit_return_threshold_pct":   true,
	"volume_spike_threshold_pct":  true,
	"zscore_entry_threshold":      true,
	"zscore_exit_threshold":       true,
	"volatility_breakout_pct":     true,
	"fast_ma_window":              true,
	"slow_ma_window":              true,
	"trend_filter":                true,
	"rsi_window":                  true,
	"rsi_entry_threshold":         true,
	"rsi_exit_threshold":          true,
	"require_volume_confirmation": true,
	"require_return_confirmation": true,
	"execution_model":             true,
	"stop_fill_model":             true,
	"leverage":                    true,
	"margin_mode":                 true,
}

// AlgoConfig is the immutable per-run strategy configuration. The
// simulation trusts it completely once Validate has passed.
type AlgoConfig struct {
	MaxAccountExposurePct float64        `json:"max_account_exposure_pct"`
	MaxOpenPositions      int            `json:"max_open_positions"`
	MaxDrawdownPct        *float64       `json:"max_drawdown_pct"`
	BatchSize             float64        `json:"batch_size"`
	BatchSizeType         SizingMode     `json:"batch_size_type"`
	StopLossPct           *float64       `json:"stop_loss_pct"`
	TakeProfitPct         *float64       `json:"take_profit_pct"`
	TrailingStopPct       *float64       `json:"trailing_stop_pct"`
	CooldownSeconds       int64          `json:"cooldown_seconds"`
	AllowReentry          bool           `json:"allow_reentry"`
	Direction             Direction      `json:"direction"`
	SlippageBps           float64        `json:"slippage_bps"`
	ExecutionModel        ExecutionModel `json:"execution_model"`
	StopFillModel         StopFillModel  `json:"stop_fill_model"`
	Leverage              float64        `json:"leverage"`

	MinBars          int `json:"min_bars"`
	LookbackWindow   int `json:"lookback_window"`
	VolumeWindow     int `json:"volume_window"`
	VolatilityWindow int `json:"volatility_window"`
	RSIWindow        int `json:"rsi_window"`
	FastMAWindow     int `json:"fast_ma_window"`
	SlowMAWindow     int `json:"slow_ma_window"`

	// Params carries allow-listed keys the engine does not interpret
	// (thresholds, filters, signal_mode). Strategies read them from CONFIG.
	Params map[string]any `json:"params,omitempty"`
}

// DefaultAlgoConfig returns the configuration used when a strategy declares
// no CONFIG.
func DefaultAlgoConfig() AlgoConfig {
	return AlgoConfig{
		MaxAccountExposurePct: 100,
		MaxOpenPositions:      1,
		BatchSize:             1,
		BatchSizeType:         SizingFixed,
		AllowReentry:          true,
		Direction:             DirectionLongOnly,
		ExecutionModel:        ExecSameClose,
		StopFillModel:         StopFillPrice,
		Leverage:              1,
		MinBars:               30,
		LookbackWindow:        20,
		VolumeWindow:          20,
		VolatilityWindow:      20,
		RSIWindow:             14,
		FastMAWindow:          10,
		SlowMAWindow:          50,
	}
}

// FieldError is a single configuration problem.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// ConfigErrors lists every problem found in one validation pass.
type ConfigErrors []FieldError

func (e ConfigErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("invalid CONFIG:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Is lets callers match any ConfigErrors against ErrInvalidInput.
func (e ConfigErrors) Is(target error) bool { return target == ErrInvalidInput }

func (e *ConfigErrors) add(field, format string, args ...any) {
	*e = append(*e, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks every numeric bound and enum. It returns nil or a
// ConfigErrors value.
func (c AlgoConfig) Validate() error {
	var errs ConfigErrors

	if !(c.MaxAccountExposurePct > 0 && c.MaxAccountExposurePct <= 100) {
		errs.add("max_account_exposure_pct", "must be between 0 and 100")
	}
	if c.MaxOpenPositions < 1 {
		errs.add("max_open_positions", "must be >= 1")
	}
	if !(c.BatchSize > 0) {
		errs.add("batch_size", "must be > 0")
	}
	switch c.BatchSizeType {
	case SizingFixed:
	case SizingPercentBalance:
		if c.BatchSize > 100 {
			errs.add("batch_size", "must be <= 100 when batch_size_type='percent_balance'")
		}
	default:
		errs.add("batch_size_type", "must be 'fixed' or 'percent_balance'")
	}
	for field, v := range map[string]*float64{
		"stop_loss_pct":     c.StopLossPct,
		"take_profit_pct":   c.TakeProfitPct,
		"trailing_stop_pct": c.TrailingStopPct,
	} {
		if v != nil && !(*v > 0) {
			errs.add(field, "must be > 0")
		}
	}
	if c.TrailingStopPct != nil && *c.TrailingStopPct >= 100 {
		errs.add("trailing_stop_pct", "must be < 100")
	}
	if c.CooldownSeconds < 0 {
		errs.add("cooldown_seconds", "must be >= 0")
	}
	if c.MaxDrawdownPct != nil && !(*c.MaxDrawdownPct > 0 && *c.MaxDrawdownPct <= 100) {
		errs.add("max_drawdown_pct", "must be between 0 and 100")
	}
	if c.Direction != DirectionLongOnly && c.Direction != DirectionLongShort {
		errs.add("direction", "must be 'long_only' or 'long_short'")
	}
	if c.ExecutionModel != ExecSameClose && c.ExecutionModel != ExecNextOpen {
		errs.add("execution_model", "must be 'same_close' or 'next_open'")
	}
	if c.StopFillModel != StopFillPrice && c.StopFillModel != StopFillWorst {
		errs.add("stop_fill_model", "must be 'stop_price' or 'worst'")
	}
	if !(c.SlippageBps >= 0) {
		errs.add("slippage_bps", "must be >= 0")
	}
	if !(c.Leverage >= 1) {
		errs.add("leverage", "must be >= 1")
	}
	for field, w := range map[string]int{
		"min_bars":          c.MinBars,
		"lookback_window":   c.LookbackWindow,
		"volume_window":     c.VolumeWindow,
		"volatility_window": c.VolatilityWindow,
		"rsi_window":        c.RSIWindow,
		"fast_ma_window":    c.FastMAWindow,
		"slow_ma_window":    c.SlowMAWindow,
	} {
		if w < 1 || w > MaxWindow {
			errs.add(field, "must be between 1 and %d", MaxWindow)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

// AlgoConfigFromMap decodes a CONFIG declaration on top of the defaults and
// validates the result. Values must already be plain Go scalars
// (int64, float64, string, bool or nil).
func AlgoConfigFromMap(raw map[string]any) (AlgoConfig, error) {
	cfg := DefaultAlgoConfig()
	var errs ConfigErrors

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		v := raw[key]
		if !AllowedConfigFields[key] {
			errs.add(key, "unknown field")
			continue
		}
		var err error
		switch key {
		case "max_account_exposure_pct":
			cfg.MaxAccountExposurePct, err = asFloat(v)
		case "max_open_positions":
			cfg.MaxOpenPositions, err = asInt(v)
		case "max_drawdown_pct":
			cfg.MaxDrawdownPct, err = asOptFloat(v)
		case "batch_size":
			cfg.BatchSize, err = asFloat(v)
		case "batch_size_type":
			var s string
			s, err = asString(v)
			cfg.BatchSizeType = SizingMode(s)
		case "stop_loss_pct":
			cfg.StopLossPct, err = asOptFloat(v)
		case "take_profit_pct":
			cfg.TakeProfitPct, err = asOptFloat(v)
		case "trailing_stop_pct":
			cfg.TrailingStopPct, err = asOptFloat(v)
		case "cooldown_seconds":
			var n int
			n, err = asInt(v)
			cfg.CooldownSeconds = int64(n)
		case "allow_reentry":
			cfg.AllowReentry, err = asBool(v)
		case "direction":
			var s string
			s, err = asString(v)
			cfg.Direction = Direction(s)
		case "slippage_bps":
			cfg.SlippageBps, err = asFloat(v)
		case "execution_model":
			var s string
			s, err = asString(v)
			cfg.ExecutionModel = ExecutionModel(s)
		case "stop_fill_model":
			var s string
			s, err = asString(v)
			cfg.StopFillModel = StopFillModel(s)
		case "leverage":
			cfg.Leverage, err = asFloat(v)
		case "min_bars":
			cfg.MinBars, err = asInt(v)
		case "lookback_window":
			cfg.LookbackWindow, err = asInt(v)
		case "volume_window":
			cfg.VolumeWindow, err = asInt(v)
		case "volatility_window":
			cfg.VolatilityWindow, err = asInt(v)
		case "rsi_window":
			cfg.RSIWindow, err = asInt(v)
		case "fast_ma_window":
			cfg.FastMAWindow, err = asInt(v)
		case "slow_ma_window":
			cfg.SlowMAWindow, err = asInt(v)
		default:
			if cfg.Params == nil {
				cfg.Params = make(map[string]any)
			}
			cfg.Params[key] = v
		}
		if err != nil {
			errs.add(key, "%s", err.Error())
		}
	}

	if len(errs) > 0 {
		return cfg, errs
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("must be a number")
	}
}

func asOptFloat(v any) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	f, err := asFloat(v)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("must be an integer")
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("must be a string")
	}
	return s, nil
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("must be a boolean")
	}
	return b, nil
}
