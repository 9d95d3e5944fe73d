package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/indicator"
	"github.com/alanyoungcy/quantlab/internal/strategy"
)

// maxWarnings caps the per-bar fault warnings kept in a Result.
const maxWarnings = 100

// Options configure a historical replay.
type Options struct {
	InitialBalance float64
	FeeRate        float64
	Timeframe      string
	HistoryWindow  int  // defaults to strategy.HistoryWindow(cfg)
	Strict         bool // strategy faults abort the run
	Progress       func(pct int)
	Logger         *slog.Logger
}

// Result is the outcome of a replay. FinalBalance is cash; an open position
// at the end of the run is reported in OpenPosition and marked to market in
// the last equity point.
type Result struct {
	InitialBalance float64
	FinalBalance   float64
	FinalEquity    float64
	Trades         []domain.Trade
	EquityCurve    []domain.EquityPoint
	OpenPosition   *domain.Position
	MaxDrawdown    float64
	Halt           HaltReason
	Warnings       []string
	Bars           int
}

// Run replays candles through strat. It is synchronous and deterministic:
// the same inputs always produce the same trades and equity curve.
func Run(ctx context.Context, candles []domain.Candle, strat strategy.Strategy, cfg domain.AlgoConfig, opts Options) (*Result, error) {
	if len(candles) == 0 {
		return nil, domain.ErrNoCandles
	}
	if !(opts.InitialBalance > 0) {
		return nil, fmt.Errorf("simulation: initial balance must be > 0: %w", domain.ErrInvalidInput)
	}
	if opts.FeeRate < 0 {
		return nil, fmt.Errorf("simulation: fee rate must be >= 0: %w", domain.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "simulation"))
	window := opts.HistoryWindow
	if window <= 0 {
		window = strategy.HistoryWindow(cfg)
	}

	series := indicator.Compute(candles, cfg)
	sim := New(cfg, opts.InitialBalance, opts.FeeRate)
	var warnings []string
	dropped := 0
	lastPct := -1

	for i, bar := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := &sim.state
		sctx := strategy.Build(i, candles, series, st.Position, st.Balance, opts.InitialBalance, opts.Timeframe, window)

		intent, err := strat.Signal(ctx, sctx)
		if err != nil {
			if !errors.Is(err, domain.ErrStrategyFault) || opts.Strict {
				return nil, fmt.Errorf("simulation: bar %d: %w", i, err)
			}
			if len(warnings) < maxWarnings {
				warnings = append(warnings, fmt.Sprintf("bar %d (ts=%d): %v; treated as HOLD", i, bar.Timestamp, err))
			} else {
				dropped++
			}
			intent = domain.IntentHold
		}

		var next *domain.Candle
		if i+1 < len(candles) {
			next = &candles[i+1]
		}
		res := sim.Step(bar, next, intent)

		if pct := (i + 1) * 100 / len(candles); opts.Progress != nil && pct != lastPct {
			opts.Progress(pct)
			lastPct = pct
		}
		if res.Halt != HaltNone {
			logger.InfoContext(ctx, "run halted",
				slog.String("reason", string(res.Halt)),
				slog.Int("bar", i),
				slog.Float64("equity", res.Equity),
			)
			break
		}
	}
	if dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d further strategy warnings suppressed", dropped))
	}

	st := sim.State()
	out := &Result{
		InitialBalance: opts.InitialBalance,
		FinalBalance:   st.Balance,
		FinalEquity:    st.EquityCurve[len(st.EquityCurve)-1].Equity,
		Trades:         st.Trades,
		EquityCurve:    st.EquityCurve,
		OpenPosition:   st.Position,
		MaxDrawdown:    st.MaxDrawdown,
		Halt:           st.Halt,
		Warnings:       warnings,
		Bars:           len(st.EquityCurve),
	}
	if out.Trades == nil {
		out.Trades = []domain.Trade{}
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	return out, nil
}
