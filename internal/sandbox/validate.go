package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/indicator"
	"github.com/alanyoungcy/quantlab/internal/strategy"
)

// Report is the outcome of a successful validation.
type Report struct {
	Valid        bool           `json:"valid"`
	Message      string         `json:"message"`
	Config       map[string]any `json:"config"`
	SampleSignal string         `json:"sample_signal"`
	Warnings     []string       `json:"warnings"`
}

// Validate compiles src and dry-runs generate_signal on synthetic candles.
// Division-by-zero and value faults during the dry run degrade to HOLD with
// a warning; anything else is a *ValidationError.
func Validate(ctx context.Context, src string, opts Options) (*Report, error) {
	prog, err := Compile(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	cfg := prog.Config()

	bars := max(10, cfg.MinBars, cfg.LookbackWindow, cfg.VolatilityWindow, cfg.RSIWindow, cfg.FastMAWindow, cfg.SlowMAWindow) + 10
	candles := SyntheticCandles(bars, 3_600_000)
	sctx := strategy.Build(len(candles)-1, candles, indicator.Compute(candles, cfg), nil, 1000, 1000, "1h", strategy.HistoryWindow(cfg))

	report := &Report{
		Valid:    true,
		Message:  "Algorithm is valid.",
		Config:   prog.RawConfig(),
		Warnings: []string{},
	}

	intent, err := prog.Signal(ctx, sctx)
	var fault *StrategyFault
	var invalid *InvalidSignalError
	switch {
	case err == nil:
	case errors.As(err, &fault) && (fault.Kind == "ZeroDivisionError" || fault.Kind == "ValueError"):
		intent = domain.IntentHold
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"generate_signal raised %s during validation; treated as HOLD. (%s)", fault.Kind, firstLine(fault.Err.Error())))
	case errors.As(err, &fault):
		return nil, &ValidationError{Msg: "Error when calling generate_signal(context): " + firstLine(fault.Err.Error()), Err: err}
	case errors.As(err, &invalid):
		return nil, &ValidationError{Msg: invalid.Error(), Err: err}
	default:
		return nil, err
	}

	report.SampleSignal = intent.String()
	return report, nil
}

// SyntheticCandles builds a gently rising series used for dry runs.
func SyntheticCandles(n int, stepMs int64) []domain.Candle {
	const ts0 = 1_700_000_000_000
	out := make([]domain.Candle, n)
	for i := range out {
		c := 100 + float64(i)*0.25
		out[i] = domain.Candle{
			Open:      c - 0.10,
			High:      c + 0.20,
			Low:       c - 0.30,
			Close:     c,
			Volume:    1000 + float64(i)*3,
			Timestamp: ts0 + int64(i)*stepMs,
		}
	}
	return out
}
