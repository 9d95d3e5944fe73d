package backtest

import (
	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/metrics"
	"github.com/alanyoungcy/quantlab/internal/simulation"
)

// Result is the response body of a finished backtest.
type Result struct {
	RunID              string               `json:"run_id"`
	InitialBalance     float64              `json:"initial_balance"`
	FinalBalance       float64              `json:"final_balance"`
	FinalEquity        float64              `json:"final_equity"`
	TotalReturnUSDT    float64              `json:"total_return_usdt"`
	TotalReturnPercent float64              `json:"total_return_percent"`
	MaxDrawdownPercent float64              `json:"max_drawdown_percent"`
	WinRatePercent     float64              `json:"win_rate_percent"`
	ProfitFactor       float64              `json:"profit_factor"`
	TotalTrades        int                  `json:"total_trades"`
	FeeRate            float64              `json:"fee_rate"`
	Config             map[string]any       `json:"config"`
	EquityCurve        []domain.EquityPoint `json:"equity_curve"`
	Trades             []domain.Trade       `json:"trades"`
	Candles            []domain.Candle      `json:"candles"`
	OpenPosition       *domain.Position     `json:"open_position,omitempty"`
	Metrics            metrics.Report       `json:"metrics"`
	Warnings           []string             `json:"warnings"`
	Halted             string               `json:"halted,omitempty"`
	ArchivePath        string               `json:"archive_path,omitempty"`
}

// buildResult folds a replay and its metrics into the response shape.
// Returns are realised: they are measured on cash, not on marked equity.
func buildResult(runID string, candles []domain.Candle, feeRate float64, raw map[string]any, out *simulation.Result, rep metrics.Report) *Result {
	ret := out.FinalBalance - out.InitialBalance
	res := &Result{
		RunID:              runID,
		InitialBalance:     out.InitialBalance,
		FinalBalance:       out.FinalBalance,
		FinalEquity:        out.FinalEquity,
		TotalReturnUSDT:    ret,
		TotalReturnPercent: ret / out.InitialBalance * 100,
		MaxDrawdownPercent: out.MaxDrawdown * 100,
		WinRatePercent:     rep.Consistency.WinRate * 100,
		ProfitFactor:       rep.Consistency.ProfitFactor,
		TotalTrades:        len(out.Trades),
		FeeRate:            feeRate,
		Config:             raw,
		EquityCurve:        out.EquityCurve,
		Trades:             out.Trades,
		Candles:            candles,
		OpenPosition:       out.OpenPosition,
		Metrics:            rep,
		Warnings:           out.Warnings,
		Halted:             string(out.Halt),
	}
	if res.Trades == nil {
		res.Trades = []domain.Trade{}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	return res
}

// Summary is the headline figures persisted with the run.
func (r *Result) Summary() domain.RunSummary {
	return domain.RunSummary{
		FinalBalance:   r.FinalBalance,
		ReturnPct:      r.TotalReturnPercent,
		MaxDrawdownPct: r.MaxDrawdownPercent,
		WinRatePct:     r.WinRatePercent,
		ProfitFactor:   r.ProfitFactor,
		TotalTrades:    r.TotalTrades,
		Halted:         r.Halted,
	}
}
