// Package metrics derives performance statistics from a finished equity
// curve and trade list. Every ratio falls back to 0 when its denominator is
// zero or the sample is too small.
package metrics

import (
	"strings"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// Input is everything Calculate needs.
type Input struct {
	EquityCurve    []domain.EquityPoint
	Trades         []domain.Trade
	InitialBalance float64
	Timeframe      string
	RiskFreeRate   float64 // annual, as a fraction
}

// Report is the metrics block attached to a backtest result.
type Report struct {
	Summary       Summary      `json:"summary"`
	Risk          Risk         `json:"risk"`
	Consistency   Consistency  `json:"consistency"`
	TimeAnalysis  TimeAnalysis `json:"time_analysis"`
	DrawdownCurve []float64    `json:"drawdown_curve"` // percent, <= 0
	ReturnsSeries []float64    `json:"returns_series"` // percent
}

type Summary struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"`
	NetProfit      float64 `json:"net_profit"`
	ReturnPct      float64 `json:"return_pct"`
	CAGR           float64 `json:"cagr"`
}

type Risk struct {
	Sharpe              float64 `json:"sharpe"`
	Sortino             float64 `json:"sortino"`
	Volatility          float64 `json:"volatility"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"` // bars
	Calmar              float64 `json:"calmar"`
}

type Consistency struct {
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	LossRate     float64 `json:"loss_rate"`
	AvgTrade     float64 `json:"avg_trade"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"` // magnitude
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"` // magnitude
	ProfitFactor float64 `json:"profit_factor"`
	Expectancy   float64 `json:"expectancy"`
	PayoffRatio  float64 `json:"payoff_ratio"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"` // negative or 0
}

type TimeAnalysis struct {
	MonthlyReturns []MonthlyReturn `json:"monthly_returns"`
}

type MonthlyReturn struct {
	Month       string  `json:"month"` // YYYY-MM, UTC
	ReturnPct   float64 `json:"return_pct"`
	StartEquity float64 `json:"start_equity"`
	EndEquity   float64 `json:"end_equity"`
}

var periodsPerYear = map[string]float64{
	"1m":  525600,
	"3m":  175200,
	"5m":  105120,
	"15m": 35040,
	"30m": 17520,
	"1h":  8760,
	"2h":  4380,
	"4h":  2190,
	"6h":  1460,
	"8h":  1095,
	"12h": 730,
	"1d":  365,
	"3d":  122,
	"1w":  52,
	"1mo": 12,
	"1M":  12,
}

// PeriodsPerYear annualizes per-bar statistics for timeframe. Unknown
// timeframes are treated as daily.
func PeriodsPerYear(timeframe string) float64 {
	tf := strings.TrimSpace(timeframe)
	if p, ok := periodsPerYear[tf]; ok {
		return p
	}
	if p, ok := periodsPerYear[strings.ToLower(tf)]; ok {
		return p
	}
	return 365
}

// Calculate builds the full report. It never fails.
func Calculate(in Input) Report {
	equities := make([]float64, len(in.EquityCurve))
	for i, p := range in.EquityCurve {
		equities[i] = p.Equity
	}

	r := Report{
		Summary:       Summary{InitialBalance: in.InitialBalance},
		Consistency:   tradeStats(in.Trades),
		TimeAnalysis:  TimeAnalysis{MonthlyReturns: monthlyReturns(in.EquityCurve)},
		DrawdownCurve: []float64{},
		ReturnsSeries: []float64{},
	}
	if len(equities) == 0 {
		r.Summary.FinalBalance = in.InitialBalance
		return r
	}

	final := equities[len(equities)-1]
	r.Summary.FinalBalance = final
	r.Summary.NetProfit = final - in.InitialBalance
	if in.InitialBalance != 0 {
		r.Summary.ReturnPct = r.Summary.NetProfit / in.InitialBalance * 100
	}

	rets := returns(equities)
	ppy := PeriodsPerYear(in.Timeframe)
	dd, maxDD := drawdowns(equities)

	r.Risk = Risk{
		Sharpe:              sharpe(rets, ppy, in.RiskFreeRate),
		Sortino:             sortino(rets, ppy, in.RiskFreeRate),
		Volatility:          volatility(rets, ppy),
		MaxDrawdownPct:      maxDD * 100,
		MaxDrawdownDuration: underwater(dd),
	}

	first, last, ok := span(in.EquityCurve)
	if ok {
		r.Summary.CAGR = cagr(in.InitialBalance, final, first, last)
	}
	if maxDD > 0 {
		r.Risk.Calmar = r.Summary.CAGR / maxDD
	}

	for _, d := range dd {
		r.DrawdownCurve = append(r.DrawdownCurve, d*100)
	}
	for _, x := range rets {
		r.ReturnsSeries = append(r.ReturnsSeries, x*100)
	}
	return r
}
