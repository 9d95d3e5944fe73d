package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func daily(equities ...float64) []domain.EquityPoint {
	out := make([]domain.EquityPoint, len(equities))
	for i, e := range equities {
		out[i] = domain.EquityPoint{Timestamp: day0.AddDate(0, 0, i).UnixMilli(), Equity: e}
	}
	return out
}

func TestCalculateEmpty(t *testing.T) {
	r := Calculate(Input{InitialBalance: 1000, Timeframe: "1h"})
	assert.Equal(t, 1000.0, r.Summary.FinalBalance)
	assert.Zero(t, r.Summary.NetProfit)
	assert.Zero(t, r.Risk)
	assert.Zero(t, r.Consistency.ProfitFactor)
	assert.NotNil(t, r.DrawdownCurve)
	assert.NotNil(t, r.ReturnsSeries)
	assert.NotNil(t, r.TimeAnalysis.MonthlyReturns)
}

func TestCalculateSinglePoint(t *testing.T) {
	r := Calculate(Input{EquityCurve: daily(1000), InitialBalance: 1000, Timeframe: "1d"})
	assert.Zero(t, r.Risk.Sharpe)
	assert.Zero(t, r.Risk.Sortino)
	assert.Zero(t, r.Risk.Volatility)
	assert.Zero(t, r.Summary.CAGR)
	assert.Equal(t, []float64{0}, r.DrawdownCurve)
	assert.Empty(t, r.ReturnsSeries)
}

func TestCalculateRisk(t *testing.T) {
	r := Calculate(Input{EquityCurve: daily(100, 110, 99, 120), InitialBalance: 100, Timeframe: "1d"})

	assert.InDelta(t, 20, r.Summary.NetProfit, 1e-9)
	assert.InDelta(t, 20, r.Summary.ReturnPct, 1e-9)
	assert.InDelta(t, 10, r.Risk.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 1, r.Risk.MaxDrawdownDuration)
	require.Len(t, r.DrawdownCurve, 4)
	assert.InDelta(t, -10, r.DrawdownCurve[2], 1e-9)
	for _, d := range r.DrawdownCurve {
		assert.LessOrEqual(t, d, 0.0)
	}
	require.Len(t, r.ReturnsSeries, 3)
	assert.InDelta(t, 10, r.ReturnsSeries[0], 1e-9)

	rets := []float64{0.1, -0.1, 120.0/99 - 1}
	m := (rets[0] + rets[1] + rets[2]) / 3
	var ss float64
	for _, x := range rets {
		ss += (x - m) * (x - m)
	}
	sd := math.Sqrt(ss / 3)
	assert.InDelta(t, sd*math.Sqrt(365), r.Risk.Volatility, 1e-9)
	assert.InDelta(t, m/sd*math.Sqrt(365), r.Risk.Sharpe, 1e-9)
	assert.Zero(t, r.Risk.Sortino, "one downside return is not enough")

	years := 3.0 / 365
	wantCAGR := math.Pow(1.2, 1/years) - 1
	assert.InEpsilon(t, wantCAGR, r.Summary.CAGR, 1e-9)
	assert.InEpsilon(t, wantCAGR/0.1, r.Risk.Calmar, 1e-9)
}

func TestSortino(t *testing.T) {
	r := Calculate(Input{EquityCurve: daily(100, 90, 72, 90), InitialBalance: 100, Timeframe: "1d"})
	// downside returns -0.1 and -0.2 have a population deviation of 0.05
	want := ((-0.1 - 0.2 + 0.25) / 3) / 0.05 * math.Sqrt(365)
	assert.InDelta(t, want, r.Risk.Sortino, 1e-9)
	assert.Equal(t, 3, r.Risk.MaxDrawdownDuration)
}

func TestRiskFreeRate(t *testing.T) {
	curve := daily(100, 101, 100.5, 102)
	base := Calculate(Input{EquityCurve: curve, InitialBalance: 100, Timeframe: "1d"})
	withRF := Calculate(Input{EquityCurve: curve, InitialBalance: 100, Timeframe: "1d", RiskFreeRate: 0.05})
	assert.Less(t, withRF.Risk.Sharpe, base.Risk.Sharpe)
	assert.Equal(t, base.Risk.Volatility, withRF.Risk.Volatility)
}

func TestCAGRNeedsTimestamps(t *testing.T) {
	curve := []domain.EquityPoint{{Equity: 100}, {Equity: 150}}
	r := Calculate(Input{EquityCurve: curve, InitialBalance: 100, Timeframe: "1d"})
	assert.Zero(t, r.Summary.CAGR)
	assert.Zero(t, r.Risk.Calmar)
	assert.Empty(t, r.TimeAnalysis.MonthlyReturns)

	r = Calculate(Input{
		EquityCurve: []domain.EquityPoint{
			{Timestamp: day0.UnixMilli(), Equity: 100},
			{Timestamp: day0.AddDate(0, 0, 730).UnixMilli(), Equity: 121},
		},
		InitialBalance: 100,
		Timeframe:      "1d",
	})
	assert.InDelta(t, 0.1, r.Summary.CAGR, 1e-9)
}

func TestTradeStats(t *testing.T) {
	var trades []domain.Trade
	for _, pnl := range []float64{10, -5, 20, -5, 0} {
		trades = append(trades, domain.Trade{NetPnL: pnl})
	}
	c := Calculate(Input{Trades: trades, InitialBalance: 100}).Consistency

	assert.Equal(t, 5, c.TotalTrades)
	assert.InDelta(t, 0.4, c.WinRate, 1e-12)
	assert.InDelta(t, 0.6, c.LossRate, 1e-12)
	assert.Equal(t, 30.0, c.GrossProfit)
	assert.Equal(t, 10.0, c.GrossLoss)
	assert.Equal(t, 3.0, c.ProfitFactor)
	assert.InDelta(t, 4, c.AvgTrade, 1e-12)
	assert.Equal(t, 15.0, c.AvgWin)
	assert.Equal(t, 5.0, c.AvgLoss)
	assert.InDelta(t, 3, c.Expectancy, 1e-12)
	assert.Equal(t, 3.0, c.PayoffRatio)
	assert.Equal(t, 20.0, c.LargestWin)
	assert.Equal(t, -5.0, c.LargestLoss)
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	c := Calculate(Input{Trades: []domain.Trade{{NetPnL: 3}, {NetPnL: 4}}}).Consistency
	assert.Zero(t, c.ProfitFactor)
	assert.Zero(t, c.PayoffRatio)
	assert.Equal(t, 1.0, c.WinRate)
	assert.Zero(t, c.LossRate)
}

func TestMonthlyReturns(t *testing.T) {
	at := func(y int, m time.Month, d int) int64 { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC).UnixMilli() }
	curve := []domain.EquityPoint{
		{Timestamp: at(2024, 1, 30), Equity: 100},
		{Timestamp: at(2024, 1, 31), Equity: 110},
		{Timestamp: at(2024, 2, 1), Equity: 100},
		{Timestamp: at(2024, 2, 29), Equity: 125},
	}
	got := Calculate(Input{EquityCurve: curve, InitialBalance: 100, Timeframe: "1d"}).TimeAnalysis.MonthlyReturns

	require.Len(t, got, 2)
	assert.Equal(t, "2024-01", got[0].Month)
	assert.InDelta(t, 10, got[0].ReturnPct, 1e-9)
	assert.Equal(t, "2024-02", got[1].Month)
	assert.Equal(t, 100.0, got[1].StartEquity)
	assert.InDelta(t, 25, got[1].ReturnPct, 1e-9)
}

func TestPeriodsPerYear(t *testing.T) {
	tests := map[string]float64{
		"1m":   525600,
		"1h":   8760,
		" 4H ": 2190,
		"1d":   365,
		"1w":   52,
		"1M":   12,
		"1mo":  12,
		"7x":   365,
		"":     365,
	}
	for tf, want := range tests {
		assert.Equal(t, want, PeriodsPerYear(tf), tf)
	}
}

func TestZeroPriorEquity(t *testing.T) {
	r := Calculate(Input{EquityCurve: daily(0, 10, 20), InitialBalance: 10, Timeframe: "1d"})
	require.Len(t, r.ReturnsSeries, 2)
	assert.Zero(t, r.ReturnsSeries[0])
	assert.False(t, math.IsNaN(r.Risk.Sharpe))
	assert.False(t, math.IsInf(r.Risk.Sharpe, 0))
}
