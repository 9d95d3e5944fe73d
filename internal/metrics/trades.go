package metrics

import (
	"sort"
	"time"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

func tradeStats(trades []domain.Trade) Consistency {
	c := Consistency{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return c
	}

	var wins, losses []float64
	var total float64
	for _, t := range trades {
		total += t.NetPnL
		switch {
		case t.NetPnL > 0:
			wins = append(wins, t.NetPnL)
			c.GrossProfit += t.NetPnL
			c.LargestWin = max(c.LargestWin, t.NetPnL)
		case t.NetPnL < 0:
			losses = append(losses, t.NetPnL)
			c.GrossLoss -= t.NetPnL
			c.LargestLoss = min(c.LargestLoss, t.NetPnL)
		}
	}

	n := float64(len(trades))
	c.WinRate = float64(len(wins)) / n
	c.LossRate = 1 - c.WinRate
	c.AvgTrade = total / n
	c.AvgWin = mean(wins)
	c.AvgLoss = -mean(losses)
	if c.GrossLoss > 0 {
		c.ProfitFactor = c.GrossProfit / c.GrossLoss
	}
	c.Expectancy = c.WinRate*c.AvgWin - c.LossRate*c.AvgLoss
	if c.AvgLoss > 0 {
		c.PayoffRatio = c.AvgWin / c.AvgLoss
	}
	return c
}

// monthlyReturns buckets the timestamped samples by UTC calendar month.
// Fewer than two timestamped samples produce no buckets.
func monthlyReturns(curve []domain.EquityPoint) []MonthlyReturn {
	pts := make([]domain.EquityPoint, 0, len(curve))
	for _, p := range curve {
		if p.Timestamp > 0 {
			pts = append(pts, p)
		}
	}
	out := []MonthlyReturn{}
	if len(pts) < 2 {
		return out
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Timestamp < pts[j].Timestamp })

	for _, p := range pts {
		month := time.UnixMilli(p.Timestamp).UTC().Format("2006-01")
		if n := len(out); n > 0 && out[n-1].Month == month {
			out[n-1].EndEquity = p.Equity
			continue
		}
		out = append(out, MonthlyReturn{Month: month, StartEquity: p.Equity, EndEquity: p.Equity})
	}
	for i := range out {
		if out[i].StartEquity != 0 {
			out[i].ReturnPct = (out[i].EndEquity/out[i].StartEquity - 1) * 100
		}
	}
	return out
}
