package metrics

import (
	"math"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

const msPerDay = 86_400_000.0

// returns are simple per-bar returns; a zero prior equity yields 0.
func returns(eq []float64) []float64 {
	if len(eq) < 2 {
		return nil
	}
	out := make([]float64, 0, len(eq)-1)
	for i := 1; i < len(eq); i++ {
		if eq[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, eq[i]/eq[i-1]-1)
	}
	return out
}

// drawdowns returns (eq-peak)/peak per bar, peak starting at the first
// sample, and the largest drawdown as a positive fraction.
func drawdowns(eq []float64) ([]float64, float64) {
	if len(eq) == 0 {
		return nil, 0
	}
	peak := eq[0]
	out := make([]float64, len(eq))
	var worst float64
	for i, e := range eq {
		if e > peak {
			peak = e
		}
		if peak != 0 {
			out[i] = (e - peak) / peak
		}
		worst = max(worst, -out[i])
	}
	return out, worst
}

// underwater is the longest run of consecutive bars below the peak.
func underwater(dd []float64) int {
	var longest, cur int
	for _, d := range dd {
		if d < 0 {
			cur++
			longest = max(longest, cur)
		} else {
			cur = 0
		}
	}
	return longest
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// pstdev is the population standard deviation.
func pstdev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(len(xs)))
}

func excess(rets []float64, ppy, rf float64) []float64 {
	per := rf / ppy
	out := make([]float64, len(rets))
	for i, r := range rets {
		out[i] = r - per
	}
	return out
}

func volatility(rets []float64, ppy float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	return pstdev(rets) * math.Sqrt(ppy)
}

func sharpe(rets []float64, ppy, rf float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	ex := excess(rets, ppy, rf)
	sd := pstdev(ex)
	if sd == 0 {
		return 0
	}
	return mean(ex) / sd * math.Sqrt(ppy)
}

// sortino divides by the deviation of the negative excess returns only and
// needs at least two of them.
func sortino(rets []float64, ppy, rf float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	ex := excess(rets, ppy, rf)
	var down []float64
	for _, r := range ex {
		if r < 0 {
			down = append(down, r)
		}
	}
	if len(down) < 2 {
		return 0
	}
	sd := pstdev(down)
	if sd == 0 {
		return 0
	}
	return mean(ex) / sd * math.Sqrt(ppy)
}

// span returns the first and last resolvable timestamps of the curve.
func span(curve []domain.EquityPoint) (int64, int64, bool) {
	first, last := int64(0), int64(0)
	for _, p := range curve {
		if p.Timestamp <= 0 {
			continue
		}
		if first == 0 {
			first = p.Timestamp
		}
		last = p.Timestamp
	}
	return first, last, first != 0
}

func cagr(initial, final float64, startMs, endMs int64) float64 {
	if initial <= 0 || final <= 0 {
		return 0
	}
	days := float64(endMs-startMs) / msPerDay
	if days <= 0 {
		return 0
	}
	return math.Pow(final/initial, 365/days) - 1
}
