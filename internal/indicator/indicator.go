// Package indicator computes technical indicator series over candles. Every
// series is aligned 1:1 with its input; NaN marks a bar whose window is not
// yet filled.
package indicator

import (
	"math"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// Series is one indicator value per bar.
type Series []float64

// At returns the value at i and whether it is ready.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) || math.IsNaN(s[i]) {
		return 0, false
	}
	return s[i], true
}

func pending(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Closes extracts close prices.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// SMA is the simple moving average over window values.
func SMA(values []float64, window int) Series {
	out := pending(len(values))
	if window < 1 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i+1 >= window {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA seeds with the SMA of the first window and then applies
// alpha = 2/(window+1).
func EMA(values []float64, window int) Series {
	out := pending(len(values))
	if window < 1 || len(values) < window {
		return out
	}
	alpha := 2 / float64(window+1)
	var seed float64
	for _, v := range values[:window] {
		seed += v
	}
	prev := seed / float64(window)
	out[window-1] = prev
	for i := window; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RSI uses Wilder smoothing: the first value, at index window, averages the
// first window gains and losses; later values apply
// avg = (avg*(window-1) + x) / window.
func RSI(values []float64, window int) Series {
	out := pending(len(values))
	if window < 1 || len(values) <= window {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := math.Max(change, 0), math.Max(-change, 0)
		switch {
		case i < window:
			avgGain += gain
			avgLoss += loss
			continue
		case i == window:
			avgGain = (avgGain + gain) / float64(window)
			avgLoss = (avgLoss + loss) / float64(window)
		default:
			avgGain = (avgGain*float64(window-1) + gain) / float64(window)
			avgLoss = (avgLoss*float64(window-1) + loss) / float64(window)
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// Volatility is the population standard deviation of a trailing window.
func Volatility(values []float64, window int) Series {
	out := pending(len(values))
	if window < 1 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		_, std := meanStd(values[i+1-window : i+1])
		out[i] = std
	}
	return out
}

// ZScore scores each value against its own trailing window. A flat window
// scores 0.
func ZScore(values []float64, window int) Series {
	out := pending(len(values))
	if window < 1 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		mean, std := meanStd(values[i+1-window : i+1])
		if std == 0 {
			out[i] = 0
			continue
		}
		out[i] = (values[i] - mean) / std
	}
	return out
}

// ATR averages the true range over a trailing window. The first bar has no
// previous close and contributes a true range of 0.
func ATR(candles []domain.Candle, window int) Series {
	out := pending(len(candles))
	if window < 1 {
		return out
	}
	tr := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		c, prevClose := candles[i], candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
		if i < window {
			continue
		}
		var sum float64
		for _, v := range tr[i-window+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(window)
	}
	return out
}

func meanStd(window []float64) (mean, std float64) {
	n := float64(len(window))
	for _, v := range window {
		mean += v
	}
	mean /= n
	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / n)
}
