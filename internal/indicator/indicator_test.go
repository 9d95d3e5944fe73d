package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

func ready(s Series) int {
	for i, v := range s {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}

func TestSMA(t *testing.T) {
	s := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, s, 5)
	assert.Equal(t, 2, ready(s))
	assert.InDelta(t, 2, s[2], 1e-12)
	assert.InDelta(t, 3, s[3], 1e-12)
	assert.InDelta(t, 4, s[4], 1e-12)

	_, ok := s.At(1)
	assert.False(t, ok)
	_, ok = s.At(10)
	assert.False(t, ok)
}

func TestEMASeedsWithSMA(t *testing.T) {
	s := EMA([]float64{2, 4, 6, 8}, 3)
	assert.Equal(t, 2, ready(s))
	assert.InDelta(t, 4, s[2], 1e-12)
	// alpha = 0.5
	assert.InDelta(t, 6, s[3], 1e-12)
}

func TestRSI(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6}
	s := RSI(rising, 3)
	assert.Equal(t, 3, ready(s))
	assert.Equal(t, 100.0, s[3])

	mixed := []float64{10, 11, 10, 11, 10}
	s = RSI(mixed, 2)
	// first avg at i=2: gains (1,0)/2, losses (0,1)/2 -> RSI 50
	assert.InDelta(t, 50, s[2], 1e-9)
	// i=3: gain 1 -> avgGain (0.5*1+1)/2 = 0.75, avgLoss 0.25
	assert.InDelta(t, 75, s[3], 1e-9)
}

func TestVolatilityAndZScore(t *testing.T) {
	values := []float64{1, 1, 1, 2, 4}
	vol := Volatility(values, 3)
	assert.Equal(t, 2, ready(vol))
	assert.Equal(t, 0.0, vol[2])

	z := ZScore(values, 3)
	assert.Equal(t, 0.0, z[2], "flat window scores zero")
	mean := (1.0 + 2 + 4) / 3
	std := math.Sqrt(((1-mean)*(1-mean) + (2-mean)*(2-mean) + (4-mean)*(4-mean)) / 3)
	assert.InDelta(t, (4-mean)/std, z[4], 1e-12)
	assert.InDelta(t, std, vol[4], 1e-12)
}

func TestATR(t *testing.T) {
	candles := []domain.Candle{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},  // TR 2
		{High: 14, Low: 10, Close: 13}, // TR 4
		{High: 13, Low: 12, Close: 12}, // TR 1
	}
	s := ATR(candles, 2)
	assert.Equal(t, 2, ready(s))
	assert.InDelta(t, 3, s[2], 1e-12)
	assert.InDelta(t, 2.5, s[3], 1e-12)
}

func TestComputeAlignsEverySeries(t *testing.T) {
	candles := make([]domain.Candle, 60)
	for i := range candles {
		c := 100 + float64(i)
		candles[i] = domain.Candle{Open: c, High: c + 1, Low: c - 1, Close: c, Timestamp: int64(i) * 60_000}
	}
	set := Compute(candles, domain.DefaultAlgoConfig())

	assert.Equal(t, []string{ATRName, EMAFast, EMASlow, RSIName, SMAFast, SMASlow, Volatile, ZScoreName}, set.Names())
	for name, s := range set {
		assert.Len(t, s, len(candles), name)
	}
	assert.Equal(t, 9, ready(set[SMAFast]))
	assert.Equal(t, 49, ready(set[SMASlow]))
	assert.Equal(t, 14, ready(set[RSIName]))
	assert.Equal(t, 20, ready(set[ATRName]))
}
