package indicator

import (
	"sort"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// Names of the series produced by Compute.
const (
	SMAFast    = "sma_fast"
	SMASlow    = "sma_slow"
	EMAFast    = "ema_fast"
	EMASlow    = "ema_slow"
	RSIName    = "rsi"
	Volatile   = "volatility"
	ZScoreName = "zscore"
	ATRName    = "atr"
)

// Set is a named collection of aligned series.
type Set map[string]Series

// Compute derives every configured series for candles.
func Compute(candles []domain.Candle, cfg domain.AlgoConfig) Set {
	closes := Closes(candles)
	return Set{
		SMAFast:    SMA(closes, cfg.FastMAWindow),
		SMASlow:    SMA(closes, cfg.SlowMAWindow),
		EMAFast:    EMA(closes, cfg.FastMAWindow),
		EMASlow:    EMA(closes, cfg.SlowMAWindow),
		RSIName:    RSI(closes, cfg.RSIWindow),
		Volatile:   Volatility(closes, cfg.VolatilityWindow),
		ZScoreName: ZScore(closes, cfg.LookbackWindow),
		ATRName:    ATR(candles, cfg.VolatilityWindow),
	}
}

// Names returns the series names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
