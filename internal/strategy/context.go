package strategy

import (
	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/indicator"
)

// Context is everything a strategy may observe when deciding on the bar at
// Index. History and Indicators only cover bars that closed before Index.
type Context struct {
	Index          int
	Candle         domain.Candle
	History        []domain.Candle
	Indicators     map[string]float64 // NaN while an indicator warms up
	Position       *domain.Position
	Balance        float64
	InitialBalance float64
	Timeframe      string
}

// HistoryWindow is the number of closed bars exposed to a strategy when the
// caller has no fixed window of its own.
func HistoryWindow(cfg domain.AlgoConfig) int {
	return max(cfg.MinBars, cfg.SlowMAWindow, cfg.LookbackWindow, 30)
}

// Build assembles the context for candles[index]. The returned value never
// shares memory with candles, series or position.
func Build(
	index int,
	candles []domain.Candle,
	series indicator.Set,
	position *domain.Position,
	balance, initialBalance float64,
	timeframe string,
	historyWindow int,
) *Context {
	c := &Context{
		Index:          index,
		Candle:         candles[index],
		Indicators:     map[string]float64{},
		Balance:        balance,
		InitialBalance: initialBalance,
		Timeframe:      timeframe,
	}
	if position != nil {
		p := *position
		c.Position = &p
	}
	if index == 0 {
		return c
	}

	prev := index - 1
	start := max(0, prev-historyWindow+1)
	c.History = append([]domain.Candle(nil), candles[start:index]...)
	for name, s := range series {
		if prev < len(s) {
			c.Indicators[name] = s[prev]
		}
	}
	return c
}
