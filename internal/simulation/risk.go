package simulation

import "github.com/alanyoungcy/quantlab/internal/domain"

type trigger struct {
	price  float64
	reason domain.ExitReason
}

// riskExit evaluates the stop-loss, take-profit and trailing-stop levels of
// p against bar. p must already have observed the bar. When several levels
// are crossed the fill that is worst for the position wins; on equal fills
// the earlier level in the order stop-loss, trailing stop, take-profit is
// reported.
func riskExit(cfg domain.AlgoConfig, p domain.Position, bar domain.Candle) (float64, domain.ExitReason, bool) {
	long := p.Side == domain.SideLong
	var hits []trigger

	if cfg.StopLossPct != nil {
		level := p.EntryPrice * (1 - *cfg.StopLossPct/100)
		if !long {
			level = p.EntryPrice * (1 + *cfg.StopLossPct/100)
		}
		if crossedAgainst(long, level, bar) {
			hits = append(hits, trigger{level, domain.ExitStopLoss})
		}
	}
	if cfg.TrailingStopPct != nil {
		level := p.MaxPrice * (1 - *cfg.TrailingStopPct/100)
		if !long {
			level = p.MinPrice * (1 + *cfg.TrailingStopPct/100)
		}
		if crossedAgainst(long, level, bar) {
			hits = append(hits, trigger{level, domain.ExitTrailingStop})
		}
	}
	if cfg.TakeProfitPct != nil {
		level := p.EntryPrice * (1 + *cfg.TakeProfitPct/100)
		crossed := bar.High >= level
		if !long {
			level = p.EntryPrice * (1 - *cfg.TakeProfitPct/100)
			crossed = bar.Low <= level
		}
		if crossed {
			hits = append(hits, trigger{level, domain.ExitTakeProfit})
		}
	}
	if len(hits) == 0 {
		return 0, "", false
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if (long && h.price < best.price) || (!long && h.price > best.price) {
			best = h
		}
	}
	// The worst model only slips protective stops. A take-profit rests as a
	// limit and fills at its level.
	if cfg.StopFillModel == domain.StopFillWorst && best.reason != domain.ExitTakeProfit {
		if long {
			return bar.Low, best.reason, true
		}
		return bar.High, best.reason, true
	}
	return best.price, best.reason, true
}

// crossedAgainst reports whether bar traded through a protective level:
// down through it for a long, up through it for a short.
func crossedAgainst(long bool, level float64, bar domain.Candle) bool {
	if long {
		return bar.Low <= level
	}
	return bar.High >= level
}
