package simulation

import (
	"github.com/alanyoungcy/quantlab/internal/domain"
)

// Skip reasons reported when an entry intent does not open a position.
const (
	SkipDirection = "direction"
	SkipCooldown  = "cooldown"
	SkipReentry   = "reentry_blocked"
	SkipExposure  = "exposure_cap"
	SkipSize      = "zero_size"
)

// StepResult describes what one bar did to the run.
type StepResult struct {
	Opened   *domain.Position
	Closed   []domain.Trade
	Skipped  string
	Equity   float64
	Drawdown float64 // fraction of peak, >= 0
	Halt     HaltReason
}

// Simulator applies bars and intents to a RunState in the fixed order:
// intrabar risk exit, intent, equity sample, termination checks.
type Simulator struct {
	cfg     domain.AlgoConfig
	feeRate float64
	initial float64
	state   RunState
}

// New returns a flat simulator. cfg must already be validated.
func New(cfg domain.AlgoConfig, initialBalance, feeRate float64) *Simulator {
	return &Simulator{
		cfg:     cfg,
		feeRate: feeRate,
		initial: initialBalance,
		state: RunState{
			Balance:    initialBalance,
			PeakEquity: initialBalance,
		},
	}
}

// State returns a snapshot of the run. The slices are shared with the
// simulator and must not be modified.
func (s *Simulator) State() RunState {
	st := s.state
	if st.Position != nil {
		p := *st.Position
		st.Position = &p
	}
	return st
}

// Halted reports whether a terminal condition has been reached.
func (s *Simulator) Halted() bool { return s.state.Halt != HaltNone }

// Step processes one closed bar. next is the following bar when known; it
// is only consulted by the next_open execution model. Once halted, Step is
// a no-op that reports the halt.
func (s *Simulator) Step(bar domain.Candle, next *domain.Candle, intent domain.Intent) StepResult {
	if s.Halted() {
		return StepResult{Halt: s.state.Halt}
	}
	var res StepResult

	if s.state.Position != nil {
		p := s.state.Position.Observe(bar.High, bar.Low)
		s.state.Position = &p
		if price, reason, ok := riskExit(s.cfg, p, bar); ok {
			res.Closed = append(res.Closed, s.close(price, bar.Timestamp, reason))
		}
	}

	s.apply(bar, next, intent, &res)

	equity := s.state.Equity(bar.Close)
	s.state.EquityCurve = append(s.state.EquityCurve, domain.EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
	if equity > s.state.PeakEquity {
		s.state.PeakEquity = equity
	}
	var dd float64
	if s.state.PeakEquity > 0 {
		dd = (s.state.PeakEquity - equity) / s.state.PeakEquity
	}
	if dd > s.state.MaxDrawdown {
		s.state.MaxDrawdown = dd
	}
	res.Equity, res.Drawdown = equity, dd

	switch {
	case equity <= 0:
		s.state.Halt = HaltLiquidation
	case s.cfg.MaxDrawdownPct != nil && dd >= *s.cfg.MaxDrawdownPct/100:
		s.state.Halt = HaltKillSwitch
	}
	res.Halt = s.state.Halt
	return res
}

func (s *Simulator) apply(bar domain.Candle, next *domain.Candle, intent domain.Intent, res *StepResult) {
	price := bar.Close
	if s.cfg.ExecutionModel == domain.ExecNextOpen && next != nil {
		price = next.Open
	}

	var side domain.Side
	switch intent {
	case domain.IntentHold:
		s.state.ReentryBlocked = false
		return
	case domain.IntentClose:
		if s.state.Position != nil {
			res.Closed = append(res.Closed, s.closeAtMarket(price, bar.Timestamp, domain.ExitSignal))
		}
		return
	case domain.IntentLong:
		side = domain.SideLong
	case domain.IntentShort:
		if s.cfg.Direction == domain.DirectionLongOnly {
			res.Skipped = SkipDirection
			return
		}
		side = domain.SideShort
	default:
		return
	}

	if p := s.state.Position; p != nil {
		if p.Side == side {
			return
		}
		res.Closed = append(res.Closed, s.closeAtMarket(price, bar.Timestamp, domain.ExitFlip))
	}

	if reason := s.entryBlocked(bar.Timestamp); reason != "" {
		res.Skipped = reason
		return
	}
	fill := s.slip(price, side == domain.SideLong)
	qty := s.size(fill)
	if !(qty > 0) {
		res.Skipped = SkipSize
		return
	}
	if qty*fill > s.initial*s.cfg.MaxAccountExposurePct/100 {
		res.Skipped = SkipExposure
		return
	}
	p := domain.OpenPosition(side, fill, qty, bar.Timestamp)
	s.state.Position = &p
	opened := p
	res.Opened = &opened
}

func (s *Simulator) entryBlocked(ts int64) string {
	if s.state.ReentryBlocked {
		return SkipReentry
	}
	if s.state.HasExited && s.cfg.CooldownSeconds > 0 &&
		float64(ts-s.state.LastExitAt)/1000 < float64(s.cfg.CooldownSeconds) {
		return SkipCooldown
	}
	return ""
}

// size returns the order quantity for a fill at price.
func (s *Simulator) size(price float64) float64 {
	if s.cfg.BatchSizeType == domain.SizingPercentBalance {
		if price <= 0 {
			return 0
		}
		return s.state.Balance * s.cfg.BatchSize / 100 * s.cfg.Leverage / price
	}
	return s.cfg.BatchSize
}

// slip moves price against the taker: buys pay more, sells receive less.
func (s *Simulator) slip(price float64, buy bool) float64 {
	adj := s.cfg.SlippageBps / 10_000
	if buy {
		return price * (1 + adj)
	}
	return price * (1 - adj)
}

// closeAtMarket exits at the execution price after slippage. Closing a long
// is a sell; closing a short is a buy.
func (s *Simulator) closeAtMarket(price float64, ts int64, reason domain.ExitReason) domain.Trade {
	return s.close(s.slip(price, s.state.Position.Side == domain.SideShort), ts, reason)
}

func (s *Simulator) close(price float64, ts int64, reason domain.ExitReason) domain.Trade {
	t := s.state.Position.Close(price, ts, s.feeRate, reason)
	s.state.Balance += t.NetPnL
	s.state.Trades = append(s.state.Trades, t)
	s.state.Position = nil
	s.state.LastExitAt = ts
	s.state.HasExited = true
	if !s.cfg.AllowReentry {
		s.state.ReentryBlocked = true
	}
	return t
}
