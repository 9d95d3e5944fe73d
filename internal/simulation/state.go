// Package simulation is the position and risk state machine. It turns a
// sequence of closed bars and strategy intents into trades and an equity
// curve. A Simulator is owned by exactly one run and is not safe for
// concurrent use.
package simulation

import "github.com/alanyoungcy/quantlab/internal/domain"

// HaltReason explains why a run stopped before its last bar. Halts are
// terminal conditions, not errors.
type HaltReason string

const (
	HaltNone        HaltReason = ""
	HaltLiquidation HaltReason = "liquidation"
	HaltKillSwitch  HaltReason = "max_drawdown"
)

// RunState is the mutable accumulator of one run.
type RunState struct {
	Balance        float64
	Position       *domain.Position
	Trades         []domain.Trade
	EquityCurve    []domain.EquityPoint
	PeakEquity     float64
	MaxDrawdown    float64 // fraction of peak, >= 0
	LastExitAt     int64
	HasExited      bool
	ReentryBlocked bool
	Halt           HaltReason
}

// State is the state of the position machine.
type State string

const (
	StateFlat  State = "FLAT"
	StateLong  State = "LONG"
	StateShort State = "SHORT"
)

// State reports FLAT, LONG or SHORT.
func (s *RunState) State() State {
	if s.Position == nil {
		return StateFlat
	}
	return State(s.Position.Side)
}

// Equity marks the open position to price.
func (s *RunState) Equity(price float64) float64 {
	if s.Position == nil {
		return s.Balance
	}
	return s.Balance + s.Position.Unrealized(price)
}
