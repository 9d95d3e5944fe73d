package domain

// ExitReason records what closed a trade.
type ExitReason string

const (
	ExitSignal       ExitReason = "signal"
	ExitFlip         ExitReason = "flip"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTrailingStop ExitReason = "trailing_stop"
)

// Trade is an immutable record of a closed position. NetPnL is always
// GrossPnL minus Fee.
type Trade struct {
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Quantity   float64    `json:"quantity"`
	GrossPnL   float64    `json:"gross_pnl"`
	NetPnL     float64    `json:"net_pnl"`
	Fee        float64    `json:"fee"`
	OpenedAt   int64      `json:"opened_at"`
	ClosedAt   int64      `json:"closed_at"`
	DurationMs int64      `json:"duration_ms"`
	ExitReason ExitReason `json:"exit_reason"`
}
