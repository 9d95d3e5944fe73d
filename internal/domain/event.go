package domain

import (
	"context"
	"time"
)

// EventType classifies a live-session event.
type EventType string

const (
	EventStatus   EventType = "status"
	EventCandle   EventType = "candle"
	EventBalance  EventType = "balance"
	EventTrade    EventType = "trade"
	EventPosition EventType = "position"
	EventError    EventType = "error"
)

// Event is one structured message emitted by a live session.
type Event struct {
	RunID     string    `json:"run_id"`
	Type      EventType `json:"event_type"`
	Payload   any       `json:"payload"`
	EmittedAt time.Time `json:"emitted_at"`
}

// EventSink receives live-session events. Implementations must be safe for
// concurrent use; callers log and drop emission errors.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// BalancePayload is the per-bar account snapshot of a live session.
type BalancePayload struct {
	QuoteBalance float64   `json:"quote_balance"`
	BaseBalance  float64   `json:"base_balance"`
	Equity       float64   `json:"equity"`
	LastPrice    float64   `json:"last_price"`
	Position     *Position `json:"position"`
	Timestamp    int64     `json:"timestamp"`
}
