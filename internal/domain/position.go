package domain

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position is the single open position of a run. It is a value type: every
// change goes through a method that returns the updated copy, so a snapshot
// handed to a strategy or recorded in a trade never aliases live state.
type Position struct {
	Side       Side    `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	OpenedAt   int64   `json:"opened_at"`
	MaxPrice   float64 `json:"max_price"` // best high since entry, for trailing stops
	MinPrice   float64 `json:"min_price"` // best low since entry, for trailing stops
}

// OpenPosition returns a freshly filled position.
func OpenPosition(side Side, price, qty float64, ts int64) Position {
	return Position{
		Side:       side,
		EntryPrice: price,
		Quantity:   qty,
		OpenedAt:   ts,
		MaxPrice:   price,
		MinPrice:   price,
	}
}

// Observe folds a bar's range into the best-seen prices.
func (p Position) Observe(high, low float64) Position {
	if high > p.MaxPrice {
		p.MaxPrice = high
	}
	if low < p.MinPrice {
		p.MinPrice = low
	}
	return p
}

// Unrealized is the mark-to-market P&L at price.
func (p Position) Unrealized(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// Notional is the entry value of the position.
func (p Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}

// Close settles the position at exitPrice. The fee is charged on both legs
// at their effective prices.
func (p Position) Close(exitPrice float64, ts int64, feeRate float64, reason ExitReason) Trade {
	gross := p.Unrealized(exitPrice)
	fee := feeRate * (p.Notional() + exitPrice*p.Quantity)
	return Trade{
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		GrossPnL:   gross,
		Fee:        fee,
		NetPnL:     gross - fee,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   ts,
		DurationMs: ts - p.OpenedAt,
		ExitReason: reason,
	}
}
