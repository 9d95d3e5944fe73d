package domain

import "time"

// Candle is one closed OHLCV bar. Timestamp is the bar open time in
// milliseconds since the Unix epoch.
type Candle struct {
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// Time returns the bar timestamp as a UTC time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// EquityPoint is one sample of the equity curve, taken at a bar close.
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
}
