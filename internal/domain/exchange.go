package domain

import (
	"context"
	"time"
)

// DefaultFeeRate is the taker fee used when neither the request nor the
// exchange supplies one.
const DefaultFeeRate = 0.001

// Credentials are optional exchange API credentials. Market data endpoints
// work without them.
type Credentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// CandleRequest selects a historical range of bars.
type CandleRequest struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
}

// CandleProvider fetches historical bars in chronological order.
type CandleProvider interface {
	FetchCandles(ctx context.Context, req CandleRequest) ([]Candle, error)
	DefaultFeeRate() float64
}

// CandleStream delivers closed bars as they happen. SubscribeClosed blocks
// until ctx is cancelled, reconnecting on network faults.
type CandleStream interface {
	SubscribeClosed(ctx context.Context, symbol, timeframe string, fn func(Candle)) error
}

// Exchange is a market-data client for one venue.
type Exchange interface {
	CandleProvider
	CandleStream
}

// ExchangeFactory builds a client for an exchange id such as "binance".
type ExchangeFactory interface {
	Exchange(name string, creds Credentials) (Exchange, error)
}
