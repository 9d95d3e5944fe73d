// Package binance adapts the Binance spot API to the domain exchange
// interfaces: paginated historical klines over REST and closed klines over
// the market-data WebSocket.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

const (
	// pageLimit is the maximum number of klines Binance returns per call.
	pageLimit = 1000

	// testnetURL is the spot testnet REST root.
	testnetURL = "https://testnet.binance.vision"

	rateKey = "binance:klines"
)

var intervals = map[string]time.Duration{
	"1m": time.Minute, "3m": 3 * time.Minute, "5m": 5 * time.Minute,
	"15m": 15 * time.Minute, "30m": 30 * time.Minute,
	"1h": time.Hour, "2h": 2 * time.Hour, "4h": 4 * time.Hour, "6h": 6 * time.Hour,
	"8h": 8 * time.Hour, "12h": 12 * time.Hour,
	"1d": 24 * time.Hour, "3d": 72 * time.Hour, "1w": 7 * 24 * time.Hour, "1M": 30 * 24 * time.Hour,
}

// ValidInterval reports whether tf is a Binance kline interval.
func ValidInterval(tf string) bool {
	_, ok := intervals[tf]
	return ok
}

type klinesFunc func(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]*gobinance.Kline, error)

type serveFunc func(symbol, interval string, h gobinance.WsKlineHandler, eh gobinance.ErrHandler) (doneC, stopC chan struct{}, err error)

// Options configure a Client.
type Options struct {
	FeeRate        float64            // defaults to domain.DefaultFeeRate
	Limiter        domain.RateLimiter // optional, shared across instances
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Client is a market-data client for one set of credentials.
type Client struct {
	klines  klinesFunc
	serve   serveFunc
	limiter domain.RateLimiter
	feeRate float64
	delay   time.Duration
	logger  *slog.Logger
}

var _ domain.Exchange = (*Client)(nil)

// New creates a Client. Credentials are optional; public market data works
// without them.
func New(creds domain.Credentials, opts Options) *Client {
	rest := gobinance.NewClient(creds.APIKey, creds.APISecret)
	if creds.Testnet {
		rest.BaseURL = testnetURL
	}
	return newClient(func(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]*gobinance.Kline, error) {
		return rest.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(start).
			EndTime(end).
			Limit(limit).
			Do(ctx)
	}, gobinance.WsKlineServe, opts)
}

func newClient(klines klinesFunc, serve serveFunc, opts Options) *Client {
	if opts.FeeRate <= 0 {
		opts.FeeRate = domain.DefaultFeeRate
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = reconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		klines:  klines,
		serve:   serve,
		limiter: opts.Limiter,
		feeRate: opts.FeeRate,
		delay:   opts.ReconnectDelay,
		logger:  logger.With(slog.String("component", "binance")),
	}
}

// DefaultFeeRate is the spot taker fee.
func (c *Client) DefaultFeeRate() float64 { return c.feeRate }

// FetchCandles pages through klines opening in [req.Start, req.End].
func (c *Client) FetchCandles(ctx context.Context, req domain.CandleRequest) ([]domain.Candle, error) {
	if !ValidInterval(req.Timeframe) {
		return nil, fmt.Errorf("binance: interval %q: %w", req.Timeframe, domain.ErrInvalidInput)
	}
	start, end := req.Start.UnixMilli(), req.End.UnixMilli()

	var out []domain.Candle
	for start <= end {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, rateKey); err != nil {
				return nil, fmt.Errorf("binance: rate limit: %w", err)
			}
		}
		page, err := c.klines(ctx, req.Symbol, req.Timeframe, start, end, pageLimit)
		if err != nil {
			return nil, fmt.Errorf("binance: fetch klines: %w", err)
		}
		for _, k := range page {
			candle, err := restCandle(k)
			if err != nil {
				return nil, fmt.Errorf("binance: decode kline %d: %w", k.OpenTime, err)
			}
			out = append(out, candle)
		}
		if len(page) < pageLimit {
			break
		}
		start = page[len(page)-1].OpenTime + 1
	}

	c.logger.DebugContext(ctx, "klines fetched",
		slog.String("symbol", req.Symbol),
		slog.String("interval", req.Timeframe),
		slog.Int("count", len(out)),
	)
	return out, nil
}

func restCandle(k *gobinance.Kline) (domain.Candle, error) {
	return parseCandle(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
}

func parseCandle(ts int64, fields ...string) (domain.Candle, error) {
	var v [5]float64
	for i, s := range fields {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, err
		}
		v[i] = f
	}
	return domain.Candle{Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4], Timestamp: ts}, nil
}
