package binance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

const (
	// reconnectDelay is the base delay before resubscribing after a drop.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 30 * time.Second
)

// SubscribeClosed streams closed klines for symbol until ctx is cancelled.
// In-progress kline updates are dropped. Dropped connections are retried
// with exponential backoff.
func (c *Client) SubscribeClosed(ctx context.Context, symbol, timeframe string, fn func(domain.Candle)) error {
	if !ValidInterval(timeframe) {
		return fmt.Errorf("binance: interval %q: %w", timeframe, domain.ErrInvalidInput)
	}
	logger := c.logger.With(slog.String("symbol", symbol), slog.String("interval", timeframe))

	handler := func(ev *gobinance.WsKlineEvent) {
		k := ev.Kline
		if !k.IsFinal {
			return
		}
		candle, err := parseCandle(k.StartTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			logger.WarnContext(ctx, "drop malformed kline", slog.String("error", err.Error()))
			return
		}
		fn(candle)
	}

	delay := c.delay
	for {
		connected := time.Now()
		doneC, stopC, err := c.serve(symbol, timeframe, handler, func(err error) {
			logger.WarnContext(ctx, "kline stream error", slog.String("error", err.Error()))
		})
		if err == nil {
			select {
			case <-ctx.Done():
				close(stopC)
				return ctx.Err()
			case <-doneC:
				err = domain.ErrWSDisconnect
			}
			// A connection that stayed up for a while resets the backoff.
			if time.Since(connected) > maxReconnectDelay {
				delay = c.delay
			}
		}

		logger.WarnContext(ctx, "kline stream reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}
