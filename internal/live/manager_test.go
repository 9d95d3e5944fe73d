package live

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

type harness struct {
	mgr    *Manager
	stream *chanStream
	sink   *sink
	store  *memStore
	alerts *alerts
	arch   *archive
}

func newHarness(t *testing.T, prog Program, opts Options) *harness {
	t.Helper()
	h := &harness{
		stream: &chanStream{feed: make(chan domain.Candle)},
		sink:   &sink{},
		store:  &memStore{},
		alerts: &alerts{},
		arch:   &archive{},
	}
	h.mgr = NewManager(Deps{
		Exchanges: &exchanges{stream: h.stream},
		Compile:   func(context.Context, string) (Program, error) { return prog, nil },
		Sink:      h.sink,
		Store:     h.store,
		Vault:     vault{},
		Archive:   h.arch,
		Alerts:    h.alerts,
	}, opts, discard)
	t.Cleanup(func() { _ = h.mgr.StopAll(context.Background()) })
	return h
}

func request(runID string) StartRequest {
	return StartRequest{RunID: runID, Code: "...", Exchange: "binance", Symbol: "btcusdt", Timeframe: "1m", InitialBalance: 10_000}
}

func candle(i int, c float64) domain.Candle {
	return domain.Candle{Open: c, High: c, Low: c, Close: c, Volume: 1, Timestamp: 1_700_000_000_000 + int64(i)*60_000}
}

func (h *harness) push(t *testing.T, c domain.Candle) {
	t.Helper()
	select {
	case h.stream.feed <- c:
	case <-time.After(2 * time.Second):
		t.Fatal("stream not consuming")
	}
}

func (h *harness) waitFor(t *testing.T, typ domain.EventType, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		count := 0
		for _, et := range h.sink.types() {
			if et == typ {
				count++
			}
		}
		return count >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, &scripted{cfg: domain.DefaultAlgoConfig()}, Options{})
	ctx := t.Context()

	req := request("run-1")
	req.APIKey, req.APISecret = "k", "s"
	require.NoError(t, h.mgr.Start(ctx, req))

	err := h.mgr.Start(ctx, request("run-1"))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.True(t, IsStartError(err))

	st, ok := h.mgr.Status("run-1")
	require.True(t, ok)
	assert.True(t, st.Active)
	assert.Equal(t, "BTCUSDT", st.Symbol)
	assert.Equal(t, 10_000.0, st.Equity)

	rec, err := h.store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "sealed:k", rec.SealedAPIKey)
	assert.Equal(t, domain.DefaultFeeRate, rec.FeeRate)

	require.NoError(t, h.mgr.Stop(ctx, "run-1"))
	require.NoError(t, h.mgr.Stop(ctx, "run-1"), "stop is idempotent")
	require.NoError(t, h.mgr.Stop(ctx, "never-started"))

	_, ok = h.mgr.Status("run-1")
	assert.False(t, ok)
	assert.Equal(t, []domain.EventType{domain.EventStatus, domain.EventStatus}, h.sink.types())
	ev, _ := h.sink.last(domain.EventStatus)
	assert.Equal(t, "STOPPED", ev.Payload.(map[string]string)["status"])

	rec, _ = h.store.Get(ctx, "run-1")
	assert.False(t, rec.Active)
	assert.Zero(t, h.alerts.count(), "manual stops do not alert")
}

func TestStartRejectsBadRequests(t *testing.T) {
	h := newHarness(t, &scripted{cfg: domain.DefaultAlgoConfig()}, Options{})
	req := request("")
	req.InitialBalance = 0
	err := h.mgr.Start(t.Context(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	neg := -0.1
	req = request("run-x")
	req.FeeRate = &neg
	assert.ErrorIs(t, h.mgr.Start(t.Context(), req), domain.ErrInvalidInput)
	assert.Empty(t, h.mgr.List())
}

func TestSessionProcessesBars(t *testing.T) {
	h := newHarness(t, &scripted{
		cfg:   domain.DefaultAlgoConfig(),
		steps: []any{domain.IntentLong, domain.IntentClose},
	}, Options{})
	require.NoError(t, h.mgr.Start(t.Context(), request("run-2")))

	h.push(t, candle(0, 100))
	h.push(t, candle(1, 110))
	h.waitFor(t, domain.EventBalance, 2)

	assert.Equal(t, []domain.EventType{
		domain.EventStatus,
		domain.EventCandle, domain.EventPosition, domain.EventTrade, domain.EventBalance,
		domain.EventCandle, domain.EventTrade, domain.EventBalance,
	}, h.sink.types())

	ev, _ := h.sink.last(domain.EventTrade)
	tr := ev.Payload.(domain.Trade)
	assert.InDelta(t, 9.79, tr.NetPnL, 1e-9)

	ev, _ = h.sink.last(domain.EventBalance)
	bal := ev.Payload.(domain.BalancePayload)
	assert.InDelta(t, 10_009.79, bal.QuoteBalance, 1e-9)
	assert.Zero(t, bal.BaseBalance)
	assert.Equal(t, 110.0, bal.LastPrice)

	st, ok := h.mgr.Status("run-2")
	require.True(t, ok)
	assert.Equal(t, 1, st.Trades)
	assert.Equal(t, 2, st.Bars)
}

func TestStrategyFaultDegradesToHold(t *testing.T) {
	fault := fmt.Errorf("strategy_error:KeyError:boom: %w", domain.ErrStrategyFault)
	h := newHarness(t, &scripted{
		cfg:   domain.DefaultAlgoConfig(),
		steps: []any{fault, domain.IntentLong},
	}, Options{})
	require.NoError(t, h.mgr.Start(t.Context(), request("run-3")))

	h.push(t, candle(0, 100))
	h.push(t, candle(1, 101))
	h.waitFor(t, domain.EventBalance, 2)

	ev, ok := h.sink.last(domain.EventError)
	require.True(t, ok)
	assert.Contains(t, ev.Payload.(map[string]string)["message"], "strategy_error:KeyError")

	st, _ := h.mgr.Status("run-3")
	assert.True(t, st.Active)
	require.NotNil(t, st.Position)
	assert.Equal(t, 1.0, st.BaseBalance)
}

func TestStrictModeStopsSession(t *testing.T) {
	fault := fmt.Errorf("strategy_error:ZeroDivisionError:x: %w", domain.ErrStrategyFault)
	h := newHarness(t, &scripted{cfg: domain.DefaultAlgoConfig(), steps: []any{fault}}, Options{Strict: true})
	require.NoError(t, h.mgr.Start(t.Context(), request("run-4")))

	h.push(t, candle(0, 100))
	require.Eventually(t, func() bool {
		_, ok := h.mgr.Status("run-4")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	h.waitFor(t, domain.EventStatus, 2)
	assert.Equal(t, 1, h.alerts.count())
	rec, _ := h.store.Get(t.Context(), "run-4")
	assert.Contains(t, rec.StopReason, "ZeroDivisionError")
}

func TestLiquidationAutoStops(t *testing.T) {
	cfg := domain.DefaultAlgoConfig()
	cfg.BatchSize = 100
	h := newHarness(t, &scripted{cfg: cfg, steps: []any{domain.IntentLong}}, Options{})
	require.NoError(t, h.mgr.Start(t.Context(), request("run-5")))

	h.push(t, candle(0, 100))
	h.push(t, candle(1, 0))
	require.Eventually(t, func() bool {
		_, ok := h.mgr.Status("run-5")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	h.waitFor(t, domain.EventStatus, 2)
	ev, _ := h.sink.last(domain.EventStatus)
	assert.Equal(t, errLiquidated.Error(), ev.Payload.(map[string]string)["reason"])
}

func TestStopTimesOutOnStuckStream(t *testing.T) {
	h := newHarness(t, &scripted{cfg: domain.DefaultAlgoConfig()}, Options{StopTimeout: 20 * time.Millisecond})
	h.stream.ignore = true
	require.NoError(t, h.mgr.Start(t.Context(), request("run-6")))

	start := time.Now()
	require.NoError(t, h.mgr.Stop(t.Context(), "run-6"))
	assert.Less(t, time.Since(start), time.Second)
	h.waitFor(t, domain.EventStatus, 2)
}

func TestStopAll(t *testing.T) {
	h := newHarness(t, &scripted{cfg: domain.DefaultAlgoConfig()}, Options{})
	for i := range 3 {
		require.NoError(t, h.mgr.Start(t.Context(), request(fmt.Sprintf("run-%d", i))))
	}
	assert.Len(t, h.mgr.List(), 3)

	require.NoError(t, h.mgr.StopAll(t.Context()))
	assert.Empty(t, h.mgr.List())
	h.waitFor(t, domain.EventStatus, 6)
}

func TestSinkFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t, &scripted{cfg: domain.DefaultAlgoConfig(), steps: []any{domain.IntentLong}}, Options{})
	h.sink.fail = true
	require.NoError(t, h.mgr.Start(t.Context(), request("run-7")))

	h.push(t, candle(0, 100))
	h.waitFor(t, domain.EventBalance, 1)
	st, ok := h.mgr.Status("run-7")
	require.True(t, ok)
	assert.NotNil(t, st.Position)
}

func TestExchangeErrorsFailStart(t *testing.T) {
	mgr := NewManager(Deps{
		Exchanges: &exchanges{err: fmt.Errorf("kraken: %w", domain.ErrUnsupported)},
		Compile:   func(context.Context, string) (Program, error) { return &scripted{}, nil },
		Sink:      &sink{},
	}, Options{}, discard)
	err := mgr.Start(t.Context(), request("run-8"))
	assert.ErrorIs(t, err, domain.ErrUnsupported)
	assert.True(t, IsStartError(err))
}

func TestStopArchivesTrades(t *testing.T) {
	h := newHarness(t, &scripted{
		cfg:   domain.DefaultAlgoConfig(),
		steps: []any{domain.IntentLong, domain.IntentClose},
	}, Options{})
	require.NoError(t, h.mgr.Start(t.Context(), request("run-9")))

	h.push(t, candle(0, 100))
	h.push(t, candle(1, 110))
	h.waitFor(t, domain.EventBalance, 2)

	require.NoError(t, h.mgr.Stop(t.Context(), "run-9"))
	trades := h.arch.get("run-9")
	require.Len(t, trades, 1)
	assert.InDelta(t, 9.79, trades[0].NetPnL, 1e-9)
}

func TestResumeRestartsActiveSessions(t *testing.T) {
	h := newHarness(t, &scripted{cfg: domain.DefaultAlgoConfig()}, Options{})
	ctx := t.Context()

	fee := 0.0005
	require.NoError(t, h.store.Create(ctx, domain.PaperSession{
		RunID: "stale-1", Exchange: "binance", Symbol: "ETHUSDT", Timeframe: "5m",
		Code: "...", InitialBalance: 500, FeeRate: fee,
		SealedAPIKey: "sealed:k", SealedSecret: "sealed:s", Active: true,
	}))
	require.NoError(t, h.store.Create(ctx, domain.PaperSession{
		RunID: "stale-2", Exchange: "binance", Symbol: "ETHUSDT", Timeframe: "5m",
		InitialBalance: 500, Active: true,
	}))
	require.NoError(t, h.store.Create(ctx, domain.PaperSession{
		RunID: "stale-3", Exchange: "binance", Symbol: "ETHUSDT", Timeframe: "5m",
		Code: "...", InitialBalance: 500, SealedAPIKey: "garbage", Active: true,
	}))

	n, err := h.mgr.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, ok := h.mgr.Status("stale-1")
	require.True(t, ok)
	assert.Equal(t, 500.0, st.Equity)
	assert.Equal(t, "5m", st.Timeframe)

	rec, _ := h.store.Get(ctx, "stale-1")
	assert.True(t, rec.Active)
	assert.Equal(t, fee, rec.FeeRate)
	assert.Equal(t, "sealed:k", rec.SealedAPIKey)

	for _, id := range []string{"stale-2", "stale-3"} {
		rec, _ := h.store.Get(ctx, id)
		assert.False(t, rec.Active, id)
		assert.Contains(t, rec.StopReason, "resume_failed", id)
	}

	n, err = h.mgr.Resume(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "running sessions are skipped")
}
