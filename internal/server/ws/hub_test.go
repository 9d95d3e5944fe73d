package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantlab/internal/cache/redis"
	"github.com/alanyoungcy/quantlab/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// memBus is an in-process domain.EventBus.
type memBus struct {
	mu      sync.Mutex
	subs    []chan []byte
	streams map[string][]domain.StreamMessage
	ready   chan struct{}
}

func newMemBus() *memBus {
	return &memBus{streams: map[string][]domain.StreamMessage{}, ready: make(chan struct{})}
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s <- payload
	}
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs = append(b.subs, ch)
	close(b.ready)
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{Payload: payload})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, stream, _ string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[stream], nil
}

func event(runID string, typ domain.EventType) []byte {
	data, _ := json.Marshal(domain.Event{RunID: runID, Type: typ, EmittedAt: time.Unix(0, 0).UTC()})
	return data
}

func startHub(t *testing.T, bus domain.EventBus) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(bus, discard)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubEmitFiltersByRun(t *testing.T) {
	hub, srv := startHub(t, nil)
	all := dial(t, srv, "")
	one := dial(t, srv, "?run_id=r2")
	waitClients(t, hub, 2)

	ctx := t.Context()
	require.NoError(t, hub.Emit(ctx, domain.Event{RunID: "r1", Type: domain.EventCandle}))
	require.NoError(t, hub.Emit(ctx, domain.Event{RunID: "r2", Type: domain.EventTrade}))

	assert.Equal(t, "r1", readEvent(t, all).RunID)
	assert.Equal(t, "r2", readEvent(t, all).RunID)

	ev := readEvent(t, one)
	assert.Equal(t, "r2", ev.RunID)
	assert.Equal(t, domain.EventTrade, ev.Type)
}

func TestHubReplaysAndForwardsBus(t *testing.T) {
	bus := newMemBus()
	require.NoError(t, bus.StreamAppend(t.Context(), redis.EventStream("r1"), event("r1", domain.EventStatus)))

	hub, srv := startHub(t, bus)
	<-bus.ready
	conn := dial(t, srv, "?run_id=r1")
	waitClients(t, hub, 1)

	assert.Equal(t, domain.EventStatus, readEvent(t, conn).Type, "stored events replay first")

	require.NoError(t, bus.Publish(t.Context(), redis.EventChannel("r9"), event("r9", domain.EventCandle)))
	require.NoError(t, bus.Publish(t.Context(), redis.EventChannel("r1"), event("r1", domain.EventBalance)))
	assert.Equal(t, domain.EventBalance, readEvent(t, conn).Type)
}

func TestClientSubscriptionMessages(t *testing.T) {
	c := &client{runs: map[string]bool{}}
	assert.True(t, c.follows("any"))

	c.apply(subscribeMsg{Action: "subscribe", RunIDs: []string{"a", "b"}})
	assert.True(t, c.follows("a"))
	assert.False(t, c.follows("c"))

	c.apply(subscribeMsg{Action: "unsubscribe", RunIDs: []string{"a", "b"}})
	assert.True(t, c.follows("c"))
}

func TestHubEmitAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, hub.Run(ctx), context.Canceled)

	emitCtx := context.WithoutCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2*sendBufferSize; i++ {
			_ = hub.Emit(emitCtx, domain.Event{RunID: "r1", Type: domain.EventCandle})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked after the hub stopped")
	}
}
