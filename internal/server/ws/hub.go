// Package ws streams live-session events to WebSocket clients. Events
// arrive either from the Redis event bus (every instance sees every run)
// or, without a bus, directly through Emit.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/quantlab/internal/cache/redis"
	"github.com/alanyoungcy/quantlab/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096
	sendBufferSize = 256

	// replayLimit caps how many stored events a new client is sent.
	replayLimit = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client is one WebSocket connection. An empty run set means every run.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	runs map[string]bool
}

// subscribeMsg changes the runs a client follows:
// {"action":"subscribe","run_ids":["r1"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	RunIDs []string `json:"run_ids"`
}

type broadcastMsg struct {
	runID string
	data  []byte
}

// Hub tracks connected clients and routes each event to the clients
// following its run.
type Hub struct {
	bus    domain.EventBus // optional
	logger *slog.Logger

	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
}

var _ domain.EventSink = (*Hub)(nil)

// NewHub creates a Hub. bus may be nil, in which case events must be fed
// through Emit.
func NewHub(bus domain.EventBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled; events
// emitted afterwards are dropped.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.follows(msg.runID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("run_id", msg.runID))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe forwards every run's events from the bus.
func (h *Hub) subscribe(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, redis.EventPattern)
	if err != nil {
		h.logger.ErrorContext(ctx, "subscribe to event bus failed", slog.String("error", err.Error()))
		return
	}
	h.logger.InfoContext(ctx, "subscribed to event bus", slog.String("pattern", redis.EventPattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "event bus subscription closed")
				return
			}
			h.enqueue(ctx, broadcastMsg{runID: runIDOf(data), data: data})
		}
	}
}

// Emit broadcasts ev to connected clients.
func (h *Hub) Emit(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.enqueue(ctx, broadcastMsg{runID: ev.RunID, data: data})
	return nil
}

func (h *Hub) enqueue(ctx context.Context, msg broadcastMsg) {
	select {
	case h.broadcast <- msg:
	case <-ctx.Done():
	case <-h.done:
	}
}

// runIDOf extracts the run id from a serialized domain.Event.
func runIDOf(data []byte) string {
	var ev struct {
		RunID string `json:"run_id"`
	}
	_ = json.Unmarshal(data, &ev)
	return ev.RunID
}

// HandleWS upgrades the request and registers the client. ?run_id=a,b
// limits the stream to those runs; with a bus configured, their stored
// events are replayed first.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		runs: make(map[string]bool),
	}
	for _, id := range strings.Split(r.URL.Query().Get("run_id"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			c.runs[id] = true
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	h.replay(r.Context(), c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) replay(ctx context.Context, c *client) {
	if h.bus == nil {
		return
	}
	for runID := range c.runs {
		msgs, err := h.bus.StreamRead(ctx, redis.EventStream(runID), "0", replayLimit)
		if err != nil {
			h.logger.WarnContext(ctx, "replay failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, m := range msgs {
			select {
			case c.send <- m.Payload:
			default:
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.apply(sub)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.RunIDs {
			c.runs[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.RunIDs {
			delete(c.runs, id)
		}
	}
}

func (c *client) follows(runID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.runs) == 0 || c.runs[runID]
}

// writePump sends queued events as text frames and pings on a timer.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
