// Package server is the HTTP and WebSocket API in front of the backtest
// service and the paper-session manager.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/server/handler"
	"github.com/alanyoungcy/quantlab/internal/server/middleware"
	"github.com/alanyoungcy/quantlab/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// Backtests run inside the request, so the write timeout must cover
	// the longest replay.
	WriteTimeout time.Duration

	RateLimit  int // requests per RateWindow per client; 0 disables
	RateWindow time.Duration
}

// Handlers aggregates the endpoint handlers.
type Handlers struct {
	Health   *handler.HealthHandler
	Backtest *handler.BacktestHandler
	Paper    *handler.PaperHandler
}

// Server is the API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in the middleware chain.
// limiter and hub may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health.HealthCheck)

	mux.HandleFunc("POST /validate", h.Backtest.Validate)
	mux.HandleFunc("POST /backtests", h.Backtest.Create)
	mux.HandleFunc("GET /backtests", h.Backtest.List)
	mux.HandleFunc("GET /backtests/{run_id}", h.Backtest.Get)
	mux.HandleFunc("GET /backtests/{run_id}/trades", h.Backtest.Trades)
	mux.HandleFunc("GET /backtests/{run_id}/archive", h.Backtest.Archive)
	mux.HandleFunc("GET /backtest-progress/{run_id}", h.Backtest.Progress)

	mux.HandleFunc("POST /paper/start", h.Paper.Start)
	mux.HandleFunc("POST /paper/stop/{run_id}", h.Paper.Stop)
	mux.HandleFunc("GET /paper/status/{run_id}", h.Paper.Status)
	mux.HandleFunc("GET /paper/sessions", h.Paper.List)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var chain http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.Auth(cfg.APIKey, "/health")(chain)
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Minute
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           chain,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the full middleware chain.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
