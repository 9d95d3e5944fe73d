package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/quantlab/internal/domain"
	"github.com/alanyoungcy/quantlab/internal/sandbox"
)

// DefaultStopTimeout bounds how long Stop waits for a stream to exit.
const DefaultStopTimeout = 3 * time.Second

// StartRequest describes a paper-trading session.
type StartRequest struct {
	RunID          string   `json:"run_id"`
	Code           string   `json:"code"`
	Exchange       string   `json:"exchange"`
	Symbol         string   `json:"symbol"`
	Timeframe      string   `json:"timeframe"`
	InitialBalance float64  `json:"initial_balance"`
	FeeRate        *float64 `json:"fee_rate,omitempty"`
	APIKey         string   `json:"api_key,omitempty"`
	APISecret      string   `json:"api_secret,omitempty"`
	Testnet        bool     `json:"testnet"`
}

func (r *StartRequest) normalize() error {
	r.RunID = strings.TrimSpace(r.RunID)
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	r.Exchange = strings.ToLower(strings.TrimSpace(r.Exchange))
	if r.Exchange == "" {
		r.Exchange = "binance"
	}
	var problems []string
	if r.RunID == "" {
		problems = append(problems, "run_id is required")
	}
	if r.Symbol == "" {
		problems = append(problems, "symbol is required")
	}
	if r.Timeframe == "" {
		problems = append(problems, "timeframe is required")
	}
	if !(r.InitialBalance > 0) {
		problems = append(problems, "initial_balance must be > 0")
	}
	if r.FeeRate != nil && *r.FeeRate < 0 {
		problems = append(problems, "fee_rate must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// Compiler turns strategy source into a Program.
type Compiler func(ctx context.Context, code string) (Program, error)

// SandboxCompiler compiles source with the Starlark sandbox.
func SandboxCompiler(opts sandbox.Options) Compiler {
	return func(ctx context.Context, code string) (Program, error) {
		return sandbox.Compile(ctx, code, opts)
	}
}

// Vault seals credentials before they are persisted and opens them again
// when a session is resumed. *crypto.Vault satisfies it.
type Vault interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Alerter notifies operators. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options tune a Manager.
type Options struct {
	StopTimeout time.Duration
	Strict      bool // strategy errors stop the session instead of degrading to HOLD
}

// Deps are the collaborators of a Manager. Store, Vault, Archive and
// Alerts are optional.
type Deps struct {
	Exchanges domain.ExchangeFactory
	Compile   Compiler
	Sink      domain.EventSink
	Store     domain.PaperSessionStore
	Vault     Vault
	Archive   domain.ResultArchiver
	Alerts    Alerter
}

// Manager owns the registry of running sessions.
type Manager struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session registry.
func NewManager(deps Deps, opts Options, logger *slog.Logger) *Manager {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Manager{
		deps:     deps,
		opts:     opts,
		logger:   logger.With(slog.String("component", "live_manager")),
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) exists(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[runID]
	return ok
}

// Start compiles the strategy, connects the stream and registers the
// session. A run id that is already active fails with
// domain.ErrAlreadyExists.
func (m *Manager) Start(ctx context.Context, req StartRequest) error {
	if err := req.normalize(); err != nil {
		return err
	}
	if m.exists(req.RunID) {
		return fmt.Errorf("live: start %s: %w", req.RunID, domain.ErrAlreadyExists)
	}

	ex, err := m.deps.Exchanges.Exchange(req.Exchange, domain.Credentials{
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
		Testnet:   req.Testnet,
	})
	if err != nil {
		return fmt.Errorf("live: exchange: %w", err)
	}
	prog, err := m.deps.Compile(ctx, req.Code)
	if err != nil {
		return err
	}
	feeRate := ex.DefaultFeeRate()
	if req.FeeRate != nil {
		feeRate = *req.FeeRate
	}

	s := newSession(req, prog, feeRate, m.deps.Sink, m.opts.Strict, m.logger)
	s.onStopped = m.stopped

	m.mu.Lock()
	if _, ok := m.sessions[req.RunID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("live: start %s: %w", req.RunID, domain.ErrAlreadyExists)
	}
	m.sessions[req.RunID] = s
	m.mu.Unlock()

	if err := m.persist(ctx, req, feeRate); err != nil {
		m.mu.Lock()
		delete(m.sessions, req.RunID)
		m.mu.Unlock()
		return err
	}

	s.start(ctx, ex)
	m.logger.InfoContext(ctx, "paper session started",
		slog.String("run_id", req.RunID),
		slog.String("symbol", req.Symbol),
		slog.String("timeframe", req.Timeframe),
		slog.Float64("fee_rate", feeRate),
	)
	return nil
}

func (m *Manager) persist(ctx context.Context, req StartRequest, feeRate float64) error {
	if m.deps.Store == nil {
		return nil
	}
	rec := domain.PaperSession{
		RunID:          req.RunID,
		Exchange:       req.Exchange,
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		Code:           req.Code,
		InitialBalance: req.InitialBalance,
		FeeRate:        feeRate,
		Testnet:        req.Testnet,
		Active:         true,
		StartedAt:      time.Now().UTC(),
	}
	if m.deps.Vault != nil {
		var err error
		if rec.SealedAPIKey, err = m.deps.Vault.Seal(req.APIKey); err != nil {
			return fmt.Errorf("live: seal api key: %w", err)
		}
		if rec.SealedSecret, err = m.deps.Vault.Seal(req.APISecret); err != nil {
			return fmt.Errorf("live: seal api secret: %w", err)
		}
	}
	if err := m.deps.Store.Create(ctx, rec); err != nil {
		return fmt.Errorf("live: persist session: %w", err)
	}
	return nil
}

// stopped runs once per session, however it ended.
func (m *Manager) stopped(s *Session, reason string) {
	ctx := s.emitCtx
	if m.deps.Store != nil {
		if err := m.deps.Store.MarkStopped(ctx, s.runID, reason); err != nil {
			m.logger.WarnContext(ctx, "mark session stopped failed",
				slog.String("run_id", s.runID),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.deps.Archive != nil {
		if trades := s.Trades(); len(trades) > 0 {
			if _, err := m.deps.Archive.ArchiveTrades(ctx, s.runID, trades); err != nil {
				m.logger.WarnContext(ctx, "archive session trades failed",
					slog.String("run_id", s.runID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if m.deps.Alerts != nil && reason != errManualStop.Error() {
		msg := fmt.Sprintf("run %s (%s %s) stopped: %s", s.runID, s.symbol, s.timeframe, reason)
		if err := m.deps.Alerts.Notify(ctx, "paper_stopped", "Paper session stopped", msg); err != nil {
			m.logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
		}
	}

	m.mu.Lock()
	if m.sessions[s.runID] == s {
		delete(m.sessions, s.runID)
	}
	m.mu.Unlock()
}

// Resume restarts sessions the store still marks active, typically after
// an unclean shutdown. Sessions that cannot be restarted are marked
// stopped. It returns how many sessions were resumed.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	if m.deps.Store == nil {
		return 0, nil
	}
	stale, err := m.deps.Store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("live: list active sessions: %w", err)
	}

	resumed := 0
	for _, rec := range stale {
		if m.exists(rec.RunID) {
			continue
		}
		err := m.resume(ctx, rec)
		if err == nil {
			resumed++
			continue
		}
		m.logger.WarnContext(ctx, "resume paper session failed",
			slog.String("run_id", rec.RunID),
			slog.String("error", err.Error()),
		)
		if err := m.deps.Store.MarkStopped(ctx, rec.RunID, "resume_failed: "+err.Error()); err != nil {
			m.logger.WarnContext(ctx, "mark session stopped failed",
				slog.String("run_id", rec.RunID),
				slog.String("error", err.Error()),
			)
		}
	}
	return resumed, nil
}

func (m *Manager) resume(ctx context.Context, rec domain.PaperSession) error {
	if rec.Code == "" {
		return errors.New("no strategy code stored")
	}
	req := StartRequest{
		RunID:          rec.RunID,
		Code:           rec.Code,
		Exchange:       rec.Exchange,
		Symbol:         rec.Symbol,
		Timeframe:      rec.Timeframe,
		InitialBalance: rec.InitialBalance,
		FeeRate:        &rec.FeeRate,
		Testnet:        rec.Testnet,
	}
	if rec.SealedAPIKey != "" || rec.SealedSecret != "" {
		if m.deps.Vault == nil {
			return errors.New("sealed credentials but no vault configured")
		}
		var err error
		if req.APIKey, err = m.deps.Vault.Open(rec.SealedAPIKey); err != nil {
			return fmt.Errorf("open api key: %w", err)
		}
		if req.APISecret, err = m.deps.Vault.Open(rec.SealedSecret); err != nil {
			return fmt.Errorf("open api secret: %w", err)
		}
	}
	return m.Start(ctx, req)
}

// Stop ends a session. Stopping an unknown or already stopped run is not
// an error.
func (m *Manager) Stop(ctx context.Context, runID string) error {
	m.mu.Lock()
	s, ok := m.sessions[runID]
	delete(m.sessions, runID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s.stop(ctx, m.opts.StopTimeout)
	return nil
}

// StopAll stops every session concurrently and waits for all of them.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range all {
		g.Go(func() error {
			s.stop(ctx, m.opts.StopTimeout)
			return nil
		})
	}
	err := g.Wait()
	m.logger.InfoContext(ctx, "all paper sessions stopped", slog.Int("count", len(all)))
	return err
}

// Status reports on an active session. ok is false when the run is not
// active in this process.
func (m *Manager) Status(runID string) (Status, bool) {
	m.mu.Lock()
	s, ok := m.sessions[runID]
	m.mu.Unlock()
	if !ok {
		return Status{RunID: runID}, false
	}
	return s.Status(), true
}

// List reports on every active session.
func (m *Manager) List() []Status {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(all))
	for _, s := range all {
		out = append(out, s.Status())
	}
	return out
}

// IsStartError reports whether err came from rejecting the request rather
// than from a collaborator.
func IsStartError(err error) bool {
	var verr *sandbox.ValidationError
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrAlreadyExists) ||
		errors.Is(err, domain.ErrUnsupported) ||
		errors.As(err, &verr)
}
