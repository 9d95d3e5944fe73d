package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RunStatus tracks the lifecycle of a backtest run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunSummary is the headline result stored with a finished run.
type RunSummary struct {
	FinalBalance   float64 `json:"final_balance"`
	ReturnPct      float64 `json:"total_return_percent"`
	MaxDrawdownPct float64 `json:"max_drawdown_percent"`
	WinRatePct     float64 `json:"win_rate_percent"`
	ProfitFactor   float64 `json:"profit_factor"`
	TotalTrades    int     `json:"total_trades"`
	Halted         string  `json:"halted,omitempty"`
}

// BacktestRun is the persisted record of one backtest request.
type BacktestRun struct {
	ID             string      `json:"run_id"`
	Exchange       string      `json:"exchange"`
	Symbol         string      `json:"symbol"`
	Timeframe      string      `json:"timeframe"`
	InitialBalance float64     `json:"initial_balance"`
	FeeRate        float64     `json:"fee_rate"`
	StartAt        time.Time   `json:"start_date"`
	EndAt          time.Time   `json:"end_date"`
	Status         RunStatus   `json:"status"`
	Summary        *RunSummary `json:"summary,omitempty"`
	Error          string      `json:"error,omitempty"`
	ArchivePath    string      `json:"archive_path,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// RunStore persists backtest runs.
type RunStore interface {
	Create(ctx context.Context, run BacktestRun) error
	Complete(ctx context.Context, id string, summary RunSummary, archivePath string) error
	Fail(ctx context.Context, id string, reason string) error
	Get(ctx context.Context, id string) (BacktestRun, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]BacktestRun, error)
}

// TradeStore persists the closed trades of a run.
type TradeStore interface {
	InsertBatch(ctx context.Context, runID string, trades []Trade) error
	ListByRun(ctx context.Context, runID string, opts ListOpts) ([]Trade, error)
}

// EventStore persists live-session events.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListByRun(ctx context.Context, runID string, opts ListOpts) ([]Event, error)
}

// PaperSession is the persisted record of a live paper-trading session.
type PaperSession struct {
	RunID          string
	Exchange       string
	Symbol         string
	Timeframe      string
	Code           string // strategy source, kept so the session can be resumed
	InitialBalance float64
	FeeRate        float64
	SealedAPIKey   string // sealed with the credential vault, empty when absent
	SealedSecret   string
	Testnet        bool
	Active         bool
	StopReason     string
	StartedAt      time.Time
	StoppedAt      *time.Time
}

// PaperSessionStore persists paper sessions.
type PaperSessionStore interface {
	Create(ctx context.Context, s PaperSession) error
	MarkStopped(ctx context.Context, runID string, reason string) error
	Get(ctx context.Context, runID string) (PaperSession, error)
	ListActive(ctx context.Context) ([]PaperSession, error)
}
