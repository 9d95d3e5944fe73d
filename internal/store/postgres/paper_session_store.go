package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// PaperSessionStore implements domain.PaperSessionStore using PostgreSQL.
type PaperSessionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PaperSessionStore = (*PaperSessionStore)(nil)

// NewPaperSessionStore creates a PaperSessionStore backed by pool.
func NewPaperSessionStore(pool *pgxpool.Pool) *PaperSessionStore {
	return &PaperSessionStore{pool: pool}
}

const paperSelectCols = `run_id, exchange, symbol, timeframe, code, initial_balance, fee_rate,
	sealed_api_key, sealed_secret, testnet, active, stop_reason, started_at, stopped_at`

func scanPaper(row pgx.Row) (domain.PaperSession, error) {
	var p domain.PaperSession
	err := row.Scan(
		&p.RunID, &p.Exchange, &p.Symbol, &p.Timeframe, &p.Code, &p.InitialBalance, &p.FeeRate,
		&p.SealedAPIKey, &p.SealedSecret, &p.Testnet, &p.Active, &p.StopReason,
		&p.StartedAt, &p.StoppedAt,
	)
	return p, err
}

// Create records a started session. Restarting a stopped run id replaces
// the previous record.
func (s *PaperSessionStore) Create(ctx context.Context, p domain.PaperSession) error {
	const query = `
		INSERT INTO paper_sessions (
			run_id, exchange, symbol, timeframe, code, initial_balance, fee_rate,
			sealed_api_key, sealed_secret, testnet, active, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11)
		ON CONFLICT (run_id) DO UPDATE SET
			exchange = EXCLUDED.exchange,
			symbol = EXCLUDED.symbol,
			timeframe = EXCLUDED.timeframe,
			code = EXCLUDED.code,
			initial_balance = EXCLUDED.initial_balance,
			fee_rate = EXCLUDED.fee_rate,
			sealed_api_key = EXCLUDED.sealed_api_key,
			sealed_secret = EXCLUDED.sealed_secret,
			testnet = EXCLUDED.testnet,
			active = TRUE,
			stop_reason = '',
			started_at = EXCLUDED.started_at,
			stopped_at = NULL`
	_, err := s.pool.Exec(ctx, query,
		p.RunID, p.Exchange, p.Symbol, p.Timeframe, p.Code, p.InitialBalance, p.FeeRate,
		p.SealedAPIKey, p.SealedSecret, p.Testnet, p.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create paper session %s: %w", p.RunID, err)
	}
	return nil
}

// MarkStopped flags the session inactive with reason.
func (s *PaperSessionStore) MarkStopped(ctx context.Context, runID string, reason string) error {
	const query = `
		UPDATE paper_sessions SET active = FALSE, stop_reason = $2, stopped_at = NOW()
		WHERE run_id = $1`
	tag, err := s.pool.Exec(ctx, query, runID, reason)
	if err != nil {
		return fmt.Errorf("postgres: stop paper session %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: stop paper session %s: %w", runID, domain.ErrNotFound)
	}
	return nil
}

// Get returns one session, or domain.ErrNotFound.
func (s *PaperSessionStore) Get(ctx context.Context, runID string) (domain.PaperSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paperSelectCols+` FROM paper_sessions WHERE run_id = $1`, runID)
	p, err := scanPaper(row)
	if err != nil {
		return p, fmt.Errorf("postgres: get paper session %s: %w", runID, notFound(err))
	}
	return p, nil
}

// ListActive returns sessions still marked active, oldest first. After an
// unclean shutdown these are the sessions that never recorded a stop.
func (s *PaperSessionStore) ListActive(ctx context.Context) ([]domain.PaperSession, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+paperSelectCols+` FROM paper_sessions WHERE active ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active paper sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.PaperSession
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan paper session: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
