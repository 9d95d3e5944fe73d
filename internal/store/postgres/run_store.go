package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

var _ domain.RunStore = (*RunStore)(nil)

// NewRunStore creates a RunStore backed by pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runSelectCols = `id, exchange, symbol, timeframe, initial_balance, fee_rate,
	start_at, end_at, status, summary, error, archive_path, created_at, completed_at`

func scanRun(row pgx.Row) (domain.BacktestRun, error) {
	var r domain.BacktestRun
	var summary []byte
	if err := row.Scan(
		&r.ID, &r.Exchange, &r.Symbol, &r.Timeframe, &r.InitialBalance, &r.FeeRate,
		&r.StartAt, &r.EndAt, &r.Status, &summary, &r.Error, &r.ArchivePath,
		&r.CreatedAt, &r.CompletedAt,
	); err != nil {
		return r, err
	}
	if len(summary) > 0 {
		r.Summary = &domain.RunSummary{}
		if err := json.Unmarshal(summary, r.Summary); err != nil {
			return r, fmt.Errorf("decode summary: %w", err)
		}
	}
	return r, nil
}

// Create inserts a new run. A duplicate id wraps domain.ErrAlreadyExists.
func (s *RunStore) Create(ctx context.Context, run domain.BacktestRun) error {
	const query = `
		INSERT INTO backtest_runs (
			id, exchange, symbol, timeframe, initial_balance, fee_rate,
			start_at, end_at, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		run.ID, run.Exchange, run.Symbol, run.Timeframe, run.InitialBalance, run.FeeRate,
		run.StartAt, run.EndAt, run.Status, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Complete stores the summary and archive path and marks the run completed.
func (s *RunStore) Complete(ctx context.Context, id string, summary domain.RunSummary, archivePath string) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("postgres: marshal summary: %w", err)
	}
	const query = `
		UPDATE backtest_runs
		SET status = $2, summary = $3, archive_path = $4, completed_at = NOW()
		WHERE id = $1`
	return s.update(ctx, "complete", id, query, id, domain.RunStatusCompleted, data, archivePath)
}

// Fail records reason and marks the run failed.
func (s *RunStore) Fail(ctx context.Context, id string, reason string) error {
	const query = `
		UPDATE backtest_runs
		SET status = $2, error = $3, completed_at = NOW()
		WHERE id = $1`
	return s.update(ctx, "fail", id, query, id, domain.RunStatusFailed, reason)
}

func (s *RunStore) update(ctx context.Context, verb, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s run %s: %w", verb, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s run %s: %w", verb, id, domain.ErrNotFound)
	}
	return nil
}

// Get returns one run, or domain.ErrNotFound.
func (s *RunStore) Get(ctx context.Context, id string) (domain.BacktestRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runSelectCols+` FROM backtest_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		return r, fmt.Errorf("postgres: get run %s: %w", id, notFound(err))
	}
	return r, nil
}

// ListRecent returns runs newest first.
func (s *RunStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.BacktestRun, error) {
	query, args := page(`SELECT `+runSelectCols+` FROM backtest_runs WHERE 1=1`, "created_at", nil, opts, "created_at DESC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.BacktestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
