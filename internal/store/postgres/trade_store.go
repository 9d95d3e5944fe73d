package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a TradeStore backed by pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// InsertBatch appends trades to a run in one round trip. Each trade keeps
// its position in the run; re-inserting the same sequence numbers is a
// no-op.
func (s *TradeStore) InsertBatch(ctx context.Context, runID string, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	const query = `
		INSERT INTO backtest_trades (
			run_id, seq, side, entry_price, exit_price, quantity,
			gross_pnl, net_pnl, fee, opened_at, closed_at, exit_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, seq) DO NOTHING`

	batch := &pgx.Batch{}
	for i, t := range trades {
		batch.Queue(query,
			runID, i, t.Side, t.EntryPrice, t.ExitPrice, t.Quantity,
			t.GrossPnL, t.NetPnL, t.Fee, t.OpenedAt, t.ClosedAt, t.ExitReason,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByRun returns a run's trades in the order they closed. The time
// filters in opts are ignored; trades are ordered by sequence.
func (s *TradeStore) ListByRun(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.Trade, error) {
	opts.Since, opts.Until = nil, nil
	query, args := page(`
		SELECT side, entry_price, exit_price, quantity, gross_pnl, net_pnl, fee,
			opened_at, closed_at, exit_reason
		FROM backtest_trades WHERE run_id = $1`, "", []any{runID}, opts, "seq")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for run %s: %w", runID, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.Side, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.GrossPnL, &t.NetPnL, &t.Fee,
			&t.OpenedAt, &t.ClosedAt, &t.ExitReason,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.DurationMs = t.ClosedAt - t.OpenedAt
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
