package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. It also
// satisfies domain.EventSink so live sessions can persist every event.
type EventStore struct {
	pool *pgxpool.Pool
}

var (
	_ domain.EventStore = (*EventStore)(nil)
	_ domain.EventSink  = (*EventStore)(nil)
)

// NewEventStore creates an EventStore backed by pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append stores ev with its payload as JSONB.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal event payload: %w", err)
	}
	const query = `INSERT INTO live_events (run_id, event_type, payload, emitted_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, ev.RunID, ev.Type, payload, ev.EmittedAt); err != nil {
		return fmt.Errorf("postgres: append %s event for run %s: %w", ev.Type, ev.RunID, err)
	}
	return nil
}

// Emit is Append under the EventSink name.
func (s *EventStore) Emit(ctx context.Context, ev domain.Event) error {
	return s.Append(ctx, ev)
}

// ListByRun returns a run's events oldest first. Payloads come back as
// json.RawMessage.
func (s *EventStore) ListByRun(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := page(
		`SELECT run_id, event_type, payload, emitted_at FROM live_events WHERE run_id = $1`,
		"emitted_at", []any{runID}, opts, "emitted_at, id")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var payload []byte
		if err := rows.Scan(&ev.RunID, &ev.Type, &payload, &ev.EmittedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}
