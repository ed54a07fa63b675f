package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/circlepot/rosca-service/internal/domain"
)

// AppendEvent writes an event to the event log. Re-appending the same event ID is a no-op.
func (r *Repository) AppendEvent(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, r.rebind(`
INSERT INTO events (id, event_type, aggregate_id, actor, payload, occurred_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`),
		e.ID, e.Type, e.AggregateID, string(e.Actor), string(payload), toMillis(e.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", e.Type, err)
	}
	return nil
}

// ListEvents returns the newest events first, optionally restricted to an event-type
// prefix such as "circle." and an aggregate ID.
func (r *Repository) ListEvents(ctx context.Context, typePrefix string, aggregateID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := "SELECT id, event_type, aggregate_id, actor, payload, occurred_at FROM events WHERE event_type LIKE ?"
	args := []any{typePrefix + "%"}
	if aggregateID > 0 {
		query += " AND aggregate_id = ?"
		args = append(args, aggregateID)
	}
	query += " ORDER BY occurred_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var actor, payload string
		var occurredAt int64
		if err := rows.Scan(&e.ID, &e.Type, &e.AggregateID, &actor, &payload, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Actor = domain.Address(actor)
		e.OccurredAt = fromMillis(occurredAt)
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode event %s payload: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
