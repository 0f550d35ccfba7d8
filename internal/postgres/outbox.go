package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
)

// OutboxStore is the relay's view of outbox_events.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore returns an OutboxStore over pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev outbox.Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.EventID, ev.AggregateID, ev.EventType, ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// ListPending returns up to limit unpublished, live events, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, aggregate_id, event_type, payload, created_at, retries, last_error
		FROM outbox_events
		WHERE published_at IS NULL AND dead_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending events: %w", err)
	}
	defer rows.Close()

	var out []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		if err := rows.Scan(&ev.EventID, &ev.AggregateID, &ev.EventType, &ev.Payload, &ev.CreatedAt, &ev.Retries, &ev.LastError); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkPublished stamps published_at.
func (s *OutboxStore) MarkPublished(ctx context.Context, eventID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE outbox_events SET published_at = $2 WHERE event_id = $1`, eventID, at.UTC())
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outbox.ErrEventNotFound
	}
	return nil
}

// MarkFailed records a failed attempt and optionally dead-letters the event.
func (s *OutboxStore) MarkFailed(ctx context.Context, eventID string, retries int, lastErr string, deadAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_events SET retries = $2, last_error = $3, dead_at = $4
		WHERE event_id = $1`, eventID, retries, lastErr, deadAt)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outbox.ErrEventNotFound
	}
	return nil
}
