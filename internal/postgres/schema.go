package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		key_hash        TEXT PRIMARY KEY,
		body_hash       TEXT NOT NULL,
		status          TEXT NOT NULL CHECK (status IN ('PENDING', 'DONE')),
		owner           TEXT NOT NULL DEFAULT '',
		attempts        INT NOT NULL DEFAULT 1,
		order_id        TEXT NOT NULL DEFAULT '',
		response_status INT NOT NULL DEFAULT 0,
		response_body   BYTEA,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		expires_at      BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id             TEXT PRIMARY KEY,
		customer_id          TEXT NOT NULL,
		seller_id            TEXT NOT NULL,
		created_by_role      TEXT NOT NULL,
		source_channel       TEXT NOT NULL,
		display_name         TEXT NOT NULL DEFAULT '',
		shipping_address     TEXT NOT NULL DEFAULT '',
		items                JSONB NOT NULL,
		total_cents          BIGINT,
		status               TEXT NOT NULL CHECK (status IN ('NEW','VALIDATED','CONFIRMED','PROCESSING','RELEASED','IN_TRANSIT','DELIVERED','COMPLETED','CANCELLED','FAILED','ON_HOLD')),
		version              INT NOT NULL,
		validated_at         TIMESTAMPTZ,
		confirmed_at         TIMESTAMPTZ,
		released_at          TIMESTAMPTZ,
		delivered_at         TIMESTAMPTZ,
		completed_at         TIMESTAMPTZ,
		cancel_reason        TEXT NOT NULL DEFAULT '',
		failure_reason       TEXT NOT NULL DEFAULT '',
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL,
		idempotency_key_hash TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		event_id     TEXT PRIMARY KEY,
		aggregate_id TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		payload      JSONB NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ,
		retries      INT NOT NULL DEFAULT 0,
		last_error   TEXT NOT NULL DEFAULT '',
		dead_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_events_pending_idx
		ON outbox_events (created_at)
		WHERE published_at IS NULL AND dead_at IS NULL`,
}

// Migrate creates the idempotency, orders and outbox tables if missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
