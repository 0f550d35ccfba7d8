package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imrishuroy/medsupply-orderflow/internal/idempotency"
	"github.com/imrishuroy/medsupply-orderflow/internal/orders"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
)

// OrderStore persists orders together with their outbox events and ledger
// completion in one transaction.
type OrderStore struct {
	pool    *pgxpool.Pool
	nowFunc func() time.Time
}

// NewOrderStore returns an OrderStore over pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool, nowFunc: time.Now}
}

const orderColumns = `order_id, customer_id, seller_id, created_by_role, source_channel,
	display_name, shipping_address, items, total_cents, status, version,
	validated_at, confirmed_at, released_at, delivered_at, completed_at,
	cancel_reason, failure_reason, created_at, updated_at, idempotency_key_hash`

// CreateWithIdempotency completes the ledger record, inserts the order and
// inserts its event. Any failure rolls back all three.
func (s *OrderStore) CreateWithIdempotency(ctx context.Context, c idempotency.Completion, o orders.Order, ev outbox.Event) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := complete(ctx, tx, c, s.nowFunc().UTC()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
			o.OrderID, o.CustomerID, o.SellerID, o.CreatedByRole, o.SourceChannel,
			o.DisplayName, o.ShippingAddress, items, o.TotalCents, string(o.Status), o.Version,
			o.ValidatedAt, o.ConfirmedAt, o.ReleasedAt, o.DeliveredAt, o.CompletedAt,
			o.CancelReason, o.FailureReason, o.CreatedAt, o.UpdatedAt, o.IdempotencyKeyHash)
		if isUniqueViolation(err) {
			return orders.ErrOrderExists
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return insertEvent(ctx, tx, ev)
	})
}

// Get fetches an order. Returns (nil, nil) if not found.
func (s *OrderStore) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	var (
		o      orders.Order
		status string
		items  []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID).Scan(
		&o.OrderID, &o.CustomerID, &o.SellerID, &o.CreatedByRole, &o.SourceChannel,
		&o.DisplayName, &o.ShippingAddress, &items, &o.TotalCents, &status, &o.Version,
		&o.ValidatedAt, &o.ConfirmedAt, &o.ReleasedAt, &o.DeliveredAt, &o.CompletedAt,
		&o.CancelReason, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt, &o.IdempotencyKeyHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	o.Status = orders.Status(status)
	return &o, nil
}

// SaveTransition writes the transitioned order if the row is still at
// prev/prevVersion, together with its event. Returns orders.ErrStatusMismatch
// otherwise.
func (s *OrderStore) SaveTransition(ctx context.Context, o orders.Order, prev orders.Status, prevVersion int, ev outbox.Event) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET
				status = $3, version = $4,
				validated_at = $5, confirmed_at = $6, released_at = $7, delivered_at = $8, completed_at = $9,
				cancel_reason = $10, failure_reason = $11, updated_at = $12
			WHERE order_id = $1 AND status = $2 AND version = $13`,
			o.OrderID, string(prev), string(o.Status), o.Version,
			o.ValidatedAt, o.ConfirmedAt, o.ReleasedAt, o.DeliveredAt, o.CompletedAt,
			o.CancelReason, o.FailureReason, o.UpdatedAt, prevVersion)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return orders.ErrStatusMismatch
		}
		return insertEvent(ctx, tx, ev)
	})
}
