package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imrishuroy/medsupply-orderflow/internal/idempotency"
)

const uniqueViolation = "23505"

// LedgerStore is the Postgres idempotency backend.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore returns a LedgerStore over pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Get returns the record for keyHash or (nil, nil).
func (s *LedgerStore) Get(ctx context.Context, keyHash string) (*idempotency.Record, error) {
	var r idempotency.Record
	var expires int64
	err := s.pool.QueryRow(ctx, `
		SELECT key_hash, body_hash, status, owner, attempts, order_id,
		       response_status, response_body, created_at, updated_at, expires_at
		FROM idempotency_records WHERE key_hash = $1`, keyHash).Scan(
		&r.KeyHash, &r.BodyHash, &r.Status, &r.Owner, &r.Attempts, &r.OrderID,
		&r.ResponseStatus, &r.ResponseBody, &r.CreatedAt, &r.UpdatedAt, &expires,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select idempotency record: %w", err)
	}
	r.ExpiresAt = expires
	return &r, nil
}

// Insert relies on the primary key to reject a second writer.
func (s *LedgerStore) Insert(ctx context.Context, r idempotency.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_records
			(key_hash, body_hash, status, owner, attempts, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.KeyHash, r.BodyHash, r.Status, r.Owner, r.Attempts, r.CreatedAt, r.UpdatedAt, r.ExpiresAt)
	if isUniqueViolation(err) {
		return idempotency.ErrKeyExists
	}
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

// TakeOver moves a PENDING record from prevOwner to newOwner.
func (s *LedgerStore) TakeOver(ctx context.Context, keyHash, prevOwner, newOwner string, attempts int, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE idempotency_records SET owner = $3, attempts = $4, updated_at = $5
		WHERE key_hash = $1 AND status = 'PENDING' AND owner = $2`,
		keyHash, prevOwner, newOwner, attempts, at)
	if err != nil {
		return fmt.Errorf("take over idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrOwnershipLost
	}
	return nil
}

// Release deletes a PENDING record still held by owner.
func (s *LedgerStore) Release(ctx context.Context, keyHash, owner string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE key_hash = $1 AND status = 'PENDING' AND owner = $2`, keyHash, owner)
	if err != nil {
		return fmt.Errorf("release idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrOwnershipLost
	}
	return nil
}

// complete marks the record DONE inside tx.
func complete(ctx context.Context, tx pgx.Tx, c idempotency.Completion, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE idempotency_records
		SET status = 'DONE', response_status = $3, response_body = $4, order_id = $5, updated_at = $6
		WHERE key_hash = $1 AND status = 'PENDING' AND owner = $2`,
		c.KeyHash, c.Owner, c.StatusCode, c.Body, c.OrderID, at)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrOwnershipLost
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
