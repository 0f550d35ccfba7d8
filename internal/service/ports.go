package service

import (
	"context"

	"github.com/imrishuroy/medsupply-orderflow/internal/catalog"
	"github.com/imrishuroy/medsupply-orderflow/internal/idempotency"
	"github.com/imrishuroy/medsupply-orderflow/internal/orders"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
)

// Ledger is the idempotency gate in front of order creation.
type Ledger interface {
	Begin(ctx context.Context, key string, body []byte) (idempotency.Decision, error)
	Release(ctx context.Context, d idempotency.Decision) error
}

// OrderRepository persists orders. Every write carries exactly one outbox
// event in the same atomic unit.
type OrderRepository interface {
	CreateWithIdempotency(ctx context.Context, c idempotency.Completion, o orders.Order, ev outbox.Event) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	SaveTransition(ctx context.Context, o orders.Order, prev orders.Status, prevVersion int, ev outbox.Event) error
}

// SKUResolver checks and enriches requested SKUs. *catalog.Resolver implements it.
type SKUResolver interface {
	Resolve(ctx context.Context, skus []string) (catalog.Resolution, error)
}

// EventDispatcher publishes a committed event on a best-effort basis.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev outbox.Event)
}

// Counter records metrics.
type Counter interface {
	Count(ctx context.Context, name string, n int) error
}
