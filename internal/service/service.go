// Package service implements the order use cases: idempotent creation and
// validated status transitions, each persisted with its outbox event.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/medsupply-orderflow/internal/catalog"
	"github.com/imrishuroy/medsupply-orderflow/internal/idempotency"
	"github.com/imrishuroy/medsupply-orderflow/internal/orders"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
)

// Metric names emitted by the service.
const (
	MetricOrderCreated        = "OrderCreated"
	MetricIdempotentReplay    = "IdempotentReplay"
	MetricIdempotencyConflict = "IdempotencyConflict"
)

// createRounds bounds how often a request re-enters the ledger after another
// request took its key over.
const createRounds = 2

// Deps groups the collaborators of Service. Catalog, Dispatcher and Metrics
// are optional.
type Deps struct {
	Ledger     Ledger
	Orders     OrderRepository
	Catalog    SKUResolver
	Dispatcher EventDispatcher
	Metrics    Counter
	Logger     *slog.Logger
}

// Service runs the order use cases.
type Service struct {
	ledger     Ledger
	orders     OrderRepository
	catalog    SKUResolver
	dispatcher EventDispatcher
	metrics    Counter
	log        *slog.Logger
	nowFunc    func() time.Time
	newID      func() string
}

// New returns a Service.
func New(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		ledger:     d.Ledger,
		orders:     d.Orders,
		catalog:    d.Catalog,
		dispatcher: d.Dispatcher,
		metrics:    d.Metrics,
		log:        log,
		nowFunc:    time.Now,
		newID:      uuid.NewString,
	}
}

// LineItem is one requested product.
type LineItem struct {
	SKU      string
	Quantity int
}

// CreateOrderInput is a validated create request.
type CreateOrderInput struct {
	CustomerID      string
	SellerID        string
	CreatedByRole   string
	SourceChannel   string
	DisplayName     string
	ShippingAddress string
	Items           []LineItem
}

// CreateResult is what the caller answers with. Body is replayed byte for
// byte on retries.
type CreateResult struct {
	StatusCode int
	Body       []byte
	Replayed   bool
	OrderID    string
	RequestID  string
}

type acceptedResponse struct {
	RequestID string        `json:"request_id"`
	OrderID   string        `json:"order_id,omitempty"`
	Status    orders.Status `json:"status"`
	Message   string        `json:"message,omitempty"`
}

// CreateOrder creates an order at most once per idempotency key. rawBody is
// the request body as received and is what the key is bound to. An empty key
// is replaced by a generated one, which gives no protection across retries.
func (s *Service) CreateOrder(ctx context.Context, key string, rawBody []byte, in CreateOrderInput) (CreateResult, error) {
	if key == "" {
		key = uuid.NewString()
		s.log.Warn("create order without idempotency key, retries will not be deduplicated",
			"generated_key_hash", idempotency.HashKey(key))
	}

	for round := 0; round < createRounds; round++ {
		d, err := s.ledger.Begin(ctx, key, rawBody)
		if err != nil {
			return CreateResult{}, fmt.Errorf("begin idempotent request: %w", err)
		}

		switch d.Outcome {
		case idempotency.Conflict:
			s.count(ctx, MetricIdempotencyConflict)
			return CreateResult{}, &ConflictError{KeyHash: d.KeyHash}
		case idempotency.Replay:
			s.count(ctx, MetricIdempotentReplay)
			return CreateResult{
				StatusCode: d.Record.ResponseStatus,
				Body:       d.Record.ResponseBody,
				Replayed:   true,
				OrderID:    d.Record.OrderID,
				RequestID:  d.KeyHash,
			}, nil
		case idempotency.InProgress:
			return s.inProgress(d.KeyHash)
		}

		res, err := s.create(ctx, d, in)
		if errors.Is(err, idempotency.ErrOwnershipLost) {
			s.log.Warn("idempotency key taken over before commit, re-reading", "request_id", d.KeyHash)
			continue
		}
		return res, err
	}
	return s.inProgress(idempotency.HashKey(key))
}

func (s *Service) create(ctx context.Context, d idempotency.Decision, in CreateOrderInput) (CreateResult, error) {
	items, err := s.resolveItems(ctx, in.Items)
	if err != nil {
		s.release(ctx, d)
		return CreateResult{}, err
	}

	o := orders.New(s.newID(), s.nowFunc())
	o.CustomerID = in.CustomerID
	o.SellerID = in.SellerID
	o.CreatedByRole = in.CreatedByRole
	o.SourceChannel = in.SourceChannel
	o.DisplayName = in.DisplayName
	o.ShippingAddress = in.ShippingAddress
	o.Items = items
	o.TotalCents = orders.Total(items)
	o.IdempotencyKeyHash = d.KeyHash

	ev, err := orders.CreatedEvent(o)
	if err != nil {
		s.release(ctx, d)
		return CreateResult{}, err
	}
	body, err := json.Marshal(acceptedResponse{RequestID: d.KeyHash, OrderID: o.OrderID, Status: o.Status})
	if err != nil {
		s.release(ctx, d)
		return CreateResult{}, fmt.Errorf("marshal response: %w", err)
	}

	err = s.orders.CreateWithIdempotency(ctx, d.Complete(o.OrderID, http.StatusAccepted, body), o, ev)
	if errors.Is(err, idempotency.ErrOwnershipLost) {
		return CreateResult{}, err
	}
	if err != nil {
		s.release(ctx, d)
		return CreateResult{}, fmt.Errorf("persist order: %w", err)
	}

	s.log.Info("order created", "order_id", o.OrderID, "request_id", d.KeyHash, "items", len(items))
	s.count(ctx, MetricOrderCreated)
	s.dispatch(ctx, ev)
	return CreateResult{
		StatusCode: http.StatusAccepted,
		Body:       body,
		OrderID:    o.OrderID,
		RequestID:  d.KeyHash,
	}, nil
}

func (s *Service) resolveItems(ctx context.Context, lines []LineItem) ([]orders.Item, error) {
	items := make([]orders.Item, len(lines))
	skus := make([]string, len(lines))
	for i, l := range lines {
		items[i] = orders.Item{SKU: l.SKU, Quantity: l.Quantity}
		skus[i] = l.SKU
	}
	if s.catalog == nil {
		return items, nil
	}

	res, err := s.catalog.Resolve(ctx, skus)
	if errors.Is(err, catalog.ErrUnavailable) {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve skus: %w", err)
	}
	if len(res.Unknown) > 0 {
		return nil, &UnknownSKUError{SKUs: res.Unknown}
	}
	for i := range items {
		if p, ok := res.Products[items[i].SKU]; ok {
			price := p.UnitPriceCents
			items[i].Name = p.Name
			items[i].UnitPriceCents = &price
		}
	}
	return items, nil
}

func (s *Service) inProgress(keyHash string) (CreateResult, error) {
	body, err := json.Marshal(acceptedResponse{
		RequestID: keyHash,
		Status:    orders.StatusProcessing,
		Message:   "a request with this idempotency key is already being processed",
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("marshal response: %w", err)
	}
	return CreateResult{StatusCode: http.StatusAccepted, Body: body, RequestID: keyHash}, nil
}

// TransitionInput asks for a status change. ExpectedVersion, when set, must
// match the stored version.
type TransitionInput struct {
	Status          orders.Status
	Reason          string
	ExpectedVersion *int
}

// TransitionResult carries the order after the call. Changed is false when
// the order already had the requested status.
type TransitionResult struct {
	Order   orders.Order
	Changed bool
}

// Transition applies a status change and records an OrderStatusChanged event
// with it. Requesting the current status is a successful no-op.
func (s *Service) Transition(ctx context.Context, orderID string, in TransitionInput) (TransitionResult, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return TransitionResult{}, err
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion != o.Version {
		return TransitionResult{}, fmt.Errorf("%w: expected version %d, have %d", ErrVersionConflict, *in.ExpectedVersion, o.Version)
	}
	if o.Status == in.Status {
		return TransitionResult{Order: *o}, nil
	}

	next := *o
	if err := orders.ApplyTransition(&next, in.Status, s.nowFunc(), in.Reason); err != nil {
		return TransitionResult{}, err
	}
	ev, err := orders.StatusChangedEvent(next, o.Status, in.Reason)
	if err != nil {
		return TransitionResult{}, err
	}
	err = s.orders.SaveTransition(ctx, next, o.Status, o.Version, ev)
	if errors.Is(err, orders.ErrStatusMismatch) {
		return TransitionResult{}, fmt.Errorf("%w: order %s", ErrVersionConflict, orderID)
	}
	if err != nil {
		return TransitionResult{}, fmt.Errorf("persist transition: %w", err)
	}

	s.log.Info("order status changed", "order_id", orderID, "from", o.Status, "to", next.Status, "version", next.Version)
	s.dispatch(ctx, ev)
	return TransitionResult{Order: next, Changed: true}, nil
}

// GetOrder returns the order or ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) release(ctx context.Context, d idempotency.Decision) {
	if err := s.ledger.Release(context.WithoutCancel(ctx), d); err != nil {
		s.log.Warn("release idempotency key failed", "request_id", d.KeyHash, "error", err)
	}
}

func (s *Service) dispatch(ctx context.Context, ev outbox.Event) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, ev)
	}
}

func (s *Service) count(ctx context.Context, name string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.Count(ctx, name, 1); err != nil {
		s.log.Warn("metric emit failed", "metric", name, "error", err)
	}
}
