package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/medsupply-orderflow/internal/aws/dynamotest"
	"github.com/imrishuroy/medsupply-orderflow/internal/idempotency"
	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
)

const (
	idempTable  = "idempotency"
	ordersTable = "orders"
	outboxTable = "outbox"
)

type fixture struct {
	fake   *dynamotest.Fake
	ledger *idempotency.Store
	events *outbox.Store
	store  *Store
}

func newFixture() fixture {
	fake := dynamotest.New(map[string]string{
		idempTable:  "key_hash",
		ordersTable: "order_id",
		outboxTable: "event_id",
	})
	fake.AddIndex(outbox.PendingIndex, outbox.PendingSortKey)
	ledger := idempotency.NewStore(fake, idempTable)
	events := outbox.NewStore(fake, outboxTable)
	return fixture{
		fake:   fake,
		ledger: ledger,
		events: events,
		store:  NewStore(fake, ordersTable, ledger, events),
	}
}

// begin claims key in the ledger the way the create path does.
func (f fixture) begin(t *testing.T, key string) idempotency.Decision {
	t.Helper()
	d, err := idempotency.NewLedger(f.ledger, idempotency.Options{TTL: time.Hour}).Begin(context.Background(), key, []byte(`{"items":[{"sku":"A","qty":1}]}`))
	if err != nil || d.Outcome != idempotency.Proceed {
		t.Fatalf("begin: %+v %v", d, err)
	}
	return d
}

func newOrder(id, keyHash string) Order {
	o := New(id, time.Now())
	o.CustomerID = "c1"
	o.SellerID = "s1"
	o.CreatedByRole = "customer"
	o.SourceChannel = "web"
	o.Items = []Item{{SKU: "A", Quantity: 1}}
	o.IdempotencyKeyHash = keyHash
	return o
}

func TestCreateWithIdempotency_WritesAllThreeRows(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.begin(t, "K1")

	o := newOrder("o1", d.KeyHash)
	ev, err := CreatedEvent(o)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	body := []byte(`{"request_id":"` + d.KeyHash + `","order_id":"o1","status":"NEW"}`)
	if err := f.store.CreateWithIdempotency(ctx, d.Complete("o1", 202, body), o, ev); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := f.store.Get(ctx, "o1")
	if err != nil || got == nil {
		t.Fatalf("get: %+v %v", got, err)
	}
	if got.Status != StatusNew || got.Version != 1 || len(got.Items) != 1 || got.IdempotencyKeyHash != d.KeyHash {
		t.Fatalf("unexpected order: %+v", got)
	}

	pending, _ := f.events.ListPending(ctx, 10)
	if len(pending) != 1 || pending[0].AggregateID != "o1" || pending[0].EventType != EventOrderCreated {
		t.Fatalf("expected one OrderCreated event for o1, got %+v", pending)
	}
	var payload CreatedPayload
	if err := json.Unmarshal(pending[0].Payload, &payload); err != nil || payload.RequestID != d.KeyHash {
		t.Fatalf("unexpected payload: %s", pending[0].Payload)
	}

	rec, _ := f.ledger.Get(ctx, d.KeyHash)
	if rec.Status != idempotency.StatusDone || string(rec.ResponseBody) != string(body) || rec.OrderID != "o1" {
		t.Fatalf("ledger not completed: %+v", rec)
	}
}

func TestCreateWithIdempotency_CrashLeavesNoRows(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.begin(t, "K1")

	o := newOrder("o1", d.KeyHash)
	ev, _ := CreatedEvent(o)
	f.fake.FailNextTransact(errors.New("connection reset"))

	err := f.store.CreateWithIdempotency(ctx, d.Complete("o1", 202, []byte(`{}`)), o, ev)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.fake.Len(ordersTable) != 0 || f.fake.Len(outboxTable) != 0 {
		t.Fatalf("partial write: orders=%d outbox=%d", f.fake.Len(ordersTable), f.fake.Len(outboxTable))
	}
	rec, _ := f.ledger.Get(ctx, d.KeyHash)
	if rec.Status != idempotency.StatusPending || rec.HasResponse() {
		t.Fatalf("ledger must stay pending without response: %+v", rec)
	}

	// the same owner can still finish once the store is back
	if err := f.store.CreateWithIdempotency(ctx, d.Complete("o1", 202, []byte(`{}`)), o, ev); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.fake.Len(ordersTable) != 1 || f.fake.Len(outboxTable) != 1 {
		t.Fatalf("expected one order and one event after retry")
	}
}

func TestCreateWithIdempotency_LostOwnership(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.begin(t, "K1")
	if err := f.ledger.TakeOver(ctx, d.KeyHash, d.Owner, "someone-else", 2, time.Now()); err != nil {
		t.Fatalf("take over: %v", err)
	}

	o := newOrder("o1", d.KeyHash)
	ev, _ := CreatedEvent(o)
	err := f.store.CreateWithIdempotency(ctx, d.Complete("o1", 202, []byte(`{}`)), o, ev)
	if !errors.Is(err, idempotency.ErrOwnershipLost) {
		t.Fatalf("expected ErrOwnershipLost, got %v", err)
	}
	if f.fake.Len(ordersTable) != 0 || f.fake.Len(outboxTable) != 0 {
		t.Fatalf("loser must not leave rows behind")
	}
}

func TestSaveTransition_ConditionalOnStatusAndVersion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.begin(t, "K1")
	o := newOrder("o1", d.KeyHash)
	o.Status = StatusProcessing
	ev, _ := CreatedEvent(o)
	if err := f.store.CreateWithIdempotency(ctx, d.Complete("o1", 202, []byte(`{}`)), o, ev); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := o
	if err := ApplyTransition(&next, StatusReleased, time.Now(), ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	changed, _ := StatusChangedEvent(next, o.Status, "")
	if err := f.store.SaveTransition(ctx, next, o.Status, o.Version, changed); err != nil {
		t.Fatalf("save transition: %v", err)
	}

	got, _ := f.store.Get(ctx, "o1")
	if got.Status != StatusReleased || got.ReleasedAt == nil || got.Version != 2 {
		t.Fatalf("transition not persisted: %+v", got)
	}
	if f.fake.Len(outboxTable) != 2 {
		t.Fatalf("expected a status event alongside the transition")
	}

	// a writer working from the stale copy loses
	stale := o
	_ = ApplyTransition(&stale, StatusOnHold, time.Now(), "")
	staleEv, _ := StatusChangedEvent(stale, o.Status, "")
	if err := f.store.SaveTransition(ctx, stale, o.Status, o.Version, staleEv); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	if f.fake.Len(outboxTable) != 2 {
		t.Fatalf("rejected transition must not write an event")
	}
}

func TestGet_Missing(t *testing.T) {
	f := newFixture()
	got, err := f.store.Get(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got %+v %v", got, err)
	}
}
