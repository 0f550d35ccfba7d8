package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/medsupply-orderflow/internal/outbox"
)

// Event types written to the outbox.
const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

// CreatedPayload is the payload of an OrderCreated event.
type CreatedPayload struct {
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	SellerID      string `json:"seller_id"`
	SourceChannel string `json:"source_channel"`
	Status        Status `json:"status"`
	Items         []Item `json:"items"`
	TotalCents    *int64 `json:"total_cents,omitempty"`
	RequestID     string `json:"request_id"`
}

// StatusChangedPayload is the payload of an OrderStatusChanged event.
type StatusChangedPayload struct {
	OrderID string    `json:"order_id"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Reason  string    `json:"reason,omitempty"`
	Version int       `json:"version"`
	At      time.Time `json:"at"`
}

// CreatedEvent builds the outbox event paired with the creation of o.
func CreatedEvent(o Order) (outbox.Event, error) {
	return newEvent(o.OrderID, EventOrderCreated, o.CreatedAt, CreatedPayload{
		OrderID:       o.OrderID,
		CustomerID:    o.CustomerID,
		SellerID:      o.SellerID,
		SourceChannel: o.SourceChannel,
		Status:        o.Status,
		Items:         o.Items,
		TotalCents:    o.TotalCents,
		RequestID:     o.IdempotencyKeyHash,
	})
}

// StatusChangedEvent builds the outbox event paired with a transition of o from prev.
func StatusChangedEvent(o Order, prev Status, reason string) (outbox.Event, error) {
	return newEvent(o.OrderID, EventOrderStatusChanged, o.UpdatedAt, StatusChangedPayload{
		OrderID: o.OrderID,
		From:    prev,
		To:      o.Status,
		Reason:  reason,
		Version: o.Version,
		At:      o.UpdatedAt,
	})
}

func newEvent(orderID, eventType string, at time.Time, payload any) (outbox.Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return outbox.Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return outbox.Event{
		EventID:     uuid.NewString(),
		AggregateID: orderID,
		EventType:   eventType,
		Payload:     b,
		CreatedAt:   at.UTC(),
	}, nil
}
