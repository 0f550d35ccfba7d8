package orders

import "time"

// Item is one order line. Name and UnitPriceCents are filled from the catalog
// when it was reachable.
type Item struct {
	SKU            string `dynamodbav:"sku" json:"sku"`
	Quantity       int    `dynamodbav:"quantity" json:"quantity"`
	Name           string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	UnitPriceCents *int64 `dynamodbav:"unit_price_cents,omitempty" json:"unit_price_cents,omitempty"`
}

// Order represents the item stored in the Orders table.
type Order struct {
	OrderID            string     `dynamodbav:"order_id" json:"order_id"` // PK
	CustomerID         string     `dynamodbav:"customer_id" json:"customer_id"`
	SellerID           string     `dynamodbav:"seller_id" json:"seller_id"`
	CreatedByRole      string     `dynamodbav:"created_by_role" json:"created_by_role"`
	SourceChannel      string     `dynamodbav:"source_channel" json:"source_channel"`
	DisplayName        string     `dynamodbav:"display_name,omitempty" json:"display_name,omitempty"`
	ShippingAddress    string     `dynamodbav:"shipping_address,omitempty" json:"shipping_address,omitempty"`
	Items              []Item     `dynamodbav:"items" json:"items"`
	TotalCents         *int64     `dynamodbav:"total_cents,omitempty" json:"total_cents,omitempty"`
	Status             Status     `dynamodbav:"status" json:"status"`
	Version            int        `dynamodbav:"version" json:"version"`
	ValidatedAt        *time.Time `dynamodbav:"validated_at,omitempty" json:"validated_at,omitempty"`
	ConfirmedAt        *time.Time `dynamodbav:"confirmed_at,omitempty" json:"confirmed_at,omitempty"`
	ReleasedAt         *time.Time `dynamodbav:"released_at,omitempty" json:"released_at,omitempty"`
	DeliveredAt        *time.Time `dynamodbav:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	CompletedAt        *time.Time `dynamodbav:"completed_at,omitempty" json:"completed_at,omitempty"`
	CancelReason       string     `dynamodbav:"cancel_reason,omitempty" json:"cancel_reason,omitempty"`
	FailureReason      string     `dynamodbav:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	CreatedAt          time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `dynamodbav:"updated_at" json:"updated_at"`
	IdempotencyKeyHash string     `dynamodbav:"idempotency_key_hash" json:"-"`
}

// New builds an order in its initial state.
func New(id string, at time.Time) Order {
	at = at.UTC()
	return Order{
		OrderID:   id,
		Status:    StatusNew,
		Version:   1,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Total returns the order total when every item carries a unit price.
func Total(items []Item) *int64 {
	if len(items) == 0 {
		return nil
	}
	var sum int64
	for _, it := range items {
		if it.UnitPriceCents == nil {
			return nil
		}
		sum += *it.UnitPriceCents * int64(it.Quantity)
	}
	return &sum
}
