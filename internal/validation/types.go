package validation

// Item is one requested line.
type Item struct {
	SKU      string `json:"sku" validate:"required,max=64"` // product code
	Quantity int    `json:"qty" validate:"required,min=1"`  // must be >= 1
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	CustomerID      string `json:"customer_id" validate:"required"`
	SellerID        string `json:"seller_id" validate:"required"`
	CreatedByRole   string `json:"created_by_role" validate:"required,oneof=customer seller admin"`
	SourceChannel   string `json:"source_channel" validate:"required,max=32"`
	DisplayName     string `json:"display_name,omitempty" validate:"max=200"`
	ShippingAddress string `json:"shipping_address,omitempty" validate:"max=1000"`
	Items           []Item `json:"items" validate:"required,min=1,dive"` // at least one item
}

// TransitionRequest is the payload for POST /orders/:id/transitions
type TransitionRequest struct {
	Status          string `json:"status" validate:"required,order_status"`
	Reason          string `json:"reason,omitempty" validate:"max=500"`
	ExpectedVersion *int   `json:"expected_version,omitempty" validate:"omitempty,min=1"`
}
