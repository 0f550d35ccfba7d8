package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/medsupply-orderflow/internal/orders"
)

// New returns a configured validator with the custom rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// order_status accepts any known status, case-insensitively.
	if err := v.RegisterValidation("order_status", validOrderStatus); err != nil {
		panic(err)
	}

	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})
	return v
}

func validOrderStatus(fl validatorv10.FieldLevel) bool {
	_, err := orders.ParseStatus(fl.Field().String())
	return err == nil
}

// createOrderStructValidation rejects the same SKU listed twice; quantities
// belong on one line.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := make(map[string]bool, len(req.Items))
	for _, it := range req.Items {
		sku := strings.TrimSpace(it.SKU)
		if sku == "" {
			continue
		}
		if seen[sku] {
			sl.ReportError(req.Items, "items", "Items", "unique_sku", sku)
			return
		}
		seen[sku] = true
	}
}
