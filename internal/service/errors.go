package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderNotFound is returned for unknown order ids.
	ErrOrderNotFound = errors.New("order not found")
	// ErrVersionConflict means the order changed since the caller read it.
	ErrVersionConflict = errors.New("order was modified concurrently")
	// ErrCatalogUnavailable is returned under the fail_closed catalog policy.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// ConflictError reports an idempotency key reused with a different body.
type ConflictError struct {
	KeyHash string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key already used with a different request body (request_id=%s)", e.KeyHash)
}

// UnknownSKUError lists SKUs the catalog does not know or has deactivated.
type UnknownSKUError struct {
	SKUs []string
}

func (e *UnknownSKUError) Error() string {
	return "unknown or inactive sku: " + strings.Join(e.SKUs, ", ")
}
