// Package catalog resolves product codes against the catalog service and
// applies the order-creation policy for when that service is unreachable.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnavailable means the catalog could not be consulted.
var ErrUnavailable = errors.New("catalog unavailable")

// Product is the catalog's view of one SKU.
type Product struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Active         bool   `json:"active"`
}

// Lookup resolves SKUs. Unknown SKUs are simply absent from the result.
type Lookup interface {
	Lookup(ctx context.Context, skus []string) (map[string]Product, error)
}

// Policy decides what happens when the catalog is unreachable.
type Policy string

const (
	// FailOpen accepts the order without enrichment.
	FailOpen Policy = "fail_open"
	// FailClosed rejects the order.
	FailClosed Policy = "fail_closed"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case FailOpen, FailClosed:
		return p, nil
	case "":
		return FailOpen, nil
	default:
		return "", fmt.Errorf("unknown catalog policy %q", s)
	}
}

// Resolution is the outcome of resolving an order's SKUs.
type Resolution struct {
	// Products holds every active SKU found.
	Products map[string]Product
	// Unknown lists requested SKUs that are missing or inactive, in request order.
	Unknown []string
	// Degraded is set when the catalog was skipped under FailOpen.
	Degraded bool
}

// Resolver applies one Policy to every lookup.
type Resolver struct {
	lookup Lookup
	policy Policy
	log    *slog.Logger
}

// NewResolver returns a resolver. A nil lookup disables enrichment and SKU
// checks entirely.
func NewResolver(lookup Lookup, policy Policy, log *slog.Logger) *Resolver {
	return &Resolver{lookup: lookup, policy: policy, log: log}
}

// Policy returns the configured policy.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve looks up skus. Unknown SKUs are reported, never an error. An
// unreachable catalog yields ErrUnavailable under FailClosed and a degraded
// resolution under FailOpen.
func (r *Resolver) Resolve(ctx context.Context, skus []string) (Resolution, error) {
	if r.lookup == nil {
		return Resolution{Degraded: true}, nil
	}
	products, err := r.lookup.Lookup(ctx, dedupe(skus))
	if err != nil {
		if r.policy == FailClosed {
			return Resolution{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		r.log.Warn("catalog unreachable, accepting order without enrichment", "skus", len(skus), "error", err)
		return Resolution{Degraded: true}, nil
	}

	res := Resolution{Products: make(map[string]Product, len(products))}
	seen := map[string]bool{}
	for _, sku := range skus {
		p, ok := products[sku]
		if ok && p.Active {
			res.Products[sku] = p
			continue
		}
		if !seen[sku] {
			seen[sku] = true
			res.Unknown = append(res.Unknown, sku)
		}
	}
	return res, nil
}

func dedupe(skus []string) []string {
	seen := make(map[string]bool, len(skus))
	out := make([]string, 0, len(skus))
	for _, s := range skus {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
