package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubLookup struct {
	products map[string]Product
	err      error
	calls    [][]string
}

func (s *stubLookup) Lookup(ctx context.Context, skus []string) (map[string]Product, error) {
	s.calls = append(s.calls, append([]string(nil), skus...))
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]Product{}
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok {
			out[sku] = p
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestResolverReportsUnknownAndInactive(t *testing.T) {
	lookup := &stubLookup{products: map[string]Product{
		"A": {SKU: "A", Name: "Gauze", UnitPriceCents: 250, Active: true},
		"B": {SKU: "B", Name: "Discontinued", Active: false},
	}}
	r := NewResolver(lookup, FailClosed, discardLogger())

	res, err := r.Resolve(context.Background(), []string{"A", "B", "Z", "A", "Z"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.Unknown) != 2 || res.Unknown[0] != "B" || res.Unknown[1] != "Z" {
		t.Fatalf("unexpected unknown list: %v", res.Unknown)
	}
	if _, ok := res.Products["A"]; !ok || res.Degraded {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if len(lookup.calls[0]) != 3 {
		t.Fatalf("expected deduplicated lookup, got %v", lookup.calls[0])
	}
}

func TestResolverPolicyWhenUnreachable(t *testing.T) {
	down := &stubLookup{err: ErrUnavailable}

	open := NewResolver(down, FailOpen, discardLogger())
	res, err := open.Resolve(context.Background(), []string{"A"})
	if err != nil || !res.Degraded || len(res.Unknown) != 0 {
		t.Fatalf("fail_open must accept unenriched: %+v %v", res, err)
	}

	closed := NewResolver(down, FailClosed, discardLogger())
	if _, err := closed.Resolve(context.Background(), []string{"A"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("fail_closed must return ErrUnavailable, got %v", err)
	}
}

func TestResolverWithoutCatalog(t *testing.T) {
	res, err := NewResolver(nil, FailClosed, discardLogger()).Resolve(context.Background(), []string{"A"})
	if err != nil || !res.Degraded {
		t.Fatalf("expected degraded resolution, got %+v %v", res, err)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": FailOpen, "fail_open": FailOpen, "fail_closed": FailClosed} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("maybe"); err == nil {
		t.Fatalf("expected error")
	}
}
