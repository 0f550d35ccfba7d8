package catalog

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCacheForTest(t *testing.T, inner Lookup) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, NewCache(inner, client, time.Minute, discardLogger())
}

func TestCacheReadThrough(t *testing.T) {
	inner := &stubLookup{products: map[string]Product{
		"A": {SKU: "A", Name: "Gauze", UnitPriceCents: 250, Active: true},
	}}
	m, cache := newCacheForTest(t, inner)
	ctx := context.Background()

	got, err := cache.Lookup(ctx, []string{"A", "Z"})
	if err != nil || len(got) != 1 {
		t.Fatalf("first lookup: %+v %v", got, err)
	}
	if !m.Exists("catalog:product:A") || m.Exists("catalog:product:Z") {
		t.Fatalf("only found products should be cached")
	}
	if ttl := m.TTL("catalog:product:A"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	got, err = cache.Lookup(ctx, []string{"A", "Z"})
	if err != nil || got["A"].Name != "Gauze" {
		t.Fatalf("second lookup: %+v %v", got, err)
	}
	if last := inner.calls[len(inner.calls)-1]; len(last) != 1 || last[0] != "Z" {
		t.Fatalf("cached SKU fetched again: %v", inner.calls)
	}

	m.FastForward(2 * time.Minute)
	if _, err := cache.Lookup(ctx, []string{"A"}); err != nil {
		t.Fatalf("lookup after expiry: %v", err)
	}
	if last := inner.calls[len(inner.calls)-1]; len(last) != 1 || last[0] != "A" {
		t.Fatalf("expired SKU not refetched: %v", inner.calls)
	}
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	inner := &stubLookup{products: map[string]Product{"A": {SKU: "A", Active: true}}}
	m, cache := newCacheForTest(t, inner)
	m.Close()

	got, err := cache.Lookup(context.Background(), []string{"A"})
	if err != nil || len(got) != 1 {
		t.Fatalf("expected inner lookup result, got %+v %v", got, err)
	}
}

func TestCachePropagatesInnerError(t *testing.T) {
	_, cache := newCacheForTest(t, &stubLookup{err: ErrUnavailable})
	if _, err := cache.Lookup(context.Background(), []string{"A"}); err == nil {
		t.Fatalf("expected error")
	}
}
