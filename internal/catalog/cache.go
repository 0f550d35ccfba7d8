package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyProduct = "catalog:product:%s"

// Cache is a read-through Redis cache in front of another Lookup. Only found
// products are cached; a Redis failure falls back to the inner lookup.
type Cache struct {
	inner  Lookup
	client redis.UniversalClient
	ttl    time.Duration
	log    *slog.Logger
}

// NewCache wraps inner.
func NewCache(inner Lookup, client redis.UniversalClient, ttl time.Duration, log *slog.Logger) *Cache {
	return &Cache{inner: inner, client: client, ttl: ttl, log: log}
}

func (c *Cache) Lookup(ctx context.Context, skus []string) (map[string]Product, error) {
	out := make(map[string]Product, len(skus))
	if len(skus) == 0 {
		return out, nil
	}

	keys := make([]string, len(skus))
	for i, s := range skus {
		keys[i] = fmt.Sprintf(keyProduct, s)
	}
	missing := skus
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn("catalog cache read failed", "error", err)
	} else {
		missing = missing[:0:0]
		for i, v := range vals {
			s, ok := v.(string)
			var p Product
			if !ok || json.Unmarshal([]byte(s), &p) != nil {
				missing = append(missing, skus[i])
				continue
			}
			out[p.SKU] = p
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.inner.Lookup(ctx, missing)
	if err != nil {
		return nil, err
	}
	pipe := c.client.Pipeline()
	for sku, p := range fetched {
		out[sku] = p
		b, err := json.Marshal(p)
		if err != nil {
			continue
		}
		pipe.Set(ctx, fmt.Sprintf(keyProduct, sku), b, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("catalog cache write failed", "error", err)
	}
	return out, nil
}
