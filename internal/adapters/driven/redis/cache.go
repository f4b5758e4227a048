package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/thunderrag/core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ResponseCache = (*Cache)(nil)

const cachePrefix = "thunderrag:modelcache:"

// Cache is an optional Redis-backed cache in front of the Model Gateway's
// embed calls (SPEC_FULL.md domain stack). A cache miss is
// reported as (nil, false, nil), never as an error, so callers always
// fall through to the provider.
type Cache struct {
	client *goredis.Client
}

// NewCache wraps an existing go-redis client.
func NewCache(client *goredis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached value for key, or (nil, false, nil) on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, cachePrefix+key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value under key with the given ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, cachePrefix+key, value, ttl).Err()
}
