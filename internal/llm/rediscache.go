package llm

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the optional Redis-backed Cache, selected over the
// in-process LRU when NEWS_CACHE_REDIS_ADDR is set. Entries expire after
// ttl so a stale Redis deployment never outlives the process that wrote
// it; a miss or connection error is treated as a plain cache miss rather
// than surfaced to the caller, since nothing downstream depends on the
// cache being warm.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache dials addr lazily (go-redis connects on first use) and
// returns a Cache backed by it.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	c.client.Set(ctx, key, value, c.ttl)
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
