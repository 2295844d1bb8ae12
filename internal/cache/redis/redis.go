// Package redis adapts internal/cache.Cache onto go-redis/v9, generalizing
// the teacher's redisclient.Client (services/gateway/redisclient/redis.go),
// which only ever parsed a URL and pinged it, into the full get/set/incr/scan
// surface the price monitor, arbitrage detector, and budget engine need.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/riskgateway/platform/internal/cache"
)

// Cache wraps a go-redis client.
type Cache struct {
	c *goredis.Client
}

// New parses redisURL and returns a Cache, failing fast like the teacher's
// New does for a malformed REDIS_URL.
func New(redisURL string) (*Cache, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Cache{c: goredis.NewClient(opt)}, nil
}

// Ping verifies connectivity, the one operation the teacher's client offered.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.c.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.c.Close() }

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.c.Get(ctx, key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, cache.ErrMiss
		}
		return nil, err
	}
	return b, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.c.Set(ctx, key, value, ttl).Err()
}

func (c *Cache) Del(ctx context.Context, key string) error {
	return c.c.Del(ctx, key).Err()
}

// Incr increments key and (re)applies ttl on the first increment so the
// counter behaves like a fixed window (hourly transaction counts, §4.I/§4.J).
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.c.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		c.c.Expire(ctx, key, ttl)
	}
	return n, nil
}

// Keys scans for keys matching pattern using SCAN rather than KEYS, to avoid
// blocking the server on a large keyspace.
func (c *Cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := c.c.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

var _ cache.Cache = (*Cache)(nil)
