// Package memory provides an in-memory cache.Cache for tests and local
// development.
package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/riskgateway/platform/internal/cache"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// Cache is a concurrency-safe in-memory implementation of cache.Cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, cache.ErrMiss
	}
	return e.value, nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.entries[key] = entry{value: value, expires: exp}
	return nil
}

func (c *Cache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Incr treats the stored value as a decimal integer counter, matching the
// Redis INCR semantics the adapter exposes.
func (c *Cache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	isFresh := !ok || (!e.expires.IsZero() && time.Now().After(e.expires))
	var n int64
	if !isFresh {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	n++

	var exp time.Time
	if isFresh && ttl > 0 {
		exp = time.Now().Add(ttl)
	} else {
		exp = e.expires
	}
	c.entries[key] = entry{value: []byte(strconv.FormatInt(n, 10)), expires: exp}
	return n, nil
}

func (c *Cache) Keys(_ context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k, e := range c.entries {
		if !e.expires.IsZero() && time.Now().After(e.expires) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

var _ cache.Cache = (*Cache)(nil)
