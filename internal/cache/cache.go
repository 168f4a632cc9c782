package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/telemetry"
)

const defaultTimeout = 5 * time.Second

// Cache wraps a Backend so that every failure degrades to a miss on read
// and a no-op on write. Values are stored as JSON.
type Cache struct {
	backend Backend
	timeout time.Duration
}

// New wraps backend. A nil backend behaves like NoopBackend.
func New(backend Backend, timeout time.Duration) *Cache {
	if backend == nil {
		backend = NoopBackend{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Cache{backend: backend, timeout: timeout}
}

// Get decodes the entry at key into dest and reports whether it was a hit.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return false
	}
	if err != nil {
		c.degraded(ctx, "get", key, err)
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		log.Printf("cache: dropping undecodable entry %s: %v", key, err)
		_ = c.backend.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("cache: cannot encode value for %s: %v", key, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.degraded(ctx, "set", key, err)
	}
}

// Invalidate removes the given keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.degraded(ctx, "invalidate", fmt.Sprint(keys), err)
	}
}

// InvalidatePrefix removes every key starting with prefix.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		c.degraded(ctx, "invalidate-prefix", prefix, err)
		return
	}
	if n > 0 {
		log.Printf("cache: invalidated %d entries under %s", n, prefix)
	}
}

// Healthy reports whether the backend answers a ping.
func (c *Cache) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Ping(ctx); err != nil {
		c.degraded(ctx, "ping", "", err)
		return false
	}
	return true
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) degraded(ctx context.Context, op, key string, err error) {
	err = domain.CacheUnavailable(err)
	log.Printf("cache: %s %s degraded: %v", op, key, err)
	telemetry.AddWarningBreadcrumb(ctx, "cache", op+" "+key+": "+err.Error())
}
