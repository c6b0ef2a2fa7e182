package cache

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// LayeredCache reads through an in-process LRU (L1) to Redis (L2) and
// writes through to both. Concurrent L1 misses on one key share a single
// Redis round trip. Pattern operations and locks go straight to Redis.
// Keys under a shared prefix never enter L1, so an invalidation made by
// another replica is seen on the next read.
type LayeredCache struct {
	l1     *MemoryCache
	l2     remote
	l1TTL  time.Duration
	shared []string
	group  singleflight.Group
}

// remote is the shared layer; RedisCache in production.
type remote interface {
	Service
	getRaw(ctx context.Context, key string) ([]byte, error)
	Health(ctx context.Context) error
}

type LayeredOption func(*layeredConfig)

type layeredConfig struct {
	size   int
	ttl    time.Duration
	shared []string
}

func WithLayeredMemorySize(n int) LayeredOption { return func(c *layeredConfig) { c.size = n } }

// WithLayeredMemoryTTL caps how long an L1 copy may serve reads.
func WithLayeredMemoryTTL(d time.Duration) LayeredOption { return func(c *layeredConfig) { c.ttl = d } }

// WithLayeredSharedPrefixes lists key prefixes served from Redis only.
func WithLayeredSharedPrefixes(prefixes ...string) LayeredOption {
	return func(c *layeredConfig) { c.shared = append(c.shared, prefixes...) }
}

func NewLayeredCache(l2 *RedisCache, opts ...LayeredOption) *LayeredCache {
	return newLayeredCache(l2, opts...)
}

func newLayeredCache(l2 remote, opts ...LayeredOption) *LayeredCache {
	cfg := layeredConfig{size: 1000, ttl: time.Minute}
	for _, o := range opts {
		o(&cfg)
	}
	return &LayeredCache{l1: NewMemoryCache(WithMemoryMaxSize(cfg.size)), l2: l2, l1TTL: cfg.ttl, shared: cfg.shared}
}

func (c *LayeredCache) local(key string) bool {
	for _, p := range c.shared {
		if strings.HasPrefix(key, p) {
			return false
		}
	}
	return true
}

// memTTL keeps an L1 copy from outliving its L2 entry.
func (c *LayeredCache) memTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

func (c *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, raw, ttl); err != nil {
		return err
	}
	if c.local(key) {
		c.l1.setRaw(key, raw, c.memTTL(ttl))
	}
	return nil
}

func (c *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.local(key) {
		raw, err := c.l2.getRaw(ctx, key)
		if err != nil {
			return err
		}
		return decode(raw, dest)
	}
	if raw, ok := c.l1.getRaw(key); ok {
		return decode(raw, dest)
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		raw, err := c.l2.getRaw(ctx, key)
		if err != nil {
			return nil, err
		}
		c.l1.setRaw(key, raw, c.l1TTL)
		return raw, nil
	})
	if err != nil {
		return err
	}
	return decode(v.([]byte), dest)
}

func (c *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = c.l1.Delete(ctx, keys...)
	return c.l2.Delete(ctx, keys...)
}

func (c *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	_, _ = c.l1.DeleteByPattern(ctx, pattern)
	return c.l2.DeleteByPattern(ctx, pattern)
}

func (c *LayeredCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.l2.Keys(ctx, pattern)
}

func (c *LayeredCache) MGet(ctx context.Context, keys ...string) (map[string][]byte, error) {
	return c.l2.MGet(ctx, keys...)
}

func (c *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.l2.TryLock(ctx, key, ttl)
}

func (c *LayeredCache) Unlock(ctx context.Context, key string) error {
	return c.l2.Unlock(ctx, key)
}

func (c *LayeredCache) Health(ctx context.Context) error { return c.l2.Health(ctx) }

func (c *LayeredCache) Close() error {
	_ = c.l1.Close()
	return c.l2.Close()
}
