package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ryanuber/go-glob"
)

type memEntry struct {
	key      string
	value    []byte
	expireAt time.Time // zero means no expiry
}

// MemoryCache is a size-bounded LRU with per-key expiry.
type MemoryCache struct {
	maxSize int
	now     func() time.Time

	mu    sync.Mutex
	order *list.List // front is most recently used
	items map[string]*list.Element

	stop      chan struct{}
	closeOnce sync.Once
}

type MemoryOption func(*MemoryCache)

func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithMemoryClock overrides the clock used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// NewMemoryCache starts a janitor that drops expired entries every
// sweep interval (one minute).
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		maxSize: 1000,
		now:     time.Now,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.janitor(time.Minute)
	return c
}

func (c *MemoryCache) expired(e *memEntry, now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// live returns the entry for key, removing it if expired. Caller holds mu.
func (c *MemoryCache) live(key string) (*list.Element, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.expired(el.Value.(*memEntry), c.now()) {
		c.removeElement(el)
		return nil, false
	}
	return el, true
}

func (c *MemoryCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*memEntry).key)
}

func (c *MemoryCache) setRaw(key string, raw []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, raw, ttl)
}

func (c *MemoryCache) putLocked(key string, raw []byte, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*memEntry)
		e.value, e.expireAt = raw, exp
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.maxSize {
		c.removeElement(c.order.Back())
	}
	c.items[key] = c.order.PushFront(&memEntry{key: key, value: raw, expireAt: exp})
}

func (c *MemoryCache) getRaw(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.live(key)
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*memEntry).value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	c.setRaw(key, raw, ttl)
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := c.getRaw(key)
	if !ok {
		return ErrCacheMiss
	}
	return decode(raw, dest)
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if el, ok := c.items[k]; ok {
			c.removeElement(el)
		}
	}
	return nil
}

func (c *MemoryCache) DeleteByPattern(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, el := range c.items {
		if glob.Glob(pattern, k) {
			c.removeElement(el)
			n++
		}
	}
	return n, nil
}

func (c *MemoryCache) Keys(_ context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []string
	for k, el := range c.items {
		if !c.expired(el.Value.(*memEntry), now) && glob.Glob(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *MemoryCache) MGet(_ context.Context, keys ...string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if el, ok := c.live(k); ok {
			out[k] = el.Value.(*memEntry).value
		}
	}
	return out, nil
}

// TryLock succeeds when key is absent or expired.
func (c *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.live(key); held {
		return false, nil
	}
	c.putLocked(key, []byte("locked"), ttl)
	return true, nil
}

func (c *MemoryCache) Unlock(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

// Len counts entries, expired ones included until swept.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*memEntry), now) {
			c.removeElement(el)
		}
		el = prev
	}
}

func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	return nil
}
