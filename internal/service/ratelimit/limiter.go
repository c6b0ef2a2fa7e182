// Package ratelimit keeps one token bucket per client key so a single
// caller cannot monopolise the scan and aggregation endpoints.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter hands out per-key rate.Limiters sharing one burst and rate.
type Limiter struct {
	burst   int
	every   rate.Limit
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	keys      map[string]*entry
	lastSweep time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithIdleTTL forgets keys untouched for d; a forgotten key starts full.
func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.idleTTL = d
		}
	}
}

// New allows bursts of burst requests and a sustained perSecond per key.
func New(burst, perSecond float64, opts ...Option) *Limiter {
	l := &Limiter{
		burst:   int(burst),
		every:   rate.Limit(perSecond),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
		keys:    make(map[string]*entry),
	}
	for _, o := range opts {
		o(l)
	}
	l.lastSweep = l.now()
	return l
}

func (l *Limiter) get(key string, now time.Time) *entry {
	e, ok := l.keys[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.every, l.burst)}
		l.keys[key] = e
	}
	e.seen = now
	return e
}

// Allow consumes one token for key if available.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)
	return l.get(key, now).lim.AllowN(now, 1)
}

// RetryAfter estimates how long key must wait for its next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok || l.every <= 0 {
		return 0
	}
	tokens := e.lim.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(l.every) * float64(time.Second))
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	for k, e := range l.keys {
		if now.Sub(e.seen) >= l.idleTTL {
			delete(l.keys, k)
		}
	}
	l.lastSweep = now
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
