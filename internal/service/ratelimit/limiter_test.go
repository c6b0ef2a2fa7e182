package ratelimit

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBurstThenRefill(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)}
	l := New(3, 1, WithClock(c.now))

	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if l.Allow("a") {
		t.Fatalf("burst exceeded but allowed")
	}
	if got := l.RetryAfter("a"); got != time.Second {
		t.Fatalf("retry after = %v", got)
	}
	if !l.Allow("b") {
		t.Fatalf("keys must not share a bucket")
	}

	c.advance(time.Second)
	if !l.Allow("a") {
		t.Fatalf("token not refilled after 1s")
	}
	if l.Allow("a") {
		t.Fatalf("only one token should have refilled")
	}

	c.advance(time.Hour)
	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Fatalf("refill must cap at capacity, request %d rejected", i)
		}
	}
	if l.Allow("a") {
		t.Fatalf("refill exceeded capacity")
	}
}

func TestIdleBucketsSwept(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 3, 9, 30, 0, 0, time.UTC)}
	l := New(1, 0.1, WithClock(c.now), WithIdleTTL(time.Minute))
	l.Allow("a")
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("len = %d", l.Len())
	}
	c.advance(2 * time.Minute)
	l.Allow("c")
	if l.Len() != 1 {
		t.Fatalf("idle buckets not swept, len = %d", l.Len())
	}
}
