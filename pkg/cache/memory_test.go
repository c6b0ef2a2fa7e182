package cache

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	type doc struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	if err := mc.Set(ctx, "k", doc{A: 1, B: "x"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got doc
	if err := mc.Get(ctx, "k", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.A != 1 || got.B != "x" {
		t.Fatalf("unexpected value %+v", got)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clk.Now))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "k", "v", time.Hour)
	clk.t = clk.t.Add(59 * time.Minute)
	var s string
	if err := mc.Get(ctx, "k", &s); err != nil || s != "v" {
		t.Fatalf("expected hit before expiry, got %q %v", s, err)
	}
	clk.t = clk.t.Add(2 * time.Minute)
	if err := mc.Get(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryCachePatterns(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	for _, k := range []string{"scan:a:1d:x", "scan:a:1h:y", "scan:b:1d:z", "lock:job"} {
		_ = mc.Set(ctx, k, "v", time.Minute)
	}
	keys, err := mc.Keys(ctx, BuildPattern("scan", "", "1d"))
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "scan:a:1d:x" || keys[1] != "scan:b:1d:z" {
		t.Fatalf("unexpected keys %v", keys)
	}
	n, err := mc.DeleteByPattern(ctx, BuildPattern("scan", "a"))
	if err != nil || n != 2 {
		t.Fatalf("expected 2 deleted, got %d (%v)", n, err)
	}
	var v string
	if err := mc.Get(ctx, "lock:job", &v); err != nil {
		t.Fatalf("unrelated key must survive pattern delete: %v", err)
	}
}

func TestMemoryCacheTryLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	ok, _ := mc.TryLock(ctx, "job", time.Minute)
	if !ok {
		t.Fatalf("first lock must succeed")
	}
	ok, _ = mc.TryLock(ctx, "job", time.Minute)
	if ok {
		t.Fatalf("second lock must fail")
	}
	_ = mc.Unlock(ctx, "job")
	ok, _ = mc.TryLock(ctx, "job", time.Minute)
	if !ok {
		t.Fatalf("lock after unlock must succeed")
	}
}

func TestHashKeyStable(t *testing.T) {
	if HashKey("abc") != HashKey("abc") || HashKey("abc") == HashKey("abd") {
		t.Fatalf("hash must be stable and distinct")
	}
	if len(HashKey("abc")) != 64 {
		t.Fatalf("expected sha256 hex")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", "1", 0)
	_ = mc.Set(ctx, "b", "2", 0)
	var s string
	_ = mc.Get(ctx, "a", &s) // a is now most recent
	_ = mc.Set(ctx, "c", "3", 0)

	if err := mc.Get(ctx, "b", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("b should have been evicted, got %v", err)
	}
	got, _ := mc.MGet(ctx, "a", "b", "c")
	if len(got) != 2 || string(got["a"]) != "1" || string(got["c"]) != "3" {
		t.Fatalf("unexpected survivors %v", got)
	}
	if mc.Len() != 2 {
		t.Fatalf("len = %d", mc.Len())
	}
}

func TestMGetTypedSkipsBadJSON(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	type doc struct {
		N int `json:"n"`
	}
	_ = mc.Set(ctx, "good", doc{N: 7}, time.Minute)
	_ = mc.Set(ctx, "bad", "not json", time.Minute)
	got, err := MGetTyped[doc](ctx, mc, "good", "bad", "missing")
	if err != nil {
		t.Fatalf("mget: %v", err)
	}
	if len(got) != 1 || got["good"].N != 7 {
		t.Fatalf("unexpected %v", got)
	}
}

func TestBuildPattern(t *testing.T) {
	if got := BuildPattern("scan", "", "1d"); got != "scan:*:1d:*" {
		t.Fatalf("pattern = %s", got)
	}
	if got := BuildPattern("scan"); got != "scan:*" {
		t.Fatalf("pattern = %s", got)
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	rc := NewRedisCacheFromClient(nil, "finscan")
	if rc.key("scan:x") != "finscan:scan:x" || rc.strip("finscan:scan:x") != "scan:x" {
		t.Fatalf("prefix handling broken")
	}
	if err := rc.Unlock(context.Background(), "never-locked"); err != nil {
		t.Fatalf("unlock of unknown key: %v", err)
	}
}
