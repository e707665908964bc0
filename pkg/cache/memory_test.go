package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type payload struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	if err := mc.Set(ctx, Key("session", "a"), payload{Name: "a", N: 3}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got payload
	if err := mc.Get(ctx, "session:a", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "a" || got.N != 3 {
		t.Fatalf("unexpected value %+v", got)
	}

	var s string
	_ = mc.Set(ctx, "raw", "hello", 0)
	if err := mc.Get(ctx, "raw", &s); err != nil || s != "hello" {
		t.Fatalf("string get = %q, %v", s, err)
	}

	_ = mc.Delete(ctx, "session:a")
	if err := mc.Get(ctx, "session:a", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	mc := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	_ = mc.Set(ctx, "k", "v", time.Minute)

	now = now.Add(45 * time.Second)
	if ok, _ := mc.Touch(ctx, "k", time.Minute); !ok {
		t.Fatalf("expected touch on live key to succeed")
	}
	now = now.Add(45 * time.Second)
	var s string
	if err := mc.Get(ctx, "k", &s); err != nil || s != "v" {
		t.Fatalf("touched key should survive: %q, %v", s, err)
	}
	now = now.Add(2 * time.Minute)
	if err := mc.Get(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected key to expire, got %v", err)
	}
	if ok, _ := mc.Touch(ctx, "k", time.Minute); ok {
		t.Fatalf("touch on missing key should report false")
	}
}

func TestMemoryCacheEvictsLRU(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	_ = mc.Set(ctx, "a", "1", 0)
	_ = mc.Set(ctx, "b", "2", 0)
	var s string
	_ = mc.Get(ctx, "a", &s)
	_ = mc.Set(ctx, "c", "3", 0)

	if err := mc.Get(ctx, "b", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected b to be evicted, got %v", err)
	}
	if mc.Len() != 2 {
		t.Fatalf("len = %d, want 2", mc.Len())
	}
}

func TestRedisKeyAndOptions(t *testing.T) {
	rc := NewRedisCacheFromClient(nil, "digitcast")
	if got := rc.key("session:abc"); got != "digitcast:session:abc" {
		t.Fatalf("key = %s", got)
	}
	if got := NewRedisCacheFromClient(nil, "").key("k"); got != "k" {
		t.Fatalf("unprefixed key = %s", got)
	}

	cfg := &RedisConfig{Host: "redis", Port: 6380, Password: "pw", DB: 2, IOTimeout: time.Second}
	o := redisOptions(cfg)
	if o.Addr != "redis:6380" || o.Password != "pw" || o.DB != 2 || o.ReadTimeout != time.Second || o.WriteTimeout != time.Second {
		t.Fatalf("unexpected options %+v", o)
	}
}

func TestDecodeBytes(t *testing.T) {
	var b []byte
	if err := decode([]byte("raw"), &b); err != nil || string(b) != "raw" {
		t.Fatalf("decode bytes = %q, %v", b, err)
	}
}
