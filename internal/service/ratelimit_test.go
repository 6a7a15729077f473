package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redisstorage "github.com/stms/internal/storage/redis"
)

func newRateLimiterTest(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	cli := redisstorage.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cli.Close() })
	return NewRateLimiter(cli), mr
}

func TestRateLimitCountsWithinWindow(t *testing.T) {
	limiter, _ := newRateLimiterTest(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		res, err := limiter.CheckAndIncrement(ctx, "ip:1.2.3.4", 3, time.Minute)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if res.Count != i {
			t.Fatalf("call %d: count=%d", i, res.Count)
		}
		if res.Exceeded {
			t.Fatalf("call %d within limit flagged as exceeded", i)
		}
		if res.Remaining != 3-i {
			t.Fatalf("call %d: remaining=%d", i, res.Remaining)
		}
	}

	res, err := limiter.CheckAndIncrement(ctx, "ip:1.2.3.4", 3, time.Minute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Exceeded || res.Count != 4 || res.Remaining != 0 {
		t.Fatalf("4th call must exceed: %+v", res)
	}
}

func TestRateLimitWindowResets(t *testing.T) {
	limiter, mr := newRateLimiterTest(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := limiter.CheckAndIncrement(ctx, "u1", 3, time.Minute); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	mr.FastForward(61 * time.Second)

	res, err := limiter.CheckAndIncrement(ctx, "u1", 3, time.Minute)
	if err != nil {
		t.Fatalf("check after window: %v", err)
	}
	if res.Count != 1 || res.Exceeded {
		t.Fatalf("counter must reset after the window: %+v", res)
	}
}

func TestRateLimitResetTracksWindow(t *testing.T) {
	limiter, mr := newRateLimiterTest(t)
	ctx := context.Background()

	first, err := limiter.CheckAndIncrement(ctx, "u1", 5, time.Minute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d := time.Until(first.ResetAt); d < 55*time.Second || d > 65*time.Second {
		t.Fatalf("first reset must be a full window away, got %v", d)
	}

	// Середина окна: reset считается от начала окна, не от текущего запроса.
	mr.FastForward(30 * time.Second)
	second, err := limiter.CheckAndIncrement(ctx, "u1", 5, time.Minute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d := time.Until(second.ResetAt); d < 25*time.Second || d > 35*time.Second {
		t.Fatalf("mid-window reset must be ~30s away, got %v", d)
	}
}

func TestRateLimitIdentifiersIsolated(t *testing.T) {
	limiter, _ := newRateLimiterTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.CheckAndIncrement(ctx, "noisy", 3, time.Minute)
	}
	res, err := limiter.CheckAndIncrement(ctx, "quiet", 3, time.Minute)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Count != 1 || res.Exceeded {
		t.Fatalf("identifiers must not share counters: %+v", res)
	}
}

func TestRateLimitStoreDownReturnsError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	cli := redisstorage.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	limiter := NewRateLimiter(cli)
	mr.Close()

	if _, err := limiter.CheckAndIncrement(context.Background(), "u1", 3, time.Minute); err == nil {
		t.Fatal("expected an error when the store is unreachable")
	}
}
