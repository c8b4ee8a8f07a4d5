package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterAllowsExactlyLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMemStore()
	rl := NewRateLimiter(st, 3, 0)

	for i := 0; i < 3; i++ {
		ok, err := rl.CheckCanRequest(ctx, 7)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
		if err := rl.Increment(ctx, 7); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	if ok, _ := rl.CheckCanRequest(ctx, 7); ok {
		t.Fatal("request beyond limit allowed")
	}
	if err := rl.Reset(ctx, 7); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ok, _ := rl.CheckCanRequest(ctx, 7); !ok {
		t.Fatal("reset did not restore permission")
	}
}

func TestRateLimiterDefaultLimit(t *testing.T) {
	t.Parallel()
	if got := NewRateLimiter(newMemStore(), 0, 0).Limit(); got != DefaultDailyLimit {
		t.Fatalf("Limit = %d, want %d", got, DefaultDailyLimit)
	}
}

func TestRateLimiterPrivilegedBypass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMemStore()
	st.failGet = errors.New("db down")
	rl := NewRateLimiter(st, 1, 99)

	for i := 0; i < 5; i++ {
		ok, err := rl.CheckCanRequest(ctx, 99)
		if err != nil || !ok {
			t.Fatalf("privileged denied: ok=%v err=%v", ok, err)
		}
		_ = rl.Increment(ctx, 99)
	}
	if n := st.increments(); n != 0 {
		t.Fatalf("privileged increments = %d, want 0", n)
	}
}

func TestRateLimiterFailsClosed(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.failGet = errors.New("db down")
	rl := NewRateLimiter(st, 5, 0)

	ok, err := rl.CheckCanRequest(context.Background(), 1)
	if ok {
		t.Fatal("store failure must deny")
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestRateLimiterDayKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newMemStore()
	rl := NewRateLimiter(st, 1, 0)
	day := time.Date(2025, 6, 1, 23, 59, 0, 0, time.Local)
	rl.now = func() time.Time { return day }

	_ = rl.Increment(ctx, 1)
	if ok, _ := rl.CheckCanRequest(ctx, 1); ok {
		t.Fatal("same day should be limited")
	}
	day = day.Add(2 * time.Minute)
	if rl.Today() != "2025-06-02" {
		t.Fatalf("Today = %s", rl.Today())
	}
	if ok, _ := rl.CheckCanRequest(ctx, 1); !ok {
		t.Fatal("new day should be allowed")
	}
}
