package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"upgradebot/internal/storage"
)

// DefaultDailyLimit applies when the configured limit is not positive.
const DefaultDailyLimit = 5

const dayLayout = "2006-01-02"

// RateLimiter enforces the per-user daily allowance. The privileged identity
// is exempt. Store failures deny the request.
type RateLimiter struct {
	store      storage.UsageStore
	limit      atomic.Int64
	privileged atomic.Int64
	now        func() time.Time
}

func NewRateLimiter(store storage.UsageStore, limit int, privileged int64) *RateLimiter {
	r := &RateLimiter{store: store, now: time.Now}
	r.SetLimit(limit)
	r.privileged.Store(privileged)
	return r
}

func (r *RateLimiter) SetLimit(n int) {
	if n <= 0 {
		n = DefaultDailyLimit
	}
	r.limit.Store(int64(n))
}

func (r *RateLimiter) Limit() int { return int(r.limit.Load()) }

func (r *RateLimiter) SetPrivileged(id int64) { r.privileged.Store(id) }

// IsPrivileged reports whether user is the admin identity. Zero never matches.
func (r *RateLimiter) IsPrivileged(user int64) bool {
	p := r.privileged.Load()
	return p != 0 && user == p
}

// Today is the counter key for the current local calendar day.
func (r *RateLimiter) Today() string { return r.now().Format(dayLayout) }

// CheckCanRequest is read-only.
func (r *RateLimiter) CheckCanRequest(ctx context.Context, user int64) (bool, error) {
	if r.IsPrivileged(user) {
		return true, nil
	}
	n, err := r.store.GetUsage(ctx, user, r.Today())
	if err != nil {
		return false, storeErr("get usage", err)
	}
	return int64(n) < r.limit.Load(), nil
}

// Increment records one successful request. It is a no-op for the privileged identity.
func (r *RateLimiter) Increment(ctx context.Context, user int64) error {
	if r.IsPrivileged(user) {
		return nil
	}
	if _, err := r.store.IncrementUsage(ctx, user, r.Today()); err != nil {
		return storeErr("increment usage", err)
	}
	return nil
}

// Reset clears today's counter for user.
func (r *RateLimiter) Reset(ctx context.Context, user int64) error {
	if err := r.store.ResetUsage(ctx, user, r.Today()); err != nil {
		return storeErr("reset usage", err)
	}
	return nil
}

// Usage returns today's count for user.
func (r *RateLimiter) Usage(ctx context.Context, user int64) (int, error) {
	n, err := r.store.GetUsage(ctx, user, r.Today())
	if err != nil {
		return 0, storeErr("get usage", err)
	}
	return n, nil
}
