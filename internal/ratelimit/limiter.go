// Package ratelimit enforces per-key minute and hour request windows.
// Windows are fixed buckets keyed by truncated timestamp, so bucket rotation
// needs no coordination; stale buckets expire via store TTL.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/visionclass/backend/internal/cache"
)

// Window granularities checked, in order. The minute window is always
// checked before the hour window, so the first violation reported is
// deterministic.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// Limits are the tier-derived caps for one key. They are passed in at check
// time so a tier change takes effect immediately.
type Limits struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
}

// Result is the outcome of a rate-limit check. Denial is an expected,
// structured outcome, not an error.
type Result struct {
	Allowed         bool      `json:"allowed"`
	Reason          string    `json:"reason,omitempty"`
	Window          string    `json:"window,omitempty"`
	Limit           int       `json:"limit,omitempty"`
	Current         int64     `json:"current,omitempty"`
	ResetTime       time.Time `json:"reset_time,omitempty"`
	MinuteRemaining int64     `json:"minute_remaining"`
	HourRemaining   int64     `json:"hour_remaining"`
}

// RetryAfter returns the seconds until the violated window rolls over.
func (r *Result) RetryAfter() int64 {
	if r.Allowed {
		return 0
	}
	secs := int64(time.Until(r.ResetTime).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter performs check-and-increment against a counter store. Increment is
// atomic (INCR, not read-then-write) so concurrent requests for the same key
// never undercount.
type Limiter struct {
	store     cache.Store
	failOpen  bool
	opTimeout time.Duration
	now       func() time.Time
}

// New creates a limiter. failOpen controls behavior when the counter store is
// unreachable: true allows the request through (availability), false denies
// it (abuse prevention).
func New(store cache.Store, failOpen bool) *Limiter {
	return &Limiter{
		store:     store,
		failOpen:  failOpen,
		opTimeout: 500 * time.Millisecond,
		now:       time.Now,
	}
}

// Check performs the check-and-increment for one request. On allow, both
// window counters have been incremented as a side effect; there is no
// separate commit step.
func (l *Limiter) Check(ctx context.Context, keyID string, limits Limits) Result {
	now := l.now().UTC()

	minuteRes, ok := l.checkWindow(ctx, keyID, WindowMinute, limits.PerMinute, now)
	if !ok {
		return l.storeFailure(now)
	}
	if !minuteRes.Allowed {
		return minuteRes
	}

	hourRes, ok := l.checkWindow(ctx, keyID, WindowHour, limits.PerHour, now)
	if !ok {
		return l.storeFailure(now)
	}
	if !hourRes.Allowed {
		hourRes.MinuteRemaining = minuteRes.MinuteRemaining
		return hourRes
	}

	return Result{
		Allowed:         true,
		MinuteRemaining: minuteRes.MinuteRemaining,
		HourRemaining:   hourRes.HourRemaining,
		ResetTime:       now.Truncate(time.Minute).Add(time.Minute),
	}
}

// checkWindow increments one window counter and compares it to the limit.
// The second return value is false on store failure.
func (l *Limiter) checkWindow(ctx context.Context, keyID, window string, limit int, now time.Time) (Result, bool) {
	var (
		key   string
		ttl   time.Duration
		reset time.Time
	)
	switch window {
	case WindowMinute:
		key = fmt.Sprintf("rate:%s:minute:%s", keyID, now.Format("200601021504"))
		ttl = time.Minute + 5*time.Second
		reset = now.Truncate(time.Minute).Add(time.Minute)
	case WindowHour:
		key = fmt.Sprintf("rate:%s:hour:%s", keyID, now.Format("2006010215"))
		ttl = time.Hour + time.Minute
		reset = now.Truncate(time.Hour).Add(time.Hour)
	}

	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	count, err := l.store.IncrWithTTL(opCtx, key, ttl)
	if err != nil {
		log.Printf("[ratelimit] counter store failure (window=%s): %v", window, err)
		return Result{}, false
	}

	if count > int64(limit) {
		return Result{
			Allowed:   false,
			Reason:    fmt.Sprintf("Per-%s rate limit exceeded", window),
			Window:    window,
			Limit:     limit,
			Current:   int64(limit),
			ResetTime: reset,
		}, true
	}

	res := Result{Allowed: true}
	remaining := int64(limit) - count
	if window == WindowMinute {
		res.MinuteRemaining = remaining
	} else {
		res.HourRemaining = remaining
	}
	return res, true
}

// storeFailure applies the configured fail-open/fail-closed policy.
func (l *Limiter) storeFailure(now time.Time) Result {
	if l.failOpen {
		return Result{
			Allowed:   true,
			ResetTime: now.Truncate(time.Minute).Add(time.Minute),
		}
	}
	return Result{
		Allowed:   false,
		Reason:    "Rate limiter unavailable",
		Window:    WindowMinute,
		ResetTime: now.Truncate(time.Minute).Add(time.Minute),
	}
}

// Reset clears both window counters for a key. Used by admin tooling and
// tests.
func (l *Limiter) Reset(ctx context.Context, keyID string) error {
	now := l.now().UTC()
	minuteKey := fmt.Sprintf("rate:%s:minute:%s", keyID, now.Format("200601021504"))
	hourKey := fmt.Sprintf("rate:%s:hour:%s", keyID, now.Format("2006010215"))
	if err := l.store.Delete(ctx, minuteKey, hourKey); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}
