package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionclass/backend/internal/cache"
)

// downStore simulates an unreachable counter store.
type downStore struct{}

var errStoreDown = errors.New("connection refused")

func (downStore) Get(context.Context, string) (string, error) { return "", errStoreDown }

func (downStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errStoreDown
}

func (downStore) IncrWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 0, errStoreDown
}
func (downStore) Delete(context.Context, ...string) error { return errStoreDown }
func (downStore) Health(context.Context) error            { return errStoreDown }

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	store := cache.NewMemory(time.Minute)
	t.Cleanup(func() { store.Close() })
	return New(store, false)
}

func TestCheckAllowsUpToMinuteLimit(t *testing.T) {
	l := newTestLimiter(t)
	limits := Limits{PerMinute: 5, PerHour: 100}

	for i := 0; i < 5; i++ {
		res := l.Check(context.Background(), "key-1", limits)
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, int64(5-i-1), res.MinuteRemaining)
	}

	res := l.Check(context.Background(), "key-1", limits)
	require.False(t, res.Allowed)
	assert.Equal(t, WindowMinute, res.Window)
	assert.Equal(t, 5, res.Limit)
	assert.Equal(t, int64(5), res.Current)
	assert.Equal(t, "Per-minute rate limit exceeded", res.Reason)
	assert.False(t, res.ResetTime.IsZero())
	assert.GreaterOrEqual(t, res.RetryAfter(), int64(1))
	assert.LessOrEqual(t, res.RetryAfter(), int64(60))
}

func TestCheckHourWindowDenies(t *testing.T) {
	l := newTestLimiter(t)
	limits := Limits{PerMinute: 100, PerHour: 3}

	for i := 0; i < 3; i++ {
		res := l.Check(context.Background(), "key-2", limits)
		require.True(t, res.Allowed)
	}

	res := l.Check(context.Background(), "key-2", limits)
	require.False(t, res.Allowed)
	assert.Equal(t, WindowHour, res.Window)
	assert.Equal(t, 3, res.Limit)
}

func TestCheckKeysAreIndependent(t *testing.T) {
	l := newTestLimiter(t)
	limits := Limits{PerMinute: 1, PerHour: 10}

	first := l.Check(context.Background(), "key-a", limits)
	require.True(t, first.Allowed)

	denied := l.Check(context.Background(), "key-a", limits)
	require.False(t, denied.Allowed)

	other := l.Check(context.Background(), "key-b", limits)
	assert.True(t, other.Allowed, "a second key must not share counters")
}

func TestCheckFailOpen(t *testing.T) {
	l := New(downStore{}, true)

	res := l.Check(context.Background(), "key-3", Limits{PerMinute: 1, PerHour: 1})
	assert.True(t, res.Allowed)
}

func TestCheckFailClosed(t *testing.T) {
	l := New(downStore{}, false)

	res := l.Check(context.Background(), "key-3", Limits{PerMinute: 100, PerHour: 100})
	require.False(t, res.Allowed)
	assert.Equal(t, "Rate limiter unavailable", res.Reason)
	assert.GreaterOrEqual(t, res.RetryAfter(), int64(1))
}

func TestResetClearsCounters(t *testing.T) {
	l := newTestLimiter(t)
	limits := Limits{PerMinute: 1, PerHour: 10}

	require.True(t, l.Check(context.Background(), "key-4", limits).Allowed)
	require.False(t, l.Check(context.Background(), "key-4", limits).Allowed)

	require.NoError(t, l.Reset(context.Background(), "key-4"))

	assert.True(t, l.Check(context.Background(), "key-4", limits).Allowed)
}

func TestMinuteWindowRollsOver(t *testing.T) {
	l := newTestLimiter(t)
	limits := Limits{PerMinute: 2, PerHour: 100}

	t0 := time.Date(2026, 8, 31, 12, 30, 45, 0, time.UTC)
	l.now = func() time.Time { return t0 }

	require.True(t, l.Check(context.Background(), "key-5", limits).Allowed)
	require.True(t, l.Check(context.Background(), "key-5", limits).Allowed)
	require.False(t, l.Check(context.Background(), "key-5", limits).Allowed)

	// The next minute is a fresh bucket; the hour counter carries over.
	l.now = func() time.Time { return t0.Add(time.Minute) }
	res := l.Check(context.Background(), "key-5", limits)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.MinuteRemaining)
	// The denied request never reached the hour window, so three
	// increments have landed there.
	assert.Equal(t, int64(97), res.HourRemaining)
}

func TestHourWindowRollsOver(t *testing.T) {
	l := newTestLimiter(t)
	limits := Limits{PerMinute: 100, PerHour: 1}

	t0 := time.Date(2026, 8, 31, 12, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return t0 }

	require.True(t, l.Check(context.Background(), "key-6", limits).Allowed)
	require.False(t, l.Check(context.Background(), "key-6", limits).Allowed)

	l.now = func() time.Time { return t0.Add(time.Hour) }
	assert.True(t, l.Check(context.Background(), "key-6", limits).Allowed)
}

func TestRetryAfterZeroWhenAllowed(t *testing.T) {
	res := Result{Allowed: true}
	assert.Equal(t, int64(0), res.RetryAfter())
}
