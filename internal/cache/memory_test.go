package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory(time.Minute)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMemoryGetSet(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.SetWithTTL(ctx, "k", "v", time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestMemoryExpiry(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemorySetZeroTTLDeletes(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "k", "v", time.Minute))
	require.NoError(t, m.SetWithTTL(ctx, "k", "v", 0))

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryIncrWithTTL(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := m.IncrWithTTL(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMemoryIncrRestartsAfterExpiry(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, err := m.IncrWithTTL(ctx, "counter", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	got, err := m.IncrWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "an expired counter starts a fresh window")
}

func TestMemoryDelete(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "a", "1", time.Minute))
	require.NoError(t, m.SetWithTTL(ctx, "b", "2", time.Minute))
	require.NoError(t, m.Delete(ctx, "a", "b"))

	_, err := m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryHealth(t *testing.T) {
	m := newTestMemory(t)
	assert.NoError(t, m.Health(context.Background()))
}
