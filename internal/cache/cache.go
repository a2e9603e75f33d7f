// Package cache provides key-value storage used for classification result
// caching and rate-limit counters. Redis backs production deployments; the
// in-memory store serves tests and cache-disabled setups.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when a key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

// Store is the minimal contract the classification cache and rate-limit
// counters need from a backing store.
type Store interface {
	// Get retrieves a value. Returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// SetWithTTL stores a value that expires after ttl.
	SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error

	// IncrWithTTL atomically increments a counter, setting its expiry to ttl
	// when the key is first created. Returns the new value.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error

	// Health reports whether the store is reachable.
	Health(ctx context.Context) error
}
