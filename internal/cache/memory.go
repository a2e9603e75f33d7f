package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Store with TTL expiry. A background sweeper bounds
// growth; reads also lazily evict expired entries.
type Memory struct {
	mu              sync.Mutex
	items           map[string]memoryEntry
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
	cleanupInterval time.Duration
}

// NewMemory creates an in-memory store. A non-positive cleanupInterval
// defaults to 5 minutes.
func NewMemory(cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	m := &Memory{
		items:           make(map[string]memoryEntry),
		stopCleanup:     make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}

	go m.cleanupExpired()

	return m
}

// Get retrieves a value, treating expired entries as absent.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[key]
	if !ok {
		return "", ErrMiss
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.items, key)
		return "", ErrMiss
	}
	return entry.value, nil
}

// SetWithTTL stores a value that expires after ttl.
func (m *Memory) SetWithTTL(_ context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	m.items[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// IncrWithTTL increments a counter under the store lock, starting the TTL
// when the key is first created.
func (m *Memory) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.items[key]
	if !ok || now.After(entry.expiresAt) {
		m.items[key] = memoryEntry{value: "1", expiresAt: now.Add(ttl)}
		return 1, nil
	}

	n, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	m.items[key] = entry
	return n, nil
}

// Delete removes keys.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.items, k)
	}
	m.mu.Unlock()
	return nil
}

// Health always succeeds for the in-memory store.
func (m *Memory) Health(_ context.Context) error {
	return nil
}

// cleanupExpired runs periodically to remove expired entries.
func (m *Memory) cleanupExpired() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for k, v := range m.items {
				if now.After(v.expiresAt) {
					delete(m.items, k)
				}
			}
			m.mu.Unlock()
		case <-m.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. Call this on shutdown or in tests.
func (m *Memory) Close() error {
	m.cleanupOnce.Do(func() {
		close(m.stopCleanup)
	})
	return nil
}
