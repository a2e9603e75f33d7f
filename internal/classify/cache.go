package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/visionclass/backend/internal/cache"
)

// cacheKeyPrefix namespaces classification entries in the shared store.
const cacheKeyPrefix = "classify:"

// cachedEntry is the stored shape: the RAW unfiltered prediction set. Storing
// raw predictions keeps the cache key independent of the caller's confidence
// threshold; filtering and ranking are re-applied on every hit.
type cachedEntry struct {
	Predictions []Prediction  `json:"predictions"`
	Model       string        `json:"model"`
	Latency     time.Duration `json:"latency"`
	CachedAt    time.Time     `json:"cached_at"`
}

// ResultCache memoizes backend prediction sets keyed by (fingerprint, model).
// It is strictly best-effort: every failure path degrades to a miss, and
// writes are fire-and-forget from the caller's perspective. One attempt per
// operation, bounded by opTimeout.
type ResultCache struct {
	store     cache.Store
	ttl       time.Duration
	opTimeout time.Duration
	enabled   bool
}

// NewResultCache creates a result cache over the given store.
func NewResultCache(store cache.Store, ttl, opTimeout time.Duration, enabled bool) *ResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	return &ResultCache{
		store:     store,
		ttl:       ttl,
		opTimeout: opTimeout,
		enabled:   enabled && store != nil,
	}
}

// Enabled reports whether lookups will ever hit.
func (c *ResultCache) Enabled() bool {
	return c.enabled
}

// TTL returns the configured entry lifetime.
func (c *ResultCache) TTL() time.Duration {
	return c.ttl
}

func cacheKey(fingerprint, model string) string {
	return fmt.Sprintf("%s%s:%s", cacheKeyPrefix, fingerprint, model)
}

// Get returns the cached raw predictions for (fingerprint, model), or
// ok=false on miss, expiry, timeout, or store error.
func (c *ResultCache) Get(ctx context.Context, fingerprint, model string) ([]Prediction, time.Duration, bool) {
	if !c.enabled {
		return nil, 0, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	data, err := c.store.Get(ctx, cacheKey(fingerprint, model))
	if err != nil {
		if err != cache.ErrMiss {
			log.Printf("[classify] cache get failed, treating as miss: %v", err)
		}
		return nil, 0, false
	}

	var entry cachedEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		log.Printf("[classify] cache entry corrupt, treating as miss: %v", err)
		return nil, 0, false
	}

	return entry.Predictions, entry.Latency, true
}

// Put stores the raw prediction set. Errors are swallowed; a failed write
// just means the next request recomputes.
func (c *ResultCache) Put(ctx context.Context, fingerprint, model string, predictions []Prediction, latency time.Duration) {
	if !c.enabled {
		return
	}

	entry := cachedEntry{
		Predictions: predictions,
		Model:       model,
		Latency:     latency,
		CachedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[classify] cache marshal failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.store.SetWithTTL(ctx, cacheKey(fingerprint, model), string(data), c.ttl); err != nil {
		log.Printf("[classify] cache put failed: %v", err)
	}
}

// Invalidate removes the entry for (fingerprint, model).
func (c *ResultCache) Invalidate(ctx context.Context, fingerprint, model string) {
	if !c.enabled {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, cacheKey(fingerprint, model)); err != nil {
		log.Printf("[classify] cache invalidate failed: %v", err)
	}
}
