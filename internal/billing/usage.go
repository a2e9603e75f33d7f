package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/visionclass/backend/internal/database"
	"github.com/visionclass/backend/internal/metrics"
	"github.com/visionclass/backend/internal/models"
)

// UsageStore persists immutable ledger entries. Entries are append-only;
// there is no update or delete surface.
type UsageStore interface {
	Insert(ctx context.Context, entry *models.UsageEntry) error
	ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]models.UsageEntry, error)
}

// PGUsageStore stores ledger entries in postgres.
type PGUsageStore struct {
	db *database.DB
}

func NewPGUsageStore(db *database.DB) *PGUsageStore {
	return &PGUsageStore{db: db}
}

func (s *PGUsageStore) Insert(ctx context.Context, entry *models.UsageEntry) error {
	query := `
		INSERT INTO usage_entries (id, timestamp, masked_key, user_id, subscription_id,
			service_type, endpoint, request_size, processing_time_ms, success, cost, tier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.db.Exec(ctx, query,
		entry.ID, entry.Timestamp, entry.MaskedKey, entry.UserID, entry.SubscriptionID,
		entry.ServiceType, entry.Endpoint, entry.RequestSize, entry.ProcessingTime.Milliseconds(),
		entry.Success, entry.Cost, entry.Tier)
	if err != nil {
		return fmt.Errorf("failed to insert usage entry: %w", err)
	}
	return nil
}

func (s *PGUsageStore) ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]models.UsageEntry, error) {
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	query := `
		SELECT id, timestamp, masked_key, user_id, subscription_id, service_type,
			endpoint, request_size, processing_time_ms, success, cost, tier
		FROM usage_entries
		WHERE user_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
		LIMIT $3`
	rows, err := s.db.Query(ctx, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage entries: %w", err)
	}
	defer rows.Close()

	var entries []models.UsageEntry
	for rows.Next() {
		var (
			e  models.UsageEntry
			ms int64
		)
		err := rows.Scan(&e.ID, &e.Timestamp, &e.MaskedKey, &e.UserID, &e.SubscriptionID,
			&e.ServiceType, &e.Endpoint, &e.RequestSize, &ms,
			&e.Success, &e.Cost, &e.Tier)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage entry: %w", err)
		}
		e.ProcessingTime = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage entries: %w", err)
	}
	return entries, nil
}

// MemoryUsageStore is an in-memory append-only ledger for tests.
type MemoryUsageStore struct {
	mu      sync.Mutex
	entries []models.UsageEntry
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) Insert(ctx context.Context, entry *models.UsageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *MemoryUsageStore) ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]models.UsageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UsageEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.UserID != userID || e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Request describes one metered API call for the ledger.
type Request struct {
	MaskedKey      string
	UserID         string
	SubscriptionID string
	ServiceType    string
	Endpoint       string
	RequestSize    int64
	ProcessingTime time.Duration
	Success        bool
	Tier           string
}

// LoggedUsage is what the ledger reports back after metering a request.
type LoggedUsage struct {
	Cost              float64 `json:"cost"`
	UsedRequests      int64   `json:"used_requests"`
	RemainingRequests int64   `json:"remaining_requests"`
	OverageRequests   int64   `json:"overage_requests"`
}

// Ledger meters requests: it prices them, appends an immutable usage entry,
// and advances the subscription's quota counter.
type Ledger struct {
	usage UsageStore
	subs  SubscriptionStore
}

func NewLedger(usage UsageStore, subs SubscriptionStore) *Ledger {
	return &Ledger{usage: usage, subs: subs}
}

// Log meters one request. Persistence failures are swallowed: a broken
// ledger must never turn a served request into a client-facing error. Drops
// are counted so operators can reconcile billing later.
func (l *Ledger) Log(ctx context.Context, req Request) LoggedUsage {
	cost := CalculateCost(req.ServiceType, req.ProcessingTime.Seconds(), req.RequestSize)

	entry := &models.UsageEntry{
		ID:             uuid.New().String(),
		Timestamp:      time.Now().UTC(),
		MaskedKey:      req.MaskedKey,
		UserID:         req.UserID,
		SubscriptionID: req.SubscriptionID,
		ServiceType:    req.ServiceType,
		Endpoint:       req.Endpoint,
		RequestSize:    req.RequestSize,
		ProcessingTime: req.ProcessingTime,
		Success:        req.Success,
		Cost:           cost,
		Tier:           req.Tier,
	}
	if err := l.usage.Insert(ctx, entry); err != nil {
		metrics.UsageLogFailures.Inc()
		log.Printf("[billing] dropped usage entry for user %s: %v", req.UserID, err)
	}

	logged := LoggedUsage{Cost: cost}
	sub, err := l.subs.IncrementUsage(ctx, req.SubscriptionID)
	if err != nil {
		if !errors.Is(err, ErrSubscriptionNotFound) && !errors.Is(err, pgx.ErrNoRows) {
			metrics.UsageLogFailures.Inc()
		}
		log.Printf("[billing] failed to advance quota for subscription %s: %v", req.SubscriptionID, err)
		return logged
	}
	logged.UsedRequests = sub.UsedRequests
	logged.RemainingRequests = sub.RemainingRequests()
	logged.OverageRequests = sub.OverageRequests()
	return logged
}

// EstimateMonthly projects the current cycle's bill: the plan's monthly cost
// plus overage requests at the plan's overage rate.
func EstimateMonthly(sub *models.Subscription) float64 {
	plan := PlanFor(sub.Tier)
	return roundCost(plan.MonthlyCost + float64(sub.OverageRequests())*plan.OverageRate)
}
