package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/visionclass/backend/internal/database"
	"github.com/visionclass/backend/internal/models"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrInvalidTier          = errors.New("invalid subscription tier")
)

// SubscriptionStore is the persistence surface for subscriptions. The
// postgres implementation backs production; the memory implementation backs
// tests.
type SubscriptionStore interface {
	Create(ctx context.Context, userID, tier string) (*models.Subscription, error)
	GetByID(ctx context.Context, id string) (*models.Subscription, error)
	GetByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	// IncrementUsage atomically adds one to used_requests and returns the
	// updated row. Callers must not read-modify-write the counter.
	IncrementUsage(ctx context.Context, id string) (*models.Subscription, error)
	ChangeTier(ctx context.Context, id, tier string) (*models.Subscription, error)
	Cancel(ctx context.Context, id string) error
	ResetCycle(ctx context.Context, id string) (*models.Subscription, error)
}

// billingCycle is the fixed subscription cycle length. Cycles are exactly 30
// days, not calendar months.
const billingCycle = 30 * 24 * time.Hour

// newSubscription builds the initial row for a tier, with a 30-day billing
// cycle starting now.
func newSubscription(userID, tier string) (*models.Subscription, error) {
	if !models.IsValidTier(tier) {
		return nil, ErrInvalidTier
	}
	plan := PlanFor(tier)
	now := time.Now().UTC()
	return &models.Subscription{
		ID:                uuid.New().String(),
		UserID:            userID,
		Tier:              tier,
		Status:            models.BillingActive,
		MonthlyCost:       plan.MonthlyCost,
		IncludedRequests:  plan.IncludedRequests,
		UsedRequests:      0,
		BillingCycleStart: now,
		BillingCycleEnd:   now.Add(billingCycle),
		AutoRenew:         true,
		CreatedAt:         now,
	}, nil
}

// PGSubscriptionStore persists subscriptions in postgres.
type PGSubscriptionStore struct {
	db *database.DB
}

func NewPGSubscriptionStore(db *database.DB) *PGSubscriptionStore {
	return &PGSubscriptionStore{db: db}
}

const subscriptionColumns = `id, user_id, tier, status, monthly_cost, included_requests,
	used_requests, billing_cycle_start, billing_cycle_end, auto_renew, created_at`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.Tier, &s.Status, &s.MonthlyCost,
		&s.IncludedRequests, &s.UsedRequests, &s.BillingCycleStart,
		&s.BillingCycleEnd, &s.AutoRenew, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &s, nil
}

func (s *PGSubscriptionStore) Create(ctx context.Context, userID, tier string) (*models.Subscription, error) {
	sub, err := newSubscription(userID, tier)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.db.Exec(ctx, query,
		sub.ID, sub.UserID, sub.Tier, sub.Status, sub.MonthlyCost,
		sub.IncludedRequests, sub.UsedRequests, sub.BillingCycleStart,
		sub.BillingCycleEnd, sub.AutoRenew, sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, nil
}

func (s *PGSubscriptionStore) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(s.db.QueryRow(ctx, query, id))
}

func (s *PGSubscriptionStore) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status != $2
		ORDER BY created_at DESC
		LIMIT 1`
	return scanSubscription(s.db.QueryRow(ctx, query, userID, models.BillingCancelled))
}

func (s *PGSubscriptionStore) IncrementUsage(ctx context.Context, id string) (*models.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET used_requests = used_requests + 1
		WHERE id = $1
		RETURNING ` + subscriptionColumns
	return scanSubscription(s.db.QueryRow(ctx, query, id))
}

func (s *PGSubscriptionStore) ChangeTier(ctx context.Context, id, tier string) (*models.Subscription, error) {
	if !models.IsValidTier(tier) {
		return nil, ErrInvalidTier
	}
	plan := PlanFor(tier)
	query := `
		UPDATE subscriptions
		SET tier = $2, monthly_cost = $3, included_requests = $4
		WHERE id = $1
		RETURNING ` + subscriptionColumns
	return scanSubscription(s.db.QueryRow(ctx, query, id, tier, plan.MonthlyCost, plan.IncludedRequests))
}

func (s *PGSubscriptionStore) Cancel(ctx context.Context, id string) error {
	affected, err := s.db.Exec(ctx,
		`UPDATE subscriptions SET status = $2, auto_renew = false WHERE id = $1`,
		id, models.BillingCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PGSubscriptionStore) ResetCycle(ctx context.Context, id string) (*models.Subscription, error) {
	now := time.Now().UTC()
	query := `
		UPDATE subscriptions
		SET used_requests = 0, billing_cycle_start = $2, billing_cycle_end = $3
		WHERE id = $1
		RETURNING ` + subscriptionColumns
	return scanSubscription(s.db.QueryRow(ctx, query, id, now, now.Add(billingCycle)))
}

// MemorySubscriptionStore is an in-memory SubscriptionStore for tests and
// single-node development.
type MemorySubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]*models.Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*models.Subscription)}
}

func (s *MemorySubscriptionStore) Create(ctx context.Context, userID, tier string) (*models.Subscription, error) {
	sub, err := newSubscription(userID, tier)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	cp := *sub
	return &cp, nil
}

func (s *MemorySubscriptionStore) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *MemorySubscriptionStore) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Subscription
	for _, sub := range s.subs {
		if sub.UserID != userID || sub.Status == models.BillingCancelled {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ErrSubscriptionNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemorySubscriptionStore) IncrementUsage(ctx context.Context, id string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	sub.UsedRequests++
	cp := *sub
	return &cp, nil
}

func (s *MemorySubscriptionStore) ChangeTier(ctx context.Context, id, tier string) (*models.Subscription, error) {
	if !models.IsValidTier(tier) {
		return nil, ErrInvalidTier
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	plan := PlanFor(tier)
	sub.Tier = tier
	sub.MonthlyCost = plan.MonthlyCost
	sub.IncludedRequests = plan.IncludedRequests
	cp := *sub
	return &cp, nil
}

func (s *MemorySubscriptionStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Status = models.BillingCancelled
	sub.AutoRenew = false
	return nil
}

func (s *MemorySubscriptionStore) ResetCycle(ctx context.Context, id string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	now := time.Now().UTC()
	sub.UsedRequests = 0
	sub.BillingCycleStart = now
	sub.BillingCycleEnd = now.Add(billingCycle)
	cp := *sub
	return &cp, nil
}
