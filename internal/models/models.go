package models

import (
	"time"
)

// BillingStatus values for Subscription.Status.
const (
	BillingActive    = "active"
	BillingSuspended = "suspended"
	BillingCancelled = "cancelled"
	BillingPastDue   = "past_due"
)

// Subscription ties a user to a tier for one billing cycle. UsedRequests is
// monotonically non-decreasing within a cycle; the external rollover job
// resets it at cycle boundaries.
type Subscription struct {
	ID                string    `json:"subscription_id" db:"id"`
	UserID            string    `json:"user_id" db:"user_id"`
	Tier              string    `json:"tier" db:"tier"`
	Status            string    `json:"status" db:"status"`
	MonthlyCost       float64   `json:"monthly_cost" db:"monthly_cost"`
	IncludedRequests  int64     `json:"included_requests" db:"included_requests"`
	UsedRequests      int64     `json:"used_requests" db:"used_requests"`
	BillingCycleStart time.Time `json:"billing_cycle_start" db:"billing_cycle_start"`
	BillingCycleEnd   time.Time `json:"billing_cycle_end" db:"billing_cycle_end"`
	AutoRenew         bool      `json:"auto_renew" db:"auto_renew"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// OverageRequests is derived, never stored: usage beyond the included quota.
func (s *Subscription) OverageRequests() int64 {
	if s.UsedRequests > s.IncludedRequests {
		return s.UsedRequests - s.IncludedRequests
	}
	return 0
}

// RemainingRequests returns the unused portion of the included quota.
func (s *Subscription) RemainingRequests() int64 {
	if s.IncludedRequests > s.UsedRequests {
		return s.IncludedRequests - s.UsedRequests
	}
	return 0
}

// UsageEntry is one immutable, append-only billable event.
type UsageEntry struct {
	ID             string        `json:"usage_id" db:"id"`
	Timestamp      time.Time     `json:"timestamp" db:"timestamp"`
	MaskedKey      string        `json:"api_key" db:"masked_key"`
	UserID         string        `json:"user_id" db:"user_id"`
	SubscriptionID string        `json:"subscription_id" db:"subscription_id"`
	ServiceType    string        `json:"service_type" db:"service_type"`
	Endpoint       string        `json:"endpoint" db:"endpoint"`
	RequestSize    int64         `json:"request_size" db:"request_size"`
	ProcessingTime time.Duration `json:"processing_time" db:"processing_time"`
	Success        bool          `json:"success" db:"success"`
	Cost           float64       `json:"cost" db:"cost"`
	Tier           string        `json:"tier" db:"tier"`
}

// ClassificationRecord is a per-user history entry for a completed
// classification request.
type ClassificationRecord struct {
	ID             string        `json:"id" db:"id"`
	UserID         string        `json:"user_id" db:"user_id"`
	Filename       string        `json:"filename" db:"filename"`
	Fingerprint    string        `json:"fingerprint" db:"fingerprint"`
	Model          string        `json:"model" db:"model"`
	TopLabel       string        `json:"top_label" db:"top_label"`
	TopConfidence  float64       `json:"top_confidence" db:"top_confidence"`
	PredictionsRaw string        `json:"-" db:"predictions"`
	FromCache      bool          `json:"from_cache" db:"from_cache"`
	ProcessingTime time.Duration `json:"processing_time" db:"processing_time"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// HistoryFilter contains filter options for querying classification history
type HistoryFilter struct {
	UserID string
	Model  string
	Since  *time.Time
	Limit  int
	Offset int
}
