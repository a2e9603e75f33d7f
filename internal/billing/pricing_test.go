package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionclass/backend/internal/models"
)

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name        string
		serviceType string
		seconds     float64
		sizeBytes   int64
		want        float64
	}{
		{"image base", ServiceImageClassification, 1.0, 1024, 1.0},
		{"slow request", ServiceImageClassification, 6.0, 1024, 1.5},
		{"large payload", ServiceImageClassification, 1.0, 2 << 20, 1.2},
		{"slow and large compound", ServiceImageClassification, 6.0, 2 << 20, 1.8},
		{"exactly five seconds is not slow", ServiceImageClassification, 5.0, 1024, 1.0},
		{"exactly one megabyte is not large", ServiceImageClassification, 1.0, 1 << 20, 1.0},
		{"video weighted", ServiceVideoClassification, 1.0, 1024, 4.5},
		{"batch discounted", ServiceBatchProcessing, 1.0, 1024, 0.8},
		{"streaming", ServiceRealTimeStreaming, 1.0, 1024, 10.0},
		{"custom inference", ServiceCustomModelInference, 1.0, 1024, 2.6},
		{"unknown service priced as image", "palm_reading", 1.0, 1024, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateCost(tt.serviceType, tt.seconds, tt.sizeBytes)
			assert.InDelta(t, tt.want, got, 0.00001)
		})
	}
}

func TestPlanFor(t *testing.T) {
	basic := PlanFor(models.TierBasic)
	assert.Equal(t, 29.99, basic.MonthlyCost)
	assert.Equal(t, int64(10000), basic.IncludedRequests)
	assert.Equal(t, 0.005, basic.OverageRate)

	unknown := PlanFor("platinum")
	assert.Equal(t, models.TierFree, unknown.Tier)
}

func TestLimitsFor(t *testing.T) {
	free := LimitsFor(models.TierFree)
	assert.Equal(t, 10, free.PerMinute)
	assert.Equal(t, 100, free.PerHour)

	enterprise := LimitsFor(models.TierEnterprise)
	assert.Equal(t, 1000, enterprise.PerMinute)
	assert.Equal(t, 20000, enterprise.PerHour)
}

func TestAllPlansOrderedByPrice(t *testing.T) {
	all := AllPlans()
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].MonthlyCost, all[i-1].MonthlyCost)
	}
}

func TestEstimateMonthly(t *testing.T) {
	sub := &models.Subscription{
		Tier:             models.TierBasic,
		IncludedRequests: 10000,
		UsedRequests:     10050,
	}
	// 29.99 + 50 * 0.005
	assert.InDelta(t, 30.24, EstimateMonthly(sub), 0.00001)

	within := &models.Subscription{
		Tier:             models.TierBasic,
		IncludedRequests: 10000,
		UsedRequests:     400,
	}
	assert.InDelta(t, 29.99, EstimateMonthly(within), 0.00001)
}

// failingUsageStore simulates a broken ledger table.
type failingUsageStore struct{}

func (failingUsageStore) Insert(context.Context, *models.UsageEntry) error {
	return errors.New("relation does not exist")
}

func (failingUsageStore) ListByUser(context.Context, string, time.Time, int) ([]models.UsageEntry, error) {
	return nil, errors.New("relation does not exist")
}

func TestLedgerLog(t *testing.T) {
	usage := NewMemoryUsageStore()
	subs := NewMemorySubscriptionStore()
	sub, err := subs.Create(context.Background(), "user-1", models.TierBasic)
	require.NoError(t, err)

	ledger := NewLedger(usage, subs)
	logged := ledger.Log(context.Background(), Request{
		MaskedKey:      "vc_live_abc1...",
		UserID:         "user-1",
		SubscriptionID: sub.ID,
		ServiceType:    ServiceImageClassification,
		Endpoint:       "/api/v1/classify",
		RequestSize:    2048,
		ProcessingTime: 120 * time.Millisecond,
		Success:        true,
		Tier:           models.TierBasic,
	})

	assert.InDelta(t, 1.0, logged.Cost, 0.00001)
	assert.Equal(t, int64(1), logged.UsedRequests)
	assert.Equal(t, int64(9999), logged.RemainingRequests)
	assert.Equal(t, int64(0), logged.OverageRequests)

	entries, err := usage.ListByUser(context.Background(), "user-1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/api/v1/classify", entries[0].Endpoint)
	assert.Equal(t, "vc_live_abc1...", entries[0].MaskedKey)
	assert.True(t, entries[0].Success)
	assert.NotEmpty(t, entries[0].ID)
}

func TestLedgerLogOverage(t *testing.T) {
	usage := NewMemoryUsageStore()
	subs := NewMemorySubscriptionStore()
	sub, err := subs.Create(context.Background(), "user-2", models.TierBasic)
	require.NoError(t, err)

	// Burn through the included quota plus some.
	for i := int64(0); i < sub.IncludedRequests+49; i++ {
		_, err := subs.IncrementUsage(context.Background(), sub.ID)
		require.NoError(t, err)
	}

	ledger := NewLedger(usage, subs)
	logged := ledger.Log(context.Background(), Request{
		UserID:         "user-2",
		SubscriptionID: sub.ID,
		ServiceType:    ServiceImageClassification,
		ProcessingTime: 100 * time.Millisecond,
		Success:        true,
		Tier:           models.TierBasic,
	})

	assert.Equal(t, sub.IncludedRequests+50, logged.UsedRequests)
	assert.Equal(t, int64(0), logged.RemainingRequests)
	assert.Equal(t, int64(50), logged.OverageRequests)
}

func TestLedgerLogSurvivesBrokenUsageStore(t *testing.T) {
	subs := NewMemorySubscriptionStore()
	sub, err := subs.Create(context.Background(), "user-3", models.TierFree)
	require.NoError(t, err)

	ledger := NewLedger(failingUsageStore{}, subs)
	logged := ledger.Log(context.Background(), Request{
		UserID:         "user-3",
		SubscriptionID: sub.ID,
		ServiceType:    ServiceImageClassification,
		ProcessingTime: 50 * time.Millisecond,
		Success:        true,
		Tier:           models.TierFree,
	})

	// The quota still advances even when the entry was dropped.
	assert.Equal(t, int64(1), logged.UsedRequests)
	assert.InDelta(t, 1.0, logged.Cost, 0.00001)
}

func TestLedgerLogUnknownSubscription(t *testing.T) {
	ledger := NewLedger(NewMemoryUsageStore(), NewMemorySubscriptionStore())

	logged := ledger.Log(context.Background(), Request{
		UserID:         "user-4",
		SubscriptionID: "missing",
		ServiceType:    ServiceImageClassification,
		ProcessingTime: 50 * time.Millisecond,
	})

	assert.InDelta(t, 1.0, logged.Cost, 0.00001)
	assert.Equal(t, int64(0), logged.UsedRequests)
}
