package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionclass/backend/internal/models"
)

func TestSubscriptionCycleIsThirtyDays(t *testing.T) {
	subs := NewMemorySubscriptionStore()

	sub, err := subs.Create(context.Background(), "user-1", models.TierBasic)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, sub.BillingCycleEnd.Sub(sub.BillingCycleStart))
}

func TestResetCycleStartsAnotherThirtyDays(t *testing.T) {
	subs := NewMemorySubscriptionStore()
	sub, err := subs.Create(context.Background(), "user-1", models.TierBasic)
	require.NoError(t, err)

	_, err = subs.IncrementUsage(context.Background(), sub.ID)
	require.NoError(t, err)

	reset, err := subs.ResetCycle(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Zero(t, reset.UsedRequests)
	assert.Equal(t, 30*24*time.Hour, reset.BillingCycleEnd.Sub(reset.BillingCycleStart))
}
