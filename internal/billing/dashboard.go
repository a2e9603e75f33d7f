package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/visionclass/backend/internal/database"
	"github.com/visionclass/backend/internal/models"
)

// TierBreakdown is one row of the dashboard's per-tier summary.
type TierBreakdown struct {
	Tier            string  `json:"tier"`
	Subscriptions   int64   `json:"subscriptions"`
	MonthlyRevenue  float64 `json:"monthly_revenue"`
	OverageRequests int64   `json:"overage_requests"`
	OverageRevenue  float64 `json:"overage_revenue"`
}

// DashboardSummary is the operator-facing revenue and usage overview.
type DashboardSummary struct {
	ActiveSubscriptions int64           `json:"active_subscriptions"`
	MonthlyRevenue      float64         `json:"monthly_revenue"`
	OverageRevenue      float64         `json:"overage_revenue"`
	RequestsLast30Days  int64           `json:"requests_last_30_days"`
	UsageCostLast30Days float64         `json:"usage_cost_last_30_days"`
	ByTier              []TierBreakdown `json:"by_tier"`
}

// Dashboard aggregates subscriptions and the usage ledger for operators.
type Dashboard struct {
	db *database.DB
}

func NewDashboard(db *database.DB) *Dashboard {
	return &Dashboard{db: db}
}

// Summarize computes the current revenue picture: active subscription counts
// and plan revenue per tier, projected overage revenue at each tier's rate,
// and raw request volume over the trailing 30 days.
func (d *Dashboard) Summarize(ctx context.Context) (*DashboardSummary, error) {
	summary := &DashboardSummary{}

	rows, err := d.db.Query(ctx, `
		SELECT tier, COUNT(*), COALESCE(SUM(monthly_cost), 0),
			COALESCE(SUM(GREATEST(used_requests - included_requests, 0)), 0)
		FROM subscriptions
		WHERE status = $1
		GROUP BY tier`, models.BillingActive)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate subscriptions: %w", err)
	}
	defer rows.Close()

	byTier := make(map[string]TierBreakdown)
	for rows.Next() {
		var row TierBreakdown
		if err := rows.Scan(&row.Tier, &row.Subscriptions, &row.MonthlyRevenue, &row.OverageRequests); err != nil {
			return nil, fmt.Errorf("failed to scan subscription summary: %w", err)
		}
		row.OverageRevenue = roundCost(float64(row.OverageRequests) * PlanFor(row.Tier).OverageRate)
		byTier[row.Tier] = row

		summary.ActiveSubscriptions += row.Subscriptions
		summary.MonthlyRevenue += row.MonthlyRevenue
		summary.OverageRevenue += row.OverageRevenue
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscription summary: %w", err)
	}

	// Report tiers in catalog order, including empty ones.
	for _, plan := range AllPlans() {
		row, ok := byTier[plan.Tier]
		if !ok {
			row = TierBreakdown{Tier: plan.Tier}
		}
		summary.ByTier = append(summary.ByTier, row)
	}

	since := time.Now().UTC().AddDate(0, 0, -30)
	err = d.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(cost), 0)
		FROM usage_entries
		WHERE timestamp >= $1`, since).
		Scan(&summary.RequestsLast30Days, &summary.UsageCostLast30Days)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage entries: %w", err)
	}

	summary.MonthlyRevenue = roundCost(summary.MonthlyRevenue)
	summary.OverageRevenue = roundCost(summary.OverageRevenue)
	summary.UsageCostLast30Days = roundCost(summary.UsageCostLast30Days)
	return summary, nil
}
