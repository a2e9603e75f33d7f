package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/visionclass/backend/internal/models"
)

// ServiceUsage aggregates ledger entries for one service type.
type ServiceUsage struct {
	ServiceType string  `json:"service_type"`
	Requests    int64   `json:"requests"`
	Cost        float64 `json:"cost"`
}

// DailyUsage aggregates ledger entries for one calendar day (UTC).
type DailyUsage struct {
	Date     string  `json:"date"`
	Requests int64   `json:"requests"`
	Cost     float64 `json:"cost"`
}

// UsageSummary is the analytics view over a window of ledger entries.
type UsageSummary struct {
	PeriodDays        int            `json:"period_days"`
	TotalRequests     int64          `json:"total_requests"`
	SuccessfulCount   int64          `json:"successful_count"`
	SuccessRate       float64        `json:"success_rate"`
	TotalCost         float64        `json:"total_cost"`
	AvgProcessingTime float64        `json:"avg_processing_time"`
	ByService         []ServiceUsage `json:"by_service"`
	Daily             []DailyUsage   `json:"daily"`
}

// Analytics computes usage summaries from the ledger.
type Analytics struct {
	usage UsageStore
}

func NewAnalytics(usage UsageStore) *Analytics {
	return &Analytics{usage: usage}
}

// Summarize aggregates the last periodDays of entries for a user.
func (a *Analytics) Summarize(ctx context.Context, userID string, periodDays int) (*UsageSummary, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -periodDays)
	entries, err := a.usage.ListByUser(ctx, userID, since, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage entries: %w", err)
	}
	return summarize(entries, periodDays), nil
}

func summarize(entries []models.UsageEntry, periodDays int) *UsageSummary {
	s := &UsageSummary{PeriodDays: periodDays}

	byService := make(map[string]*ServiceUsage)
	byDay := make(map[string]*DailyUsage)
	var totalTime float64

	for _, e := range entries {
		s.TotalRequests++
		if e.Success {
			s.SuccessfulCount++
		}
		s.TotalCost += e.Cost
		totalTime += e.ProcessingTime.Seconds()

		svc, ok := byService[e.ServiceType]
		if !ok {
			svc = &ServiceUsage{ServiceType: e.ServiceType}
			byService[e.ServiceType] = svc
		}
		svc.Requests++
		svc.Cost += e.Cost

		day := e.Timestamp.UTC().Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &DailyUsage{Date: day}
			byDay[day] = d
		}
		d.Requests++
		d.Cost += e.Cost
	}

	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.SuccessfulCount) / float64(s.TotalRequests)
		s.AvgProcessingTime = totalTime / float64(s.TotalRequests)
	}
	s.TotalCost = roundCost(s.TotalCost)

	for _, svc := range byService {
		svc.Cost = roundCost(svc.Cost)
		s.ByService = append(s.ByService, *svc)
	}
	sort.Slice(s.ByService, func(i, j int) bool {
		return s.ByService[i].Requests > s.ByService[j].Requests
	})

	for _, d := range byDay {
		d.Cost = roundCost(d.Cost)
		s.Daily = append(s.Daily, *d)
	}
	sort.Slice(s.Daily, func(i, j int) bool {
		return s.Daily[i].Date < s.Daily[j].Date
	})

	return s
}
