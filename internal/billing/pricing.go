// Package billing owns subscription plans, service pricing, usage metering,
// and the usage ledger.
package billing

import (
	"math"

	"github.com/visionclass/backend/internal/models"
	"github.com/visionclass/backend/internal/ratelimit"
)

// Plan describes what one subscription tier buys per month.
type Plan struct {
	Tier             string  `json:"tier"`
	MonthlyCost      float64 `json:"monthly_cost"`
	IncludedRequests int64   `json:"included_requests"`
	PerMinuteLimit   int     `json:"per_minute_limit"`
	PerHourLimit     int     `json:"per_hour_limit"`
	OverageRate      float64 `json:"overage_rate"`
}

// ServicePricing is the base cost and complexity weight for one billable
// service type.
type ServicePricing struct {
	ServiceType string  `json:"service_type"`
	BaseCost    float64 `json:"base_cost"`
	Complexity  float64 `json:"complexity"`
}

// Billable service types.
const (
	ServiceImageClassification  = "image_classification"
	ServiceVideoClassification  = "video_classification"
	ServiceAudioClassification  = "audio_classification"
	ServiceBatchProcessing      = "batch_processing"
	ServiceRealTimeStreaming    = "real_time_streaming"
	ServiceCustomModelInference = "custom_model_inference"
)

// Cost multipliers applied on top of base*complexity.
const (
	slowRequestThresholdSec = 5.0
	slowRequestMultiplier   = 1.5
	largeRequestBytes       = 1024 * 1024
	largeRequestMultiplier  = 1.2
)

var plans = map[string]Plan{
	models.TierFree: {
		Tier:             models.TierFree,
		MonthlyCost:      0,
		IncludedRequests: 1000,
		PerMinuteLimit:   10,
		PerHourLimit:     100,
		OverageRate:      0.01,
	},
	models.TierBasic: {
		Tier:             models.TierBasic,
		MonthlyCost:      29.99,
		IncludedRequests: 10000,
		PerMinuteLimit:   60,
		PerHourLimit:     1000,
		OverageRate:      0.005,
	},
	models.TierProfessional: {
		Tier:             models.TierProfessional,
		MonthlyCost:      99.99,
		IncludedRequests: 100000,
		PerMinuteLimit:   300,
		PerHourLimit:     5000,
		OverageRate:      0.002,
	},
	models.TierEnterprise: {
		Tier:             models.TierEnterprise,
		MonthlyCost:      299.99,
		IncludedRequests: 500000,
		PerMinuteLimit:   1000,
		PerHourLimit:     20000,
		OverageRate:      0.001,
	},
}

var servicePricing = map[string]ServicePricing{
	ServiceImageClassification:  {ServiceImageClassification, 1, 1.0},
	ServiceVideoClassification:  {ServiceVideoClassification, 3, 1.5},
	ServiceAudioClassification:  {ServiceAudioClassification, 2, 1.2},
	ServiceBatchProcessing:      {ServiceBatchProcessing, 1, 0.8},
	ServiceRealTimeStreaming:    {ServiceRealTimeStreaming, 5, 2.0},
	ServiceCustomModelInference: {ServiceCustomModelInference, 2, 1.3},
}

// PlanFor returns the plan for a tier, defaulting to free when the tier is
// unknown.
func PlanFor(tier string) Plan {
	if p, ok := plans[tier]; ok {
		return p
	}
	return plans[models.TierFree]
}

// AllPlans returns every plan in ascending price order.
func AllPlans() []Plan {
	return []Plan{
		plans[models.TierFree],
		plans[models.TierBasic],
		plans[models.TierProfessional],
		plans[models.TierEnterprise],
	}
}

// PricingFor returns the pricing row for a service type, defaulting to image
// classification when the service is unknown.
func PricingFor(serviceType string) ServicePricing {
	if p, ok := servicePricing[serviceType]; ok {
		return p
	}
	return servicePricing[ServiceImageClassification]
}

// AllServicePricing returns the full pricing catalog.
func AllServicePricing() []ServicePricing {
	return []ServicePricing{
		servicePricing[ServiceImageClassification],
		servicePricing[ServiceVideoClassification],
		servicePricing[ServiceAudioClassification],
		servicePricing[ServiceBatchProcessing],
		servicePricing[ServiceRealTimeStreaming],
		servicePricing[ServiceCustomModelInference],
	}
}

// LimitsFor exposes a tier's rate-limit caps in the limiter's terms.
func LimitsFor(tier string) ratelimit.Limits {
	p := PlanFor(tier)
	return ratelimit.Limits{PerMinute: p.PerMinuteLimit, PerHour: p.PerHourLimit}
}

// CalculateCost prices one request. Requests that run longer than five
// seconds cost 1.5x, and payloads over one megabyte add a further 1.2x.
// Multipliers compound.
func CalculateCost(serviceType string, processingTimeSec float64, requestSizeBytes int64) float64 {
	p := PricingFor(serviceType)
	cost := p.BaseCost * p.Complexity
	if processingTimeSec > slowRequestThresholdSec {
		cost *= slowRequestMultiplier
	}
	if requestSizeBytes > largeRequestBytes {
		cost *= largeRequestMultiplier
	}
	return roundCost(cost)
}

// roundCost keeps stored costs at a stable 1/10000 precision.
func roundCost(c float64) float64 {
	return math.Round(c*10000) / 10000
}
