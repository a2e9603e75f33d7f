package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/auth"
	"github.com/visionclass/backend/internal/billing"
	"github.com/visionclass/backend/internal/models"
)

// BillingHandler serves plans, subscriptions and usage analytics
type BillingHandler struct {
	subs        billing.SubscriptionStore
	analytics   *billing.Analytics
	dashboard   *billing.Dashboard
	adminEmails map[string]bool
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(subs billing.SubscriptionStore, analytics *billing.Analytics, dashboard *billing.Dashboard, adminEmails []string) *BillingHandler {
	admins := make(map[string]bool, len(adminEmails))
	for _, email := range adminEmails {
		admins[strings.ToLower(email)] = true
	}
	return &BillingHandler{
		subs:        subs,
		analytics:   analytics,
		dashboard:   dashboard,
		adminEmails: admins,
	}
}

// ChangeTierRequest represents a tier change request
type ChangeTierRequest struct {
	Tier string `json:"tier"`
}

// SubscriptionResponse augments the stored subscription with derived fields
type SubscriptionResponse struct {
	*models.Subscription
	RemainingRequests int64   `json:"remaining_requests"`
	OverageRequests   int64   `json:"overage_requests"`
	EstimatedBill     float64 `json:"estimated_bill"`
}

func toSubscriptionResponse(sub *models.Subscription) *SubscriptionResponse {
	return &SubscriptionResponse{
		Subscription:      sub,
		RemainingRequests: sub.RemainingRequests(),
		OverageRequests:   sub.OverageRequests(),
		EstimatedBill:     billing.EstimateMonthly(sub),
	}
}

// ListPlans handles GET /api/v1/billing/plans
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	response.Success(w, billing.AllPlans())
}

// ListServicePricing handles GET /api/v1/billing/pricing
func (h *BillingHandler) ListServicePricing(w http.ResponseWriter, r *http.Request) {
	response.Success(w, billing.AllServicePricing())
}

// GetSubscription handles GET /api/v1/billing/subscription
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	sub, err := h.subs.GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			response.NotFound(w, "No active subscription")
			return
		}
		response.InternalError(w, "Failed to load subscription")
		return
	}

	response.Success(w, toSubscriptionResponse(sub))
}

// ChangeTier handles PUT /api/v1/billing/subscription
func (h *BillingHandler) ChangeTier(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	var req ChangeTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if !models.IsValidTier(req.Tier) {
		response.BadRequest(w, "Unknown tier")
		return
	}

	sub, err := h.subs.GetByUserID(r.Context(), userID)
	if err != nil {
		response.NotFound(w, "No active subscription")
		return
	}

	updated, err := h.subs.ChangeTier(r.Context(), sub.ID, req.Tier)
	if err != nil {
		log.Printf("[billing] failed to change tier for user %s: %v", userID, err)
		response.InternalError(w, "Failed to change tier")
		return
	}

	response.Success(w, toSubscriptionResponse(updated))
}

// CancelSubscription handles DELETE /api/v1/billing/subscription
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	sub, err := h.subs.GetByUserID(r.Context(), userID)
	if err != nil {
		response.NotFound(w, "No active subscription")
		return
	}

	if err := h.subs.Cancel(r.Context(), sub.ID); err != nil {
		response.InternalError(w, "Failed to cancel subscription")
		return
	}

	response.NoContent(w)
}

// Dashboard handles GET /api/v1/billing/dashboard. Restricted to the
// operator allowlist; everyone else gets 403.
func (h *BillingHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		response.Unauthorized(w, "")
		return
	}
	if !h.adminEmails[strings.ToLower(user.Email)] {
		response.Forbidden(w, "Dashboard access is restricted to operators")
		return
	}

	summary, err := h.dashboard.Summarize(r.Context())
	if err != nil {
		log.Printf("[billing] failed to build dashboard: %v", err)
		response.InternalError(w, "Failed to build dashboard")
		return
	}

	response.Success(w, summary)
}

// GetUsage handles GET /api/v1/billing/usage
func (h *BillingHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	periodDays := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			response.BadRequest(w, "days must be between 1 and 365")
			return
		}
		periodDays = n
	}

	summary, err := h.analytics.Summarize(r.Context(), userID, periodDays)
	if err != nil {
		log.Printf("[billing] failed to summarize usage for user %s: %v", userID, err)
		response.InternalError(w, "Failed to load usage")
		return
	}

	response.Success(w, summary)
}
