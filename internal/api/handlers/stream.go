package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/auth"
	"github.com/visionclass/backend/internal/billing"
	"github.com/visionclass/backend/internal/models"
	"github.com/visionclass/backend/internal/stream"
)

// StreamHandler upgrades clients to real-time classification streams
type StreamHandler struct {
	manager *stream.Manager
	subs    billing.SubscriptionStore
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(manager *stream.Manager, subs billing.SubscriptionStore) *StreamHandler {
	return &StreamHandler{manager: manager, subs: subs}
}

// Connect handles GET /api/v1/stream
func (h *StreamHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	// Frames are billed against the caller's subscription, so a session
	// cannot start without one.
	sub, err := h.subs.GetByUserID(r.Context(), userID)
	if err != nil {
		response.Forbidden(w, "An active subscription is required for streaming")
		return
	}
	if sub.Status != models.BillingActive {
		response.Forbidden(w, "Subscription is not active")
		return
	}

	bill := stream.BillingInfo{
		SubscriptionID: sub.ID,
		Tier:           sub.Tier,
		MaskedKey:      "jwt",
	}
	if key := auth.GetAPIKey(r.Context()); key != nil {
		bill.MaskedKey = key.KeyPrefix + "..."
	}

	model := r.URL.Query().Get("model")

	err = h.manager.Serve(w, r, userID, model, bill)
	if err != nil {
		if errors.Is(err, stream.ErrTooManyStreams) {
			response.TooManyRequests(w, "Stream limit reached; close an existing stream first")
			return
		}
		// The connection may already be hijacked at this point, so only log.
		log.Printf("[stream] session for user %s ended with error: %v", userID, err)
	}
}
