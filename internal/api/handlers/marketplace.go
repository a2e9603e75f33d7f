package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/auth"
	"github.com/visionclass/backend/internal/marketplace"
)

// MarketplaceHandler serves the custom model marketplace
type MarketplaceHandler struct {
	registry *marketplace.Registry
}

// NewMarketplaceHandler creates a new marketplace handler
func NewMarketplaceHandler(registry *marketplace.Registry) *MarketplaceHandler {
	return &MarketplaceHandler{registry: registry}
}

// PublishModelRequest represents a model publish request
type PublishModelRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Framework   string   `json:"framework"`
	Version     string   `json:"version"`
	Accuracy    float64  `json:"accuracy"`
	Labels      []string `json:"labels"`
	Public      bool     `json:"public"`
}

// Publish handles POST /api/v1/marketplace/models
func (h *MarketplaceHandler) Publish(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	var req PublishModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	model := &marketplace.CustomModel{
		OwnerID:     userID,
		Name:        req.Name,
		Description: req.Description,
		Framework:   req.Framework,
		Version:     req.Version,
		Accuracy:    req.Accuracy,
		Labels:      req.Labels,
		Public:      req.Public,
	}
	if err := h.registry.Publish(r.Context(), model); err != nil {
		switch {
		case errors.Is(err, marketplace.ErrInvalidModel):
			response.BadRequest(w, err.Error())
		case errors.Is(err, marketplace.ErrDuplicateModel):
			response.Conflict(w, err.Error())
		default:
			log.Printf("[marketplace] publish failed for user %s: %v", userID, err)
			response.InternalError(w, "Failed to publish model")
		}
		return
	}

	response.Created(w, model)
}

// List handles GET /api/v1/marketplace/models
func (h *MarketplaceHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := marketplace.ListFilter{
		OwnerID:   auth.GetUserID(r.Context()),
		Framework: r.URL.Query().Get("framework"),
		Query:     r.URL.Query().Get("q"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	listed, err := h.registry.List(r.Context(), filter)
	if err != nil {
		log.Printf("[marketplace] list failed: %v", err)
		response.InternalError(w, "Failed to list models")
		return
	}

	response.Success(w, listed)
}

// Get handles GET /api/v1/marketplace/models/{id}
func (h *MarketplaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	model, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, marketplace.ErrModelNotFound) {
			response.NotFound(w, "")
			return
		}
		response.InternalError(w, "Failed to load model")
		return
	}

	// Private listings are visible only to their owner
	if !model.Public && model.OwnerID != auth.GetUserID(r.Context()) {
		response.NotFound(w, "")
		return
	}

	response.Success(w, model)
}

// Download handles POST /api/v1/marketplace/models/{id}/download
func (h *MarketplaceHandler) Download(w http.ResponseWriter, r *http.Request) {
	path, err := h.registry.RecordDownload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, marketplace.ErrModelNotFound) {
			response.NotFound(w, "")
			return
		}
		response.InternalError(w, "Failed to prepare download")
		return
	}

	response.Success(w, map[string]string{
		"download_path": path,
	})
}

// Delete handles DELETE /api/v1/marketplace/models/{id}
func (h *MarketplaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	err := h.registry.Delete(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, marketplace.ErrModelNotFound):
			response.NotFound(w, "")
		case errors.Is(err, marketplace.ErrNotModelOwner):
			response.Forbidden(w, "Only the owner can delete a model")
		default:
			response.InternalError(w, "Failed to delete model")
		}
		return
	}

	response.NoContent(w)
}

// Stats handles GET /api/v1/marketplace/stats
func (h *MarketplaceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		log.Printf("[marketplace] stats failed: %v", err)
		response.InternalError(w, "Failed to load stats")
		return
	}
	response.Success(w, stats)
}
