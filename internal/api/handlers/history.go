package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/auth"
	"github.com/visionclass/backend/internal/models"
	"github.com/visionclass/backend/internal/repository"
)

// HistoryHandler serves per-user classification history
type HistoryHandler struct {
	history *repository.HistoryRepository
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(history *repository.HistoryRepository) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// List handles GET /api/v1/history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	filter := models.HistoryFilter{
		UserID: userID,
		Model:  r.URL.Query().Get("model"),
		Limit:  50,
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
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}

	records, err := h.history.List(r.Context(), filter)
	if err != nil {
		log.Printf("[history] failed to list records for user %s: %v", userID, err)
		response.InternalError(w, "Failed to load history")
		return
	}

	total, err := h.history.Count(r.Context(), filter)
	if err != nil {
		log.Printf("[history] failed to count records for user %s: %v", userID, err)
		response.InternalError(w, "Failed to load history")
		return
	}

	response.SuccessWithPagination(w, records, &response.Pagination{
		Total:   int(total),
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		HasMore: int64(filter.Offset+len(records)) < total,
	}, nil)
}

// Stats handles GET /api/v1/history/stats
func (h *HistoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	stats, err := h.history.Stats(r.Context(), userID)
	if err != nil {
		log.Printf("[history] failed to aggregate stats for user %s: %v", userID, err)
		response.InternalError(w, "Failed to load history stats")
		return
	}

	response.Success(w, stats)
}

// Get handles GET /api/v1/history/{id}
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	rec, err := h.history.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			response.NotFound(w, "")
			return
		}
		response.InternalError(w, "Failed to load record")
		return
	}
	// History is private to its owner
	if rec.UserID != userID {
		response.NotFound(w, "")
		return
	}

	response.Success(w, rec)
}

// Delete handles DELETE /api/v1/history/{id}
func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	err := h.history.Delete(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			response.NotFound(w, "")
			return
		}
		response.InternalError(w, "Failed to delete record")
		return
	}

	response.NoContent(w)
}
