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
	"github.com/visionclass/backend/internal/workspace"
)

// WorkspaceHandler serves team workspaces
type WorkspaceHandler struct {
	svc *workspace.Service
}

// NewWorkspaceHandler creates a new workspace handler
func NewWorkspaceHandler(svc *workspace.Service) *WorkspaceHandler {
	return &WorkspaceHandler{svc: svc}
}

// CreateWorkspaceRequest represents a workspace creation request
type CreateWorkspaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AddMemberRequest represents an add-member request
type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// CreateProjectRequest represents a project creation request
type CreateProjectRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	DefaultModel string `json:"default_model"`
}

// Create handles POST /api/v1/workspaces
func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	ws, err := h.svc.Create(r.Context(), userID, req.Name, req.Description)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	response.Created(w, ws)
}

// List handles GET /api/v1/workspaces
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "")
		return
	}

	workspaces, err := h.svc.ListForUser(r.Context(), userID)
	if err != nil {
		log.Printf("[workspace] list failed for user %s: %v", userID, err)
		response.InternalError(w, "Failed to list workspaces")
		return
	}

	response.Success(w, workspaces)
}

// Get handles GET /api/v1/workspaces/{id}
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	workspaceID := chi.URLParam(r, "id")

	if _, err := h.svc.MemberRole(r.Context(), workspaceID, userID); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	ws, err := h.svc.Get(r.Context(), workspaceID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	response.Success(w, ws)
}

// AddMember handles POST /api/v1/workspaces/{id}/members
func (h *WorkspaceHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	workspaceID := chi.URLParam(r, "id")

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.UserID == "" {
		response.BadRequest(w, "user_id is required")
		return
	}

	if err := h.svc.AddMember(r.Context(), workspaceID, userID, req.UserID, req.Role); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	response.NoContent(w)
}

// RemoveMember handles DELETE /api/v1/workspaces/{id}/members/{userID}
func (h *WorkspaceHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	workspaceID := chi.URLParam(r, "id")
	target := chi.URLParam(r, "userID")

	if err := h.svc.RemoveMember(r.Context(), workspaceID, userID, target); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	response.NoContent(w)
}

// ListMembers handles GET /api/v1/workspaces/{id}/members
func (h *WorkspaceHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	workspaceID := chi.URLParam(r, "id")

	members, err := h.svc.ListMembers(r.Context(), workspaceID, userID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	response.Success(w, members)
}

// CreateProject handles POST /api/v1/workspaces/{id}/projects
func (h *WorkspaceHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	workspaceID := chi.URLParam(r, "id")

	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	project, err := h.svc.CreateProject(r.Context(), workspaceID, userID, req.Name, req.Description, req.DefaultModel)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	response.Created(w, project)
}

// ListProjects handles GET /api/v1/workspaces/{id}/projects
func (h *WorkspaceHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	workspaceID := chi.URLParam(r, "id")

	projects, err := h.svc.ListProjects(r.Context(), workspaceID, userID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	response.Success(w, projects)
}

// Activity handles GET /api/v1/workspaces/{id}/activity
func (h *WorkspaceHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	workspaceID := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	feed, err := h.svc.RecentActivity(r.Context(), workspaceID, userID, limit)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	response.Success(w, feed)
}

func writeWorkspaceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrWorkspaceNotFound), errors.Is(err, workspace.ErrNotMember):
		// Memberships are not disclosed to non-members
		response.NotFound(w, "")
	case errors.Is(err, workspace.ErrInsufficientRole):
		response.Forbidden(w, "Your role does not permit this action")
	case errors.Is(err, workspace.ErrAlreadyMember):
		response.Conflict(w, "User is already a member")
	case errors.Is(err, workspace.ErrInvalidRole):
		response.BadRequest(w, "Invalid role")
	default:
		log.Printf("[workspace] request failed: %v", err)
		response.InternalError(w, "")
	}
}
