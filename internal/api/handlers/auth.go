package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visionclass/backend/internal/api/response"
	"github.com/visionclass/backend/internal/auth"
	"github.com/visionclass/backend/internal/billing"
	"github.com/visionclass/backend/internal/models"
	"github.com/visionclass/backend/internal/repository"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// UserStore is what the auth endpoints need from user persistence.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash, tier string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	userRepo      UserStore
	jwtService    *auth.JWTService
	apiKeyService *auth.APIKeyService
	subs          billing.SubscriptionStore
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	userRepo UserStore,
	jwtService *auth.JWTService,
	apiKeyService *auth.APIKeyService,
	subs billing.SubscriptionStore,
) *AuthHandler {
	return &AuthHandler{
		userRepo:      userRepo,
		jwtService:    jwtService,
		apiKeyService: apiKeyService,
		subs:          subs,
	}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	Token string `json:"token"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	Token     string        `json:"token"`
	ExpiresIn int64         `json:"expires_in"`
	User      *UserResponse `json:"user"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// APIKeyResponse represents an API key in API responses
type APIKeyResponse struct {
	ID        string     `json:"id"`
	KeyPrefix string     `json:"key_prefix"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateAPIKeyResponse includes the full key (only shown once)
type CreateAPIKeyResponse struct {
	Key     string          `json:"key"` // Full key, only shown once
	KeyInfo *APIKeyResponse `json:"key_info"`
}

func toUserResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Tier:      user.Tier,
		CreatedAt: user.CreatedAt,
	}
}

func toAPIKeyResponse(key *models.APIKey) *APIKeyResponse {
	return &APIKeyResponse{
		ID:        key.ID,
		KeyPrefix: key.KeyPrefix,
		Name:      key.Name,
		Status:    key.Status,
		LastUsed:  key.LastUsedAt,
		CreatedAt: key.CreatedAt,
	}
}

// Register handles user registration
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !emailPattern.MatchString(email) {
		response.BadRequest(w, "Invalid email address")
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		response.InternalError(w, "Failed to process registration")
		return
	}

	user, err := h.userRepo.Create(r.Context(), email, passwordHash, models.TierFree)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			response.Conflict(w, "An account with this email already exists")
			return
		}
		log.Printf("[auth] failed to create user: %v", err)
		response.InternalError(w, "Failed to create account")
		return
	}

	// New accounts start on the free plan.
	if _, err := h.subs.Create(r.Context(), user.ID, models.TierFree); err != nil {
		log.Printf("[auth] failed to create subscription for user %s: %v", user.ID, err)
	}

	token, err := h.jwtService.Generate(user)
	if err != nil {
		response.InternalError(w, "Failed to issue token")
		return
	}

	response.Created(w, AuthResponse{
		Token:     token,
		ExpiresIn: int64(h.jwtService.GetExpiration().Seconds()),
		User:      toUserResponse(user),
	})
}

// Login handles user login
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.userRepo.GetByEmail(r.Context(), email)
	if err != nil {
		// Same response for unknown email and bad password
		response.Unauthorized(w, "Invalid email or password")
		return
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		response.Unauthorized(w, "Invalid email or password")
		return
	}

	token, err := h.jwtService.Generate(user)
	if err != nil {
		response.InternalError(w, "Failed to issue token")
		return
	}

	response.Success(w, AuthResponse{
		Token:     token,
		ExpiresIn: int64(h.jwtService.GetExpiration().Seconds()),
		User:      toUserResponse(user),
	})
}

// RefreshToken handles token refresh
// POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	token, err := h.jwtService.Refresh(req.Token)
	if err != nil {
		response.Unauthorized(w, "Token cannot be refreshed")
		return
	}

	response.Success(w, map[string]interface{}{
		"token":      token,
		"expires_in": int64(h.jwtService.GetExpiration().Seconds()),
	})
}

// GetCurrentUser handles GET /api/v1/user/me
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		response.Unauthorized(w, "")
		return
	}
	response.Success(w, toUserResponse(user))
}

// CreateAPIKey handles POST /api/v1/user/api-keys
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		response.Unauthorized(w, "")
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		response.BadRequest(w, "Key name is required")
		return
	}

	sub, err := h.subs.GetByUserID(r.Context(), user.ID)
	if err != nil {
		response.Forbidden(w, "An active subscription is required to create API keys")
		return
	}

	generated, err := h.apiKeyService.Generate(r.Context(), user.ID, sub.ID, strings.TrimSpace(req.Name))
	if err != nil {
		log.Printf("[auth] failed to generate api key for user %s: %v", user.ID, err)
		response.InternalError(w, "Failed to create API key")
		return
	}

	response.Created(w, CreateAPIKeyResponse{
		Key:     generated.PlainTextKey,
		KeyInfo: toAPIKeyResponse(generated.KeyInfo),
	})
}

// ListAPIKeys handles GET /api/v1/user/api-keys
func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		response.Unauthorized(w, "")
		return
	}

	keys, err := h.apiKeyService.List(r.Context(), user.ID)
	if err != nil {
		log.Printf("[auth] failed to list api keys for user %s: %v", user.ID, err)
		response.InternalError(w, "Failed to list API keys")
		return
	}

	out := make([]*APIKeyResponse, 0, len(keys))
	for i := range keys {
		out = append(out, toAPIKeyResponse(&keys[i]))
	}
	response.Success(w, out)
}

// RevokeAPIKey handles DELETE /api/v1/user/api-keys/{keyID}
func (h *AuthHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		response.Unauthorized(w, "")
		return
	}

	keyID := chi.URLParam(r, "keyID")
	if err := h.apiKeyService.Revoke(r.Context(), keyID, user.ID); err != nil {
		if errors.Is(err, auth.ErrAPIKeyNotFound) {
			response.NotFound(w, "API key not found")
			return
		}
		response.InternalError(w, "Failed to revoke API key")
		return
	}

	response.NoContent(w)
}
