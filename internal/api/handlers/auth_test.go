package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionclass/backend/internal/auth"
	"github.com/visionclass/backend/internal/billing"
	"github.com/visionclass/backend/internal/models"
	"github.com/visionclass/backend/internal/repository"
)

// memUserStore is an in-memory UserStore keyed by email.
type memUserStore struct {
	users map[string]*models.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*models.User)}
}

func (s *memUserStore) Create(ctx context.Context, email, passwordHash, tier string) (*models.User, error) {
	if _, ok := s.users[email]; ok {
		return nil, repository.ErrDuplicateUser
	}
	u := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		Tier:         tier,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[email] = u
	return u, nil
}

func (s *memUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func newTestAuthHandler(t *testing.T) (*AuthHandler, *memUserStore) {
	t.Helper()
	users := newMemUserStore()
	jwtService := auth.NewJWTService("test-secret", time.Hour)
	return NewAuthHandler(users, jwtService, nil, billing.NewMemorySubscriptionStore()), users
}

func seedUser(t *testing.T, users *memUserStore, email, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	_, err = users.Create(context.Background(), email, hash, models.TierFree)
	require.NoError(t, err)
}

func postJSON(t *testing.T, handler http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestLoginSucceedsWithCorrectPassword(t *testing.T) {
	h, users := newTestAuthHandler(t)
	seedUser(t, users, "alice@example.com", "Sup3rSecret")

	rec := postJSON(t, h.Login, "/api/v1/auth/login",
		`{"email": "Alice@Example.com", "password": "Sup3rSecret"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data AuthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.NotEmpty(t, envelope.Data.Token)
	assert.Equal(t, "alice@example.com", envelope.Data.User.Email)
	assert.Positive(t, envelope.Data.ExpiresIn)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h, users := newTestAuthHandler(t)
	seedUser(t, users, "alice@example.com", "Sup3rSecret")

	rec := postJSON(t, h.Login, "/api/v1/auth/login",
		`{"email": "alice@example.com", "password": "wrong-password"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	h, _ := newTestAuthHandler(t)

	rec := postJSON(t, h.Login, "/api/v1/auth/login",
		`{"email": "nobody@example.com", "password": "Sup3rSecret"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterThenLogin(t *testing.T) {
	h, _ := newTestAuthHandler(t)

	rec := postJSON(t, h.Register, "/api/v1/auth/register",
		`{"email": "bob@example.com", "password": "Another1Secret"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h.Login, "/api/v1/auth/login",
		`{"email": "bob@example.com", "password": "Another1Secret"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	h, users := newTestAuthHandler(t)
	seedUser(t, users, "alice@example.com", "Sup3rSecret")

	rec := postJSON(t, h.Register, "/api/v1/auth/register",
		`{"email": "alice@example.com", "password": "Another1Secret"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
