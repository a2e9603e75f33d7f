package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/visionclass/backend/internal/database"
	"github.com/visionclass/backend/internal/models"
)

const (
	// APIKeyPrefix is the prefix for all API keys
	APIKeyPrefix = "vc_live_"
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32
	// maskedKeyPrefixLen is how many characters of the plain key survive in
	// display prefixes and usage-log masking
	maskedKeyPrefixLen = 10
)

var (
	// ErrAPIKeyNotFound is returned when an API key is not found
	ErrAPIKeyNotFound = errors.New("api key not found")
	// ErrAPIKeyRevoked is returned when an API key has been revoked
	ErrAPIKeyRevoked = errors.New("api key has been revoked")
	// ErrAPIKeySuspended is returned when an API key is suspended
	ErrAPIKeySuspended = errors.New("api key is suspended")
	// ErrAPIKeyInvalid is returned when an API key format is invalid
	ErrAPIKeyInvalid = errors.New("invalid api key format")
)

// DefaultPermissions granted to newly generated keys.
var DefaultPermissions = []string{"classification", "multimodal", "realtime"}

// APIKeyService handles API key operations
type APIKeyService struct {
	db *database.DB
}

// NewAPIKeyService creates a new API key service
func NewAPIKeyService(db *database.DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// GeneratedKey contains both the plain text key (shown once) and the stored key info
type GeneratedKey struct {
	PlainTextKey string         `json:"key"`      // Only shown once at creation
	KeyInfo      *models.APIKey `json:"key_info"` // Stored information
}

// Generate creates a new API key bound to a user's subscription
func (s *APIKeyService) Generate(ctx context.Context, userID, subscriptionID, name string) (*GeneratedKey, error) {
	plainKey, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	if name == "" {
		name = "API Key " + time.Now().UTC().Format("2006-01-02")
	}

	apiKey := &models.APIKey{
		ID:             uuid.New().String(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		KeyHash:        HashAPIKey(plainKey),
		KeyPrefix:      plainKey[:len(APIKeyPrefix)+maskedKeyPrefixLen],
		Name:           name,
		Status:         models.KeyStatusActive,
		Permissions:    DefaultPermissions,
		CreatedAt:      time.Now(),
	}

	query := `
		INSERT INTO api_keys (id, user_id, subscription_id, key_hash, key_prefix, name, status, permissions, total_requests, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
	`
	_, err = s.db.Exec(ctx, query,
		apiKey.ID, apiKey.UserID, apiKey.SubscriptionID, apiKey.KeyHash,
		apiKey.KeyPrefix, apiKey.Name, apiKey.Status, apiKey.Permissions, apiKey.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}

	return &GeneratedKey{
		PlainTextKey: plainKey,
		KeyInfo:      apiKey,
	}, nil
}

// Validate checks a plain-text API key and returns the stored record.
// Status is checked here so callers only ever see active keys.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	if len(key) < len(APIKeyPrefix) || key[:len(APIKeyPrefix)] != APIKeyPrefix {
		return nil, ErrAPIKeyInvalid
	}

	keyHash := HashAPIKey(key)

	query := `
		SELECT id, user_id, subscription_id, key_hash, key_prefix, name, status, permissions, total_requests, last_used_at, created_at
		FROM api_keys
		WHERE key_hash = $1
	`
	var record models.APIKey
	err := s.db.QueryRow(ctx, query, keyHash).Scan(
		&record.ID, &record.UserID, &record.SubscriptionID, &record.KeyHash,
		&record.KeyPrefix, &record.Name, &record.Status, &record.Permissions,
		&record.TotalRequests, &record.LastUsedAt, &record.CreatedAt,
	)
	if err != nil {
		return nil, ErrAPIKeyNotFound
	}

	switch record.Status {
	case models.KeyStatusActive:
	case models.KeyStatusSuspended:
		return nil, ErrAPIKeySuspended
	default:
		return nil, ErrAPIKeyRevoked
	}

	return &record, nil
}

// Touch updates last-used bookkeeping for a key. Best-effort; callers ignore
// the error.
func (s *APIKeyService) Touch(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET last_used_at = $1, total_requests = total_requests + 1 WHERE id = $2`
	_, err := s.db.Exec(ctx, query, time.Now(), keyID)
	return err
}

// Revoke revokes an API key
func (s *APIKeyService) Revoke(ctx context.Context, keyID string, userID string) error {
	query := `UPDATE api_keys SET status = $1 WHERE id = $2 AND user_id = $3`
	rowsAffected, err := s.db.Exec(ctx, query, models.KeyStatusRevoked, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	if rowsAffected == 0 {
		return ErrAPIKeyNotFound
	}

	return nil
}

// List returns all API keys for a user (without the actual key values)
func (s *APIKeyService) List(ctx context.Context, userID string) ([]models.APIKey, error) {
	query := `
		SELECT id, user_id, subscription_id, key_prefix, name, status, permissions, total_requests, last_used_at, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var key models.APIKey
		err := rows.Scan(&key.ID, &key.UserID, &key.SubscriptionID, &key.KeyPrefix,
			&key.Name, &key.Status, &key.Permissions, &key.TotalRequests,
			&key.LastUsedAt, &key.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api keys: %w", err)
	}

	return keys, nil
}

// MaskKey masks a plain-text key for usage logs: first chars plus an ellipsis.
func MaskKey(key string) string {
	if len(key) <= maskedKeyPrefixLen {
		return key
	}
	return key[:maskedKeyPrefixLen] + "..."
}

// generateAPIKey generates a secure random API key
func generateAPIKey() (string, error) {
	bytes := make([]byte, APIKeyLength)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(bytes), nil
}

// HashAPIKey creates a SHA-256 hash of an API key
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
