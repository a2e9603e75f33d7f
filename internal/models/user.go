package models

import (
	"time"
)

// User represents a user in the system
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Tier         string    `json:"tier" db:"tier"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// APIKeyStatus values for APIKey.Status.
const (
	KeyStatusActive    = "active"
	KeyStatusSuspended = "suspended"
	KeyStatusRevoked   = "revoked"
)

// APIKey represents an API key for a user. The key itself is stored hashed;
// KeyPrefix keeps the first chars for display.
type APIKey struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	SubscriptionID string     `json:"subscription_id" db:"subscription_id"`
	KeyHash        string     `json:"-" db:"key_hash"`
	KeyPrefix      string     `json:"key_prefix" db:"key_prefix"`
	Name           string     `json:"name" db:"name"`
	Status         string     `json:"status" db:"status"`
	Permissions    []string   `json:"permissions" db:"permissions"`
	TotalRequests  int64      `json:"total_requests" db:"total_requests"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// IsActive reports whether the key may be used.
func (k *APIKey) IsActive() bool {
	return k.Status == KeyStatusActive
}

// UserTier constants
const (
	TierFree         = "free"
	TierBasic        = "basic"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
)

// IsValidTier checks if a tier is valid
func IsValidTier(tier string) bool {
	switch tier {
	case TierFree, TierBasic, TierProfessional, TierEnterprise:
		return true
	default:
		return false
	}
}

// TierHierarchy returns the hierarchy level of a tier (higher = more privileges)
func TierHierarchy(tier string) int {
	switch tier {
	case TierEnterprise:
		return 4
	case TierProfessional:
		return 3
	case TierBasic:
		return 2
	case TierFree:
		return 1
	default:
		return 0
	}
}
