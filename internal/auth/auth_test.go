package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionclass/backend/internal/models"
)

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"valid", "Sup3rSecret", nil},
		{"too short", "Ab1", ErrPasswordTooShort},
		{"too long", strings.Repeat("Aa1", 30), ErrPasswordTooLong},
		{"no uppercase", "lowercase1", ErrPasswordNoUpper},
		{"no lowercase", "UPPERCASE1", ErrPasswordNoLower},
		{"no digit", "NoDigitsHere", ErrPasswordNoDigit},
		{"common password", "Password123", ErrPasswordCommon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePasswordStrength(tt.password)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret")
	require.NoError(t, err)

	assert.True(t, CheckPassword("Sup3rSecret", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	user := &models.User{ID: "user-1", Email: "dev@example.com", Tier: models.TierBasic}

	token, err := svc.Generate(user)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.Equal(t, models.TierBasic, claims.Tier)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Hour).Generate(&models.User{ID: "u"})
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTRejectsExpired(t *testing.T) {
	svc := NewJWTService("test-secret", -time.Minute)
	token, err := svc.Generate(&models.User{ID: "u"})
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTRefreshWithinGrace(t *testing.T) {
	expired := NewJWTService("test-secret", -time.Minute)
	token, err := expired.Generate(&models.User{ID: "user-1", Email: "dev@example.com"})
	require.NoError(t, err)

	fresh := NewJWTService("test-secret", time.Hour)
	refreshed, err := fresh.Refresh(token)
	require.NoError(t, err)

	claims, err := fresh.Validate(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestGenerateAPIKeyFormat(t *testing.T) {
	key, err := generateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, APIKeyPrefix))
	assert.Len(t, key, len(APIKeyPrefix)+APIKeyLength*2)

	other, err := generateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestHashAPIKeyDeterministic(t *testing.T) {
	assert.Equal(t, HashAPIKey("vc_live_abc"), HashAPIKey("vc_live_abc"))
	assert.NotEqual(t, HashAPIKey("vc_live_abc"), HashAPIKey("vc_live_abd"))
	assert.Len(t, HashAPIKey("anything"), 64)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "vc_live_ab...", MaskKey("vc_live_abcdef0123456789"))
	assert.Equal(t, "short", MaskKey("short"))
}
