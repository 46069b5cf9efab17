package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labpower/models"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	user := &models.User{UserID: "user-jane", Name: "jane", Role: models.RoleEngineer}

	token, err := m.GenerateToken(user)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-jane", claims.UserID)
	assert.Equal(t, models.RoleEngineer, claims.Role)
	assert.Equal(t, "jane", claims.Subject)
	assert.Equal(t, "labpower-api", claims.Issuer)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	other := NewJWTManager("other-secret", time.Hour, 24*time.Hour)
	user := &models.User{UserID: "user-jane", Name: "jane", Role: models.RoleEngineer}

	token, err := m.GenerateToken(user)
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute, 24*time.Hour)
	user := &models.User{UserID: "user-jane", Name: "jane", Role: models.RoleEngineer}

	token, err := m.GenerateToken(user)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	require.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	token, err := ExtractToken("Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	_, err = ExtractToken("")
	require.Error(t, err)

	_, err = ExtractToken("Token abc123")
	require.Error(t, err)
}
