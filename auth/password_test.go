package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", hash)

	require.NoError(t, CheckPassword("secret123", hash))
	require.Error(t, CheckPassword("wrong-password", hash))
}

func TestHashPasswordTooShort(t *testing.T) {
	_, err := HashPassword("short")
	require.Error(t, err)
}

func TestValidatePasswordStrength(t *testing.T) {
	assert.NoError(t, ValidatePasswordStrength("secret123"))
	assert.Error(t, ValidatePasswordStrength("short1"), "too short")
	assert.Error(t, ValidatePasswordStrength("lettersonly"), "no number")
	assert.Error(t, ValidatePasswordStrength("12345678"), "no letter")
}
