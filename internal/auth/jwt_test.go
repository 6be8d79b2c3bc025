package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/softwind-labs/companion/internal/config"
)

func TestJWTRoundTrip(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"

	token, err := GenerateJWT("sam")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	handle, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "sam", handle)
}

func TestJWTWrongSecret(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	token, err := GenerateJWT("sam")
	require.NoError(t, err)

	config.AppConfig.JWTSecret = "different-secret"
	_, err = ValidateJWT(token)
	assert.Error(t, err)
}

func TestJWTGarbage(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	_, err := ValidateJWT("not.a.token")
	assert.Error(t, err)
}

func TestJWTEmptySubject(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	token, err := GenerateJWT("")
	require.NoError(t, err)

	_, err = ValidateJWT(token)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, CheckPasswordHash("hunter2", hash))
	assert.False(t, CheckPasswordHash("hunter3", hash))
}
