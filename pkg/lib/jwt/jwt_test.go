package jwt

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("server-side-secret"))
	require.NoError(t, err)
	return s
}

func TestCheckExpiry(t *testing.T) {
	now := time.Now()

	assert.NoError(t, CheckExpiry(signed(t, now.Add(time.Hour)), now))
	assert.ErrorIs(t, CheckExpiry(signed(t, now.Add(-time.Minute)), now), ErrExpiredToken)
	assert.NoError(t, CheckExpiry("opaque-device-token", now))
}

func TestExpiresAtRejectsOpaqueTokens(t *testing.T) {
	_, ok, err := ExpiresAt("a.b")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotJWT)
}

func TestExtractBearerFromHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	_, err := ExtractBearerFromHeader(r)
	assert.ErrorIs(t, err, ErrNoAccessToken)

	r.Header.Set("Authorization", "Basic abc")
	_, err = ExtractBearerFromHeader(r)
	assert.ErrorIs(t, err, ErrInvalidToken)

	r.Header.Set("Authorization", "Bearer key-1")
	token, err := ExtractBearerFromHeader(r)
	require.NoError(t, err)
	assert.Equal(t, "key-1", token)
}
