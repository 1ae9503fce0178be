package jwt

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrNoAccessToken = errors.New("no access token")
	ErrNotJWT        = errors.New("token is not a JWT")
)

func ExtractBearerFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")

	if authHeader == "" {
		return "", ErrNoAccessToken
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ErrInvalidToken
	}

	return strings.TrimSpace(authHeader[7:]), nil
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
// The client never holds the signing key; it only needs to know whether the
// server will still accept the token.
func ExpiresAt(token string) (time.Time, bool, error) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false, ErrNotJWT
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false, ErrNotJWT
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}
	return claims.ExpiresAt.Time, true, nil
}

// CheckExpiry returns ErrExpiredToken for JWTs whose exp is in the past.
// Opaque (non-JWT) tokens are accepted as is.
func CheckExpiry(token string, now time.Time) error {
	exp, ok, err := ExpiresAt(token)
	if errors.Is(err, ErrNotJWT) || !ok {
		return nil
	}
	if !exp.After(now) {
		return ErrExpiredToken
	}
	return nil
}
