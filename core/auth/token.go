package auth

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultCookieName is the cookie carrying an admin session token.
const DefaultCookieName = "auth_token"

var (
	ErrEmptyAuthHeader   = errors.New("authorization header is empty")
	ErrInvalidAuthHeader = errors.New("invalid authorization header format")
	ErrNoToken           = errors.New("no authentication token found in header or cookie")
)

// BearerToken extracts the token from an "Authorization: Bearer {token}" value.
func BearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrEmptyAuthHeader
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", ErrInvalidAuthHeader
	}
	return token, nil
}

// TokenFromRequest returns the bearer token of r, falling back to the named
// cookie for browser sessions.
func TokenFromRequest(r *http.Request, cookieName string) (string, error) {
	if token, err := BearerToken(r.Header.Get("Authorization")); err == nil {
		return token, nil
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", ErrNoToken
}
