// Package auth resolves and verifies caller identity from request
// headers. Verification is pluggable: a JWKS-backed verifier for real
// identity providers, an HMAC verifier for static shared secrets.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified caller.
type Identity struct {
	UID    string         `json:"uid"`
	Name   string         `json:"name"`
	Claims map[string]any `json:"claims,omitempty"`
}

// Error is a typed authentication failure. StatusCode is always 401.
type Error struct {
	Context    string `json:"context"`
	StatusCode int    `json:"statusCode"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("authentication failed (%d): %s", e.StatusCode, e.Context)
}

// NewError builds an authentication failure with 401 semantics.
func NewError(reason string) *Error {
	return &Error{Context: reason, StatusCode: http.StatusUnauthorized}
}

// Authenticator verifies a request's identity. Implementations return a
// *Error for any missing-token or verification failure.
type Authenticator interface {
	Authenticate(ctx context.Context, headers http.Header) (*Identity, error)
}

// TokenVerifier checks one bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (jwt.MapClaims, error)
}

// BearerAuthenticator resolves a bearer token from the Authorization
// header and delegates verification.
type BearerAuthenticator struct {
	verifier TokenVerifier
}

// NewBearerAuthenticator creates an authenticator over the verifier.
func NewBearerAuthenticator(verifier TokenVerifier) *BearerAuthenticator {
	return &BearerAuthenticator{verifier: verifier}
}

func (a *BearerAuthenticator) Authenticate(ctx context.Context, headers http.Header) (*Identity, error) {
	token, err := resolveBearerToken(headers)
	if err != nil {
		return nil, err
	}
	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, NewError(fmt.Sprintf("token verification failed: %v", err))
	}
	return identityFromClaims(claims), nil
}

func resolveBearerToken(headers http.Header) (string, error) {
	value := headers.Get("Authorization")
	if value == "" {
		return "", NewError("missing Authorization header")
	}
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", NewError("Authorization header is not a bearer token")
	}
	return parts[1], nil
}

func identityFromClaims(claims jwt.MapClaims) *Identity {
	id := &Identity{Claims: map[string]any(claims)}
	for _, key := range []string{"uid", "sub", "user_id"} {
		if v, ok := claims[key].(string); ok && v != "" {
			id.UID = v
			break
		}
	}
	if v, ok := claims["name"].(string); ok {
		id.Name = v
	}
	return id
}
