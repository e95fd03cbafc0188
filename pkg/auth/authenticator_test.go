package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHMAC(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestBearerAuthenticator(t *testing.T) {
	authn := NewBearerAuthenticator(NewHMACVerifier("shared-secret"))

	t.Run("valid token", func(t *testing.T) {
		token := signHMAC(t, "shared-secret", jwt.MapClaims{
			"sub":  "user-1",
			"name": "Ada",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})
		headers := http.Header{}
		headers.Set("Authorization", "Bearer "+token)

		identity, err := authn.Authenticate(context.Background(), headers)
		require.NoError(t, err)
		assert.Equal(t, "user-1", identity.UID)
		assert.Equal(t, "Ada", identity.Name)
		assert.Equal(t, "user-1", identity.Claims["sub"])
	})

	t.Run("uid claim preferred over sub", func(t *testing.T) {
		token := signHMAC(t, "shared-secret", jwt.MapClaims{
			"uid": "u-uid",
			"sub": "u-sub",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		headers := http.Header{}
		headers.Set("Authorization", "Bearer "+token)

		identity, err := authn.Authenticate(context.Background(), headers)
		require.NoError(t, err)
		assert.Equal(t, "u-uid", identity.UID)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := authn.Authenticate(context.Background(), http.Header{})
		var authErr *Error
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
		assert.Contains(t, authErr.Context, "missing Authorization header")
	})

	t.Run("malformed header", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("Authorization", "Basic dXNlcjpwYXNz")
		_, err := authn.Authenticate(context.Background(), headers)
		var authErr *Error
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signHMAC(t, "other-secret", jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		headers := http.Header{}
		headers.Set("Authorization", "Bearer "+token)
		_, err := authn.Authenticate(context.Background(), headers)
		var authErr *Error
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signHMAC(t, "shared-secret", jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		headers := http.Header{}
		headers.Set("Authorization", "Bearer "+token)
		_, err := authn.Authenticate(context.Background(), headers)
		require.Error(t, err)
	})
}
