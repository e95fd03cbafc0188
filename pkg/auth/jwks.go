package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const jwksCacheDuration = time.Hour

// jsonWebKey is one key from a JWKS document.
type jsonWebKey struct {
	KID string `json:"kid"`
	KTY string `json:"kty"`
	ALG string `json:"alg,omitempty"`
	USE string `json:"use,omitempty"`
	CRV string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

type jsonWebKeySet struct {
	Keys []jsonWebKey `json:"keys"`
}

// JWKSVerifier verifies JWTs against a remote JWKS endpoint, caching
// fetched keys for an hour.
type JWKSVerifier struct {
	jwksURL  string
	issuer   string
	audience string
	client   *http.Client

	mu        sync.RWMutex
	keyMap    map[string]any
	lastFetch time.Time
}

var _ TokenVerifier = (*JWKSVerifier)(nil)

// NewJWKSVerifier creates a verifier for the JWKS endpoint. Issuer and
// audience checks are applied when non-empty.
func NewJWKSVerifier(jwksURL, issuer, audience string) *JWKSVerifier {
	return &JWKSVerifier{
		jwksURL:  jwksURL,
		issuer:   issuer,
		audience: audience,
		client:   &http.Client{Timeout: 10 * time.Second},
		keyMap:   make(map[string]any),
	}
}

func (v *JWKSVerifier) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid not found in token header")
		}
		return v.key(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	return claims, nil
}

func (v *JWKSVerifier) key(ctx context.Context, kid string) (any, error) {
	v.mu.RLock()
	key, ok := v.keyMap[kid]
	fresh := time.Since(v.lastFetch) < jwksCacheDuration
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := v.fetch(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keyMap[kid]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	return key, nil
}

func (v *JWKSVerifier) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned %s", resp.Status)
	}

	var jwks jsonWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keyMap := make(map[string]any, len(jwks.Keys))
	for i := range jwks.Keys {
		jwk := &jwks.Keys[i]
		var key any
		switch jwk.KTY {
		case "EC":
			key, err = parseECKey(jwk)
		case "RSA":
			key, err = parseRSAKey(jwk)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to parse key %s: %w", jwk.KID, err)
		}
		keyMap[jwk.KID] = key
	}

	v.mu.Lock()
	v.keyMap = keyMap
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}

func parseECKey(jwk *jsonWebKey) (*ecdsa.PublicKey, error) {
	xData, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}
	yData, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
	}

	var curve elliptic.Curve
	switch jwk.CRV {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %s", jwk.CRV)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xData),
		Y:     new(big.Int).SetBytes(yData),
	}, nil
}

func parseRSAKey(jwk *jsonWebKey) (*rsa.PublicKey, error) {
	nData, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eData, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	e := 0
	for _, b := range eData {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nData),
		E: e,
	}, nil
}

// HMACVerifier verifies HS256 tokens signed with a shared secret. Meant
// for local and test deployments where no identity provider exists.
type HMACVerifier struct {
	secret []byte
}

var _ TokenVerifier = (*HMACVerifier)(nil)

// NewHMACVerifier creates a shared-secret verifier.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	return claims, nil
}
