package auth

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Claims are embedded in a pre-issued, tenant-scoped API token. This module
// never mints tokens — it only verifies the HMAC signature and expiry of
// tokens issued upstream (§1, assumed precondition).
type Claims struct {
	Subject  string `json:"sub"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// TokenVerifier validates HS256-signed bearer tokens against a shared secret.
type TokenVerifier struct {
	key []byte
}

// NewTokenVerifier creates a verifier. The secret must be at least 32 bytes.
func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes, got %d", len(secret))
	}
	return &TokenVerifier{key: []byte(secret)}, nil
}

// Validate verifies the JWT signature and expiry and returns its claims.
func (v *TokenVerifier) Validate(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(v.key, &registered, &custom); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{
		Issuer: "supercheck",
		Time:   time.Now(),
	}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("validating claims: %w", err)
	}

	return &custom, nil
}
