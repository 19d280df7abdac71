package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier verifies a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// HS256Verifier verifies JWTs signed with a shared HS256 secret.
// It is intended for local development and the admin CLI.
type HS256Verifier struct {
	secret []byte
}

// NewHS256Verifier creates a verifier for HS256 tokens.
func NewHS256Verifier(secret string) (*HS256Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	return &HS256Verifier{secret: []byte(secret)}, nil
}

// Verify checks the signature and standard time claims of token and
// extracts Claims from it.
func (v *HS256Verifier) Verify(_ context.Context, token string) (*Claims, error) {
	tok, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}
	return ClaimsFromMap(map[string]any(raw))
}

// Sign issues an HS256 token for c. It is used by the CLI to mint
// development tokens.
func (v *HS256Verifier) Sign(c *Claims) (string, error) {
	mc := jwt.MapClaims{
		"sub":            c.Subject,
		"service_role":   c.ServiceRoleClaim,
		"email_verified": c.EmailVerified,
		"exp":            jwt.NewNumericDate(c.ExpiresAt),
	}
	if c.Email != "" {
		mc["email"] = c.Email
	}
	if !c.IssuedAt.IsZero() {
		mc["iat"] = jwt.NewNumericDate(c.IssuedAt)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// DevClaims returns a verified claim set for subject valid for ttl from now.
func DevClaims(subject, serviceRole string, now time.Time, ttl time.Duration) *Claims {
	return &Claims{
		Subject:          subject,
		ServiceRoleClaim: serviceRole,
		EmailVerified:    true,
		IssuedAt:         now,
		ExpiresAt:        now.Add(ttl),
	}
}
