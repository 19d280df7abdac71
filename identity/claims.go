// Package identity turns verified identity claims into principals and
// per-invocation service contexts.
//
// Credential verification happens upstream; this package only trusts
// claims handed to it and enriches them with the principal's active
// group memberships. A Principal is immutable for the duration of one
// authorization decision and is rebuilt per request.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidClaims is returned when a claim set lacks required fields.
	ErrInvalidClaims = errors.New("invalid identity claims")

	// ErrClaimsExpired is returned when the claim set is past its expiry.
	ErrClaimsExpired = errors.New("identity claims expired")

	// ErrEmailNotVerified is returned when the principal's email is unverified.
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrUnknownServiceRole is returned when the claimed service role is not
	// in the catalog. Unknown roles are never defaulted.
	ErrUnknownServiceRole = errors.New("unknown service role")
)

// Claims is a verified identity claim set as issued by the identity provider.
type Claims struct {
	Subject          string    `json:"sub"`
	Email            string    `json:"email,omitempty"`
	ServiceRoleClaim string    `json:"service_role"`
	EmailVerified    bool      `json:"email_verified"`
	IssuedAt         time.Time `json:"iat"`
	ExpiresAt        time.Time `json:"exp"`
}

// Validate checks the claim set at the given instant.
func (c *Claims) Validate(now time.Time) error {
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("missing subject: %w", ErrInvalidClaims)
	}
	if strings.TrimSpace(c.ServiceRoleClaim) == "" {
		return fmt.Errorf("%s: missing service role: %w", c.Subject, ErrInvalidClaims)
	}
	if c.ExpiresAt.IsZero() {
		return fmt.Errorf("%s: missing expiry: %w", c.Subject, ErrInvalidClaims)
	}
	if !now.Before(c.ExpiresAt) {
		return fmt.Errorf("%s: %w", c.Subject, ErrClaimsExpired)
	}
	if !c.EmailVerified {
		return fmt.Errorf("%s: %w", c.Subject, ErrEmailNotVerified)
	}
	return nil
}

// ClaimsFromMap extracts Claims from a decoded JWT claim map.
// Numeric dates are interpreted as seconds since the Unix epoch.
func ClaimsFromMap(raw map[string]any) (*Claims, error) {
	c := &Claims{}
	if sub, ok := raw["sub"].(string); ok {
		c.Subject = sub
	}
	if email, ok := raw["email"].(string); ok {
		c.Email = email
	}
	if role, ok := raw["service_role"].(string); ok {
		c.ServiceRoleClaim = role
	}
	switch v := raw["email_verified"].(type) {
	case bool:
		c.EmailVerified = v
	case string:
		c.EmailVerified = strings.EqualFold(v, "true")
	}
	c.IssuedAt = numericDate(raw["iat"])
	c.ExpiresAt = numericDate(raw["exp"])

	if c.Subject == "" {
		return nil, fmt.Errorf("missing sub claim: %w", ErrInvalidClaims)
	}
	return c, nil
}

func numericDate(v any) time.Time {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0).UTC()
	case int64:
		return time.Unix(n, 0).UTC()
	case int:
		return time.Unix(int64(n), 0).UTC()
	}
	return time.Time{}
}
