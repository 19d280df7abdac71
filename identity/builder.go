package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/membership"
)

// Builder assembles principals from verified claims and the membership store.
type Builder struct {
	catalog     *catalog.Catalog
	memberships membership.Store
	now         func() time.Time
}

// NewBuilder creates a Builder. now defaults to time.Now when nil.
func NewBuilder(c *catalog.Catalog, memberships membership.Store, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{catalog: c, memberships: memberships, now: now}
}

// Principal validates claims and returns a Principal carrying the
// subject's currently active memberships.
func (b *Builder) Principal(ctx context.Context, claims *Claims) (*Principal, error) {
	if claims == nil {
		return nil, fmt.Errorf("nil claims: %w", ErrInvalidClaims)
	}
	if err := claims.Validate(b.now()); err != nil {
		return nil, err
	}
	return b.PrincipalForRole(ctx, claims.Subject, catalog.ServiceRole(claims.ServiceRoleClaim))
}

// PrincipalForRole builds a principal for a known subject and service role,
// loading its currently active memberships. It is used when a principal
// must be rebuilt from a stored snapshot rather than fresh claims.
func (b *Builder) PrincipalForRole(ctx context.Context, subject string, role catalog.ServiceRole) (*Principal, error) {
	if !b.catalog.HasServiceRole(role) {
		return nil, fmt.Errorf("%s: role '%s': %w", subject, role, ErrUnknownServiceRole)
	}

	ms, err := b.memberships.ListActiveByPrincipal(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("load memberships for %s: %w", subject, err)
	}

	return &Principal{
		ID:          subject,
		ServiceRole: role,
		Memberships: ms,
	}, nil
}
