package identity

import (
	"time"

	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/membership"
	"github.com/google/uuid"
)

// Principal is an authenticated actor with its service role and the group
// memberships that were active when it was built.
type Principal struct {
	ID          string
	ServiceRole catalog.ServiceRole
	Memberships []*membership.Membership
}

// ActiveMembership returns the principal's active membership in groupID
// whose scope matches scope, or nil.
func (p *Principal) ActiveMembership(groupID string, scope catalog.Scope) *membership.Membership {
	if groupID == "" {
		return nil
	}
	for _, m := range p.Memberships {
		if m.IsActive && m.GroupID == groupID && m.Scope == scope {
			return m
		}
	}
	return nil
}

// GroupRole returns the principal's role in groupID at scope, if any.
func (p *Principal) GroupRole(groupID string, scope catalog.Scope) (catalog.GroupRole, bool) {
	if m := p.ActiveMembership(groupID, scope); m != nil {
		return m.Role, true
	}
	return "", false
}

// ServiceContext describes one operation invocation. It is created fresh
// per invocation and never shared.
type ServiceContext struct {
	PrincipalID    string
	OrganizationID string
	ChamaID        string
	Scope          catalog.Scope
	CorrelationID  string
	Timestamp      time.Time

	resolved catalog.PermissionSet
}

// NewServiceContext builds a context for principal p. The resolved
// permission set is copied.
func NewServiceContext(p *Principal, scope catalog.Scope, organizationID, chamaID string, resolved catalog.PermissionSet, now time.Time) *ServiceContext {
	return &ServiceContext{
		PrincipalID:    p.ID,
		OrganizationID: organizationID,
		ChamaID:        chamaID,
		Scope:          scope,
		CorrelationID:  NewCorrelationID(),
		Timestamp:      now,
		resolved:       resolved.Clone(),
	}
}

// ResolvedPermissions returns the permissions resolved for this context,
// sorted.
func (c *ServiceContext) ResolvedPermissions() []catalog.Permission {
	return c.resolved.Sorted()
}

// GroupID returns the organization or chama ID bound to the context's scope.
func (c *ServiceContext) GroupID() string {
	switch c.Scope {
	case catalog.ScopeOrganization:
		return c.OrganizationID
	case catalog.ScopeChama:
		return c.ChamaID
	}
	return ""
}

// NewCorrelationID returns a fresh random correlation ID.
func NewCorrelationID() string {
	return uuid.NewString()
}
