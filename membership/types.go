// Package membership tracks which principals belong to which organizations
// and chamas, and with what group role.
//
// Memberships are deactivated rather than deleted so that past group roles
// remain visible to audit. At most one active membership may exist per
// (principal, group) pair.
package membership

import (
	"errors"
	"fmt"
	"time"

	"github.com/byteness/saccoguard/catalog"
	"github.com/google/uuid"
)

var (
	// ErrMembershipNotFound is returned when no active membership exists
	// for the requested principal and group.
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrActiveMembershipExists is returned when adding a membership for a
	// principal that already holds an active one in the same group.
	ErrActiveMembershipExists = errors.New("active membership already exists")
)

// GroupType is the kind of group a membership belongs to.
type GroupType string

const (
	// GroupOrganization is a SACCO or other member organization.
	GroupOrganization GroupType = "organization"
	// GroupChama is an informal savings group.
	GroupChama GroupType = "chama"
)

// IsValid returns true if the GroupType is a known value.
func (g GroupType) IsValid() bool {
	return g == GroupOrganization || g == GroupChama
}

// String returns the string representation of the GroupType.
func (g GroupType) String() string {
	return string(g)
}

// Scope returns the permission scope a group of this type grants.
func (g GroupType) Scope() catalog.Scope {
	switch g {
	case GroupOrganization:
		return catalog.ScopeOrganization
	case GroupChama:
		return catalog.ScopeChama
	}
	return ""
}

// GroupTypeForScope returns the group type bound to a group scope.
func GroupTypeForScope(s catalog.Scope) (GroupType, bool) {
	switch s {
	case catalog.ScopeOrganization:
		return GroupOrganization, true
	case catalog.ScopeChama:
		return GroupChama, true
	}
	return "", false
}

// Membership records one principal's role within one group.
type Membership struct {
	ID          string            `json:"id"`
	PrincipalID string            `json:"principal_id"`
	GroupID     string            `json:"group_id"`
	GroupType   GroupType         `json:"group_type"`
	Role        catalog.GroupRole `json:"role"`
	Scope       catalog.Scope     `json:"scope"`
	IsActive    bool              `json:"is_active"`
	JoinedAt    time.Time         `json:"joined_at"`
	LeftAt      *time.Time        `json:"left_at,omitempty"`
}

// New creates an active membership with a fresh ID. The scope is derived
// from the group type.
func New(principalID, groupID string, groupType GroupType, role catalog.GroupRole, joinedAt time.Time) *Membership {
	return &Membership{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		GroupID:     groupID,
		GroupType:   groupType,
		Role:        role,
		Scope:       groupType.Scope(),
		IsActive:    true,
		JoinedAt:    joinedAt,
	}
}

// Validate checks that the membership is internally consistent.
func (m *Membership) Validate() error {
	if m.PrincipalID == "" {
		return fmt.Errorf("membership missing principal id")
	}
	if m.GroupID == "" {
		return fmt.Errorf("membership missing group id")
	}
	if !m.GroupType.IsValid() {
		return fmt.Errorf("invalid group type '%s'", m.GroupType)
	}
	if m.Role == "" {
		return fmt.Errorf("membership missing role")
	}
	if m.Scope != m.GroupType.Scope() {
		return fmt.Errorf("scope '%s' does not match group type '%s'", m.Scope, m.GroupType)
	}
	return nil
}

// Clone returns a deep copy of the membership.
func (m *Membership) Clone() *Membership {
	c := *m
	if m.LeftAt != nil {
		t := *m.LeftAt
		c.LeftAt = &t
	}
	return &c
}
