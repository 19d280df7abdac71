package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/identity"
	"github.com/byteness/saccoguard/membership"
)

// Epoch is the reference instant fixtures are built around.
var Epoch = time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)

// Member describes one fixture membership.
type Member struct {
	PrincipalID string
	GroupID     string
	GroupType   membership.GroupType
	Role        catalog.GroupRole
}

// OrgMember is a shorthand for an organization membership.
func OrgMember(principal, org string, role catalog.GroupRole) Member {
	return Member{PrincipalID: principal, GroupID: org, GroupType: membership.GroupOrganization, Role: role}
}

// ChamaMember is a shorthand for a chama membership.
func ChamaMember(principal, chama string, role catalog.GroupRole) Member {
	return Member{PrincipalID: principal, GroupID: chama, GroupType: membership.GroupChama, Role: role}
}

// SeedMemberships creates a MemoryStore holding the given active memberships.
func SeedMemberships(t *testing.T, members ...Member) *membership.MemoryStore {
	t.Helper()
	store := membership.NewMemoryStore()
	for _, m := range members {
		if err := store.Add(context.Background(), membership.New(m.PrincipalID, m.GroupID, m.GroupType, m.Role, Epoch)); err != nil {
			t.Fatalf("seed membership %s/%s: %v", m.PrincipalID, m.GroupID, err)
		}
	}
	return store
}

// MakePrincipal builds a principal directly, without a store.
func MakePrincipal(id string, role catalog.ServiceRole, members ...Member) *identity.Principal {
	p := &identity.Principal{ID: id, ServiceRole: role}
	for _, m := range members {
		p.Memberships = append(p.Memberships, membership.New(id, m.GroupID, m.GroupType, m.Role, Epoch))
	}
	return p
}

// LoadPrincipal builds a principal through an identity.Builder over store.
func LoadPrincipal(t *testing.T, store membership.Store, id string, role catalog.ServiceRole) *identity.Principal {
	t.Helper()
	b := identity.NewBuilder(catalog.Default(), store, FixedClock(Epoch))
	p, err := b.PrincipalForRole(context.Background(), id, role)
	if err != nil {
		t.Fatalf("load principal %s: %v", id, err)
	}
	return p
}
