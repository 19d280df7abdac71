// Package catalog defines the static role and permission tables used to
// authorize operations.
//
// A catalog has two independent role families:
//   - service roles, held once per principal and applying service-wide
//   - group roles, held per organization or chama membership
//
// Each family carries an inheritance graph. A role's effective permission
// set is its own permissions plus those of every role reachable through
// the graph. Graphs are validated for unknown references and cycles when a
// catalog is built; a cycle is a fatal configuration error.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Permission names a single capability, e.g. ORG_UPDATE.
type Permission string

// String returns the string representation of the Permission.
func (p Permission) String() string {
	return string(p)
}

// Scope is the breadth at which an operation is attempted.
type Scope string

const (
	// ScopeGlobal applies across the whole service.
	ScopeGlobal Scope = "GLOBAL"
	// ScopeOrganization applies within a single organization.
	ScopeOrganization Scope = "ORGANIZATION"
	// ScopeChama applies within a single chama.
	ScopeChama Scope = "CHAMA"
	// ScopePersonal applies to the principal's own resources.
	ScopePersonal Scope = "PERSONAL"
)

// IsValid returns true if the Scope is a known value.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeGlobal, ScopeOrganization, ScopeChama, ScopePersonal:
		return true
	}
	return false
}

// String returns the string representation of the Scope.
func (s Scope) String() string {
	return string(s)
}

// Breadth orders scopes from narrowest (1) to broadest (4).
// Unknown scopes have breadth 0.
func (s Scope) Breadth() int {
	switch s {
	case ScopeGlobal:
		return 4
	case ScopeOrganization:
		return 3
	case ScopeChama:
		return 2
	case ScopePersonal:
		return 1
	}
	return 0
}

// IsBroaderThan reports whether s is strictly broader than other.
func (s Scope) IsBroaderThan(other Scope) bool {
	return s.Breadth() > other.Breadth()
}

// IsGroupScope reports whether the scope is bound to an organization or chama.
func (s Scope) IsGroupScope() bool {
	return s == ScopeOrganization || s == ScopeChama
}

// AllScopes returns all valid scopes, broadest first.
func AllScopes() []Scope {
	return []Scope{ScopeGlobal, ScopeOrganization, ScopeChama, ScopePersonal}
}

// ParseScope parses a scope name case-insensitively.
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToUpper(strings.TrimSpace(s)))
	if !scope.IsValid() {
		return "", fmt.Errorf("invalid scope %q, expected one of %v", s, AllScopes())
	}
	return scope, nil
}

// ServiceRole is a service-wide role carried by the identity claim.
type ServiceRole string

// String returns the string representation of the ServiceRole.
func (r ServiceRole) String() string {
	return string(r)
}

// GroupRole is a role held within one organization or chama.
type GroupRole string

// String returns the string representation of the GroupRole.
func (r GroupRole) String() string {
	return string(r)
}

// PermissionSet is an unordered set of permissions.
// Sets returned by this package are fresh copies owned by the caller.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the set contains p.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Union returns a new set holding the members of s and other.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := make(PermissionSet, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// Clone returns a copy of the set.
func (s PermissionSet) Clone() PermissionSet {
	return s.Union(nil)
}

// ContainsAll reports whether every permission in required is in the set.
func (s PermissionSet) ContainsAll(required []Permission) bool {
	for _, p := range required {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Missing returns the permissions of required that are not in the set,
// preserving the order of required.
func (s PermissionSet) Missing(required []Permission) []Permission {
	var missing []Permission
	for _, p := range required {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Sorted returns the set members in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
