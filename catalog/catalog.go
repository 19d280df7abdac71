package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCyclicHierarchy is returned when a role inheritance graph contains a cycle.
var ErrCyclicHierarchy = errors.New("cyclic role hierarchy")

// ErrUnknownRole is returned when a role name is not declared in the catalog.
var ErrUnknownRole = errors.New("unknown role")

// Definition is the declarative form of a catalog, as loaded from YAML.
type Definition struct {
	Version      string           `yaml:"version" json:"version"`
	Permissions  []Permission     `yaml:"permissions" json:"permissions"`
	ServiceRoles []RoleDefinition `yaml:"service_roles" json:"service_roles"`
	GroupRoles   []RoleDefinition `yaml:"group_roles" json:"group_roles"`
}

// RoleDefinition declares one role with its direct permissions and the
// roles it inherits from.
type RoleDefinition struct {
	Name        string       `yaml:"name" json:"name"`
	Permissions []Permission `yaml:"permissions" json:"permissions"`
	Inherits    []string     `yaml:"inherits,omitempty" json:"inherits,omitempty"`
}

// Catalog is a validated, immutable set of roles and their effective
// permissions. It is safe for concurrent use.
type Catalog struct {
	version     string
	permissions PermissionSet

	service map[ServiceRole]PermissionSet
	group   map[GroupRole]PermissionSet

	// reachable[r] holds r and every role r inherits from, transitively.
	serviceReach map[string]map[string]struct{}
	groupReach   map[string]map[string]struct{}
}

// New validates def and precomputes the effective permission set of every role.
// It fails with ErrCyclicHierarchy if either inheritance graph has a cycle.
func New(def *Definition) (*Catalog, error) {
	if def == nil {
		return nil, fmt.Errorf("nil catalog definition")
	}
	if def.Version == "" {
		return nil, fmt.Errorf("missing version field")
	}

	known := NewPermissionSet(def.Permissions...)
	if len(known) == 0 {
		return nil, fmt.Errorf("catalog must declare at least one permission")
	}

	serviceReach, serviceSets, err := expand("service", def.ServiceRoles, known)
	if err != nil {
		return nil, err
	}
	groupReach, groupSets, err := expand("group", def.GroupRoles, known)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		version:      def.Version,
		permissions:  known,
		service:      make(map[ServiceRole]PermissionSet, len(serviceSets)),
		group:        make(map[GroupRole]PermissionSet, len(groupSets)),
		serviceReach: serviceReach,
		groupReach:   groupReach,
	}
	for name, set := range serviceSets {
		c.service[ServiceRole(name)] = set
	}
	for name, set := range groupSets {
		c.group[GroupRole(name)] = set
	}
	return c, nil
}

// expand validates one role family and returns, per role, the set of
// reachable roles and the effective permission set.
func expand(family string, roles []RoleDefinition, known PermissionSet) (map[string]map[string]struct{}, map[string]PermissionSet, error) {
	byName := make(map[string]RoleDefinition, len(roles))
	for i, r := range roles {
		if r.Name == "" {
			return nil, nil, fmt.Errorf("%s role at index %d missing name", family, i)
		}
		if _, dup := byName[r.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate %s role '%s'", family, r.Name)
		}
		for _, p := range r.Permissions {
			if !known.Has(p) {
				return nil, nil, fmt.Errorf("%s role '%s' grants undeclared permission '%s'", family, r.Name, p)
			}
		}
		byName[r.Name] = r
	}
	for _, r := range roles {
		for _, parent := range r.Inherits {
			if _, ok := byName[parent]; !ok {
				return nil, nil, fmt.Errorf("%s role '%s' inherits '%s': %w", family, r.Name, parent, ErrUnknownRole)
			}
		}
	}

	if cycle := findCycle(byName); cycle != nil {
		return nil, nil, fmt.Errorf("%s roles %s: %w", family, strings.Join(cycle, " -> "), ErrCyclicHierarchy)
	}

	reach := make(map[string]map[string]struct{}, len(byName))
	sets := make(map[string]PermissionSet, len(byName))
	for name := range byName {
		seen := make(map[string]struct{})
		collect(name, byName, seen)
		reach[name] = seen

		set := make(PermissionSet)
		for r := range seen {
			for _, p := range byName[r].Permissions {
				set[p] = struct{}{}
			}
		}
		sets[name] = set
	}
	return reach, sets, nil
}

func collect(name string, byName map[string]RoleDefinition, seen map[string]struct{}) {
	if _, ok := seen[name]; ok {
		return
	}
	seen[name] = struct{}{}
	for _, parent := range byName[name].Inherits {
		collect(parent, byName, seen)
	}
}

// findCycle runs a three-color DFS over the inheritance graph and returns
// the first cycle found as a path, or nil.
func findCycle(byName map[string]RoleDefinition) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(byName))

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var path []string
	var visit func(string) []string
	visit = func(name string) []string {
		color[name] = grey
		path = append(path, name)
		for _, parent := range byName[name].Inherits {
			switch color[parent] {
			case grey:
				start := 0
				for i, n := range path {
					if n == parent {
						start = i
						break
					}
				}
				cycle := append([]string{}, path[start:]...)
				return append(cycle, parent)
			case white:
				if c := visit(parent); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil
	}

	for _, name := range names {
		if color[name] == white {
			if c := visit(name); c != nil {
				return c
			}
		}
	}
	return nil
}

// Version returns the catalog definition version.
func (c *Catalog) Version() string {
	return c.version
}

// KnowsPermission reports whether p is declared in the catalog.
func (c *Catalog) KnowsPermission(p Permission) bool {
	return c.permissions.Has(p)
}

// Permissions returns every declared permission.
func (c *Catalog) Permissions() PermissionSet {
	return c.permissions.Clone()
}

// HasServiceRole reports whether r is a declared service role.
func (c *Catalog) HasServiceRole(r ServiceRole) bool {
	_, ok := c.service[r]
	return ok
}

// HasGroupRole reports whether r is a declared group role.
func (c *Catalog) HasGroupRole(r GroupRole) bool {
	_, ok := c.group[r]
	return ok
}

// ServicePermissions returns the effective permissions of a service role,
// including inherited ones. Unknown roles yield an empty set.
func (c *Catalog) ServicePermissions(r ServiceRole) PermissionSet {
	return c.service[r].Clone()
}

// GroupPermissions returns the effective permissions of a group role,
// including inherited ones. Unknown roles yield an empty set.
func (c *Catalog) GroupPermissions(r GroupRole) PermissionSet {
	return c.group[r].Clone()
}

// ServiceRoles returns the declared service roles in lexical order.
func (c *Catalog) ServiceRoles() []ServiceRole {
	out := make([]ServiceRole, 0, len(c.service))
	for r := range c.service {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GroupRoles returns the declared group roles in lexical order.
func (c *Catalog) GroupRoles() []GroupRole {
	out := make([]GroupRole, 0, len(c.group))
	for r := range c.group {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GroupRoleCovers reports whether holder is other or inherits from it.
func (c *Catalog) GroupRoleCovers(holder, other GroupRole) bool {
	_, ok := c.groupReach[string(holder)][string(other)]
	return ok
}

// ServiceRoleCovers reports whether holder is other or inherits from it.
func (c *Catalog) ServiceRoleCovers(holder, other ServiceRole) bool {
	_, ok := c.serviceReach[string(holder)][string(other)]
	return ok
}
