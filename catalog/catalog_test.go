package catalog_test

import (
	"errors"
	"testing"

	"github.com/byteness/saccoguard/catalog"
	"github.com/google/go-cmp/cmp"
)

func TestDefault_Valid(t *testing.T) {
	c := catalog.Default()
	if c.Version() != "1" {
		t.Errorf("Version() = %q, want %q", c.Version(), "1")
	}
	for _, r := range []catalog.ServiceRole{catalog.RoleSuperAdmin, catalog.RoleAdmin, catalog.RoleMember} {
		if !c.HasServiceRole(r) {
			t.Errorf("default catalog missing service role %s", r)
		}
	}
	for _, r := range []catalog.GroupRole{catalog.RoleOrgAdmin, catalog.RoleOrgMember, catalog.RoleChamaAdmin, catalog.RoleChamaTreasurer, catalog.RoleChamaMember} {
		if !c.HasGroupRole(r) {
			t.Errorf("default catalog missing group role %s", r)
		}
	}
}

func TestServicePermissions_Inheritance(t *testing.T) {
	c := catalog.Default()

	super := c.ServicePermissions(catalog.RoleSuperAdmin)
	member := c.ServicePermissions(catalog.RoleMember)

	for p := range member {
		if !super.Has(p) {
			t.Errorf("SUPER_ADMIN should inherit %s from MEMBER", p)
		}
	}
	if member.Has(catalog.PermServiceManage) {
		t.Error("MEMBER should not hold SERVICE_MANAGE")
	}
	if member.Has(catalog.PermOrgUpdate) {
		t.Error("MEMBER should not hold ORG_UPDATE")
	}
}

func TestGroupPermissions_Inheritance(t *testing.T) {
	c := catalog.Default()

	admin := c.GroupPermissions(catalog.RoleOrgAdmin)
	for _, p := range []catalog.Permission{catalog.PermOrgUpdate, catalog.PermOrgRead, catalog.PermApprovalVote} {
		if !admin.Has(p) {
			t.Errorf("ORG_ADMIN missing %s", p)
		}
	}
	if c.GroupPermissions(catalog.RoleChamaMember).Has(catalog.PermChamaWithdraw) {
		t.Error("CHAMA_MEMBER should not hold CHAMA_WITHDRAW")
	}
}

func TestPermissions_ReturnCopies(t *testing.T) {
	c := catalog.Default()
	set := c.GroupPermissions(catalog.RoleOrgMember)
	set[catalog.PermServiceManage] = struct{}{}

	if c.GroupPermissions(catalog.RoleOrgMember).Has(catalog.PermServiceManage) {
		t.Error("mutating a returned set must not affect the catalog")
	}
}

func TestUnknownRole_EmptySet(t *testing.T) {
	c := catalog.Default()
	if got := len(c.ServicePermissions("NOBODY")); got != 0 {
		t.Errorf("unknown service role set size = %d, want 0", got)
	}
	if got := len(c.GroupPermissions("NOBODY")); got != 0 {
		t.Errorf("unknown group role set size = %d, want 0", got)
	}
}

func TestGroupRoleCovers(t *testing.T) {
	c := catalog.Default()
	tests := []struct {
		holder, other catalog.GroupRole
		want          bool
	}{
		{catalog.RoleOrgAdmin, catalog.RoleOrgAdmin, true},
		{catalog.RoleOrgAdmin, catalog.RoleOrgMember, true},
		{catalog.RoleOrgMember, catalog.RoleOrgAdmin, false},
		{catalog.RoleChamaTreasurer, catalog.RoleChamaMember, true},
		{catalog.RoleChamaTreasurer, catalog.RoleChamaAdmin, false},
		{catalog.RoleOrgAdmin, catalog.RoleChamaMember, false},
	}
	for _, tt := range tests {
		if got := c.GroupRoleCovers(tt.holder, tt.other); got != tt.want {
			t.Errorf("GroupRoleCovers(%s, %s) = %v, want %v", tt.holder, tt.other, got, tt.want)
		}
	}
	if !c.ServiceRoleCovers(catalog.RoleSuperAdmin, catalog.RoleMember) {
		t.Error("SUPER_ADMIN should cover MEMBER")
	}
}

func TestNew_CyclicHierarchy(t *testing.T) {
	def := &catalog.Definition{
		Version:     "1",
		Permissions: []catalog.Permission{"A"},
		GroupRoles: []catalog.RoleDefinition{
			{Name: "X", Permissions: []catalog.Permission{"A"}, Inherits: []string{"Y"}},
			{Name: "Y", Inherits: []string{"Z"}},
			{Name: "Z", Inherits: []string{"X"}},
		},
	}
	_, err := catalog.New(def)
	if !errors.Is(err, catalog.ErrCyclicHierarchy) {
		t.Fatalf("New() error = %v, want ErrCyclicHierarchy", err)
	}
}

func TestNew_SelfInheritance(t *testing.T) {
	def := &catalog.Definition{
		Version:      "1",
		Permissions:  []catalog.Permission{"A"},
		ServiceRoles: []catalog.RoleDefinition{{Name: "X", Inherits: []string{"X"}}},
	}
	if _, err := catalog.New(def); !errors.Is(err, catalog.ErrCyclicHierarchy) {
		t.Fatalf("New() error = %v, want ErrCyclicHierarchy", err)
	}
}

func TestNew_DiamondIsNotACycle(t *testing.T) {
	def := &catalog.Definition{
		Version:     "1",
		Permissions: []catalog.Permission{"A", "B", "C", "D"},
		GroupRoles: []catalog.RoleDefinition{
			{Name: "TOP", Permissions: []catalog.Permission{"A"}, Inherits: []string{"LEFT", "RIGHT"}},
			{Name: "LEFT", Permissions: []catalog.Permission{"B"}, Inherits: []string{"BASE"}},
			{Name: "RIGHT", Permissions: []catalog.Permission{"C"}, Inherits: []string{"BASE"}},
			{Name: "BASE", Permissions: []catalog.Permission{"D"}},
		},
	}
	c, err := catalog.New(def)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got := c.GroupPermissions("TOP").Sorted()
	want := []catalog.Permission{"A", "B", "C", "D"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TOP permissions mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		def     *catalog.Definition
		wantErr error
	}{
		{
			name: "nil definition",
			def:  nil,
		},
		{
			name: "missing version",
			def:  &catalog.Definition{Permissions: []catalog.Permission{"A"}},
		},
		{
			name: "no permissions",
			def:  &catalog.Definition{Version: "1"},
		},
		{
			name: "unknown inherited role",
			def: &catalog.Definition{
				Version:      "1",
				Permissions:  []catalog.Permission{"A"},
				ServiceRoles: []catalog.RoleDefinition{{Name: "X", Inherits: []string{"MISSING"}}},
			},
			wantErr: catalog.ErrUnknownRole,
		},
		{
			name: "undeclared permission",
			def: &catalog.Definition{
				Version:     "1",
				Permissions: []catalog.Permission{"A"},
				GroupRoles:  []catalog.RoleDefinition{{Name: "X", Permissions: []catalog.Permission{"B"}}},
			},
		},
		{
			name: "duplicate role",
			def: &catalog.Definition{
				Version:      "1",
				Permissions:  []catalog.Permission{"A"},
				ServiceRoles: []catalog.RoleDefinition{{Name: "X"}, {Name: "X"}},
			},
		},
		{
			name: "unnamed role",
			def: &catalog.Definition{
				Version:     "1",
				Permissions: []catalog.Permission{"A"},
				GroupRoles:  []catalog.RoleDefinition{{Permissions: []catalog.Permission{"A"}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.New(tt.def)
			if err == nil {
				t.Fatal("New() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPermissionSet(t *testing.T) {
	a := catalog.NewPermissionSet("X", "Y")
	b := catalog.NewPermissionSet("Y", "Z")

	u := a.Union(b)
	if diff := cmp.Diff([]catalog.Permission{"X", "Y", "Z"}, u.Sorted()); diff != "" {
		t.Errorf("Union mismatch (-want +got):\n%s", diff)
	}
	if len(a) != 2 {
		t.Errorf("Union modified receiver: len = %d", len(a))
	}
	if !u.ContainsAll([]catalog.Permission{"X", "Z"}) {
		t.Error("ContainsAll(X, Z) = false, want true")
	}
	if diff := cmp.Diff([]catalog.Permission{"W"}, u.Missing([]catalog.Permission{"W", "X"})); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
	if u.Missing([]catalog.Permission{"X"}) != nil {
		t.Error("Missing should be nil when nothing is missing")
	}
}

func TestScope(t *testing.T) {
	if !catalog.ScopeGlobal.IsBroaderThan(catalog.ScopeOrganization) {
		t.Error("GLOBAL should be broader than ORGANIZATION")
	}
	if !catalog.ScopeOrganization.IsBroaderThan(catalog.ScopeChama) {
		t.Error("ORGANIZATION should be broader than CHAMA")
	}
	if catalog.ScopePersonal.IsBroaderThan(catalog.ScopeChama) {
		t.Error("PERSONAL should not be broader than CHAMA")
	}
	if !catalog.ScopeChama.IsGroupScope() || catalog.ScopeGlobal.IsGroupScope() {
		t.Error("IsGroupScope mismatch")
	}

	s, err := catalog.ParseScope(" organization ")
	if err != nil || s != catalog.ScopeOrganization {
		t.Errorf("ParseScope() = %q, %v", s, err)
	}
	if _, err := catalog.ParseScope("galaxy"); err == nil {
		t.Error("ParseScope(galaxy) should fail")
	}
}
