package cli

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/byteness/saccoguard/approval"
	"github.com/byteness/saccoguard/catalog"
	guarderrors "github.com/byteness/saccoguard/errors"
	"github.com/byteness/saccoguard/identity"
	"github.com/byteness/saccoguard/membership"
	"github.com/byteness/saccoguard/notification"
	"github.com/byteness/saccoguard/testutil"
	"github.com/google/go-cmp/cmp"
)

type testEnv struct {
	rt      *Runtime
	members *membership.MemoryStore
	clock   *testutil.FakeClock
}

func newTestEnv(t *testing.T, opts RuntimeOptions) *testEnv {
	t.Helper()
	env := &testEnv{
		members: testutil.SeedMemberships(t,
			testutil.OrgMember("alice", "org-1", catalog.RoleOrgAdmin),
			testutil.OrgMember("bob", "org-1", catalog.RoleOrgAdmin),
			testutil.OrgMember("carol", "org-1", catalog.RoleOrgAdmin),
			testutil.OrgMember("erin", "org-1", catalog.RoleOrgMember),
		),
		clock: testutil.NewFakeClock(testutil.Epoch),
	}
	opts.Memberships = env.members
	opts.Clock = env.clock.Now

	rt, err := NewRuntime(opts)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	t.Cleanup(rt.Close)
	env.rt = rt
	return env
}

func (e *testEnv) principal(t *testing.T, id string) *identity.Principal {
	return testutil.LoadPrincipal(t, e.members, id, catalog.RoleMember)
}

func TestNewRuntime_Defaults(t *testing.T) {
	rt, err := NewRuntime(RuntimeOptions{})
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	defer rt.Close()

	if rt.Catalog == nil || rt.Config == nil || rt.Registry == nil || rt.Guard == nil || rt.Builder == nil {
		t.Fatalf("NewRuntime() left collaborators unset: %+v", rt)
	}
	if _, ok := rt.Workflows.(*approval.MemoryStore); !ok {
		t.Errorf("Workflows = %T, want *approval.MemoryStore", rt.Workflows)
	}
	if _, err := rt.Registry.Lookup("organizations", "withdraw"); err != nil {
		t.Errorf("Lookup(organizations.withdraw) error = %v", err)
	}
}

func TestNewRuntime_NotifierReceivesWorkflowEvents(t *testing.T) {
	var created atomic.Int64
	env := newTestEnv(t, RuntimeOptions{
		Notifier: notification.NotifierFunc(func(_ context.Context, e *notification.Event) error {
			if e.Type == notification.EventWorkflowCreated {
				created.Add(1)
			}
			return nil
		}),
	})

	out, err := AuthorizeCommand(context.Background(), AuthorizeCommandInput{
		Operation:      "organizations.withdraw",
		Scope:          "organization",
		OrganizationID: "org-1",
		Amount:         75000,
		Currency:       "KES",
		Output:         OutputJSON,
		Runtime:        env.rt,
		Principal:      env.principal(t, "alice"),
		Stdout:         io.Discard,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, string(out.Status), "PENDING_APPROVAL")

	env.rt.Close()
	testutil.AssertEqual(t, created.Load(), int64(1))
}

func TestParseServiceApprovers(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    []approval.ServiceApprover
		wantErr bool
	}{
		{
			name:  "empty",
			input: nil,
			want:  []approval.ServiceApprover{},
		},
		{
			name:  "uppercases role",
			input: []string{"ops-1:admin", "root:SUPER_ADMIN"},
			want: []approval.ServiceApprover{
				{PrincipalID: "ops-1", Role: catalog.RoleAdmin},
				{PrincipalID: "root", Role: catalog.RoleSuperAdmin},
			},
		},
		{name: "missing separator", input: []string{"ops-1"}, wantErr: true},
		{name: "missing role", input: []string{"ops-1:"}, wantErr: true},
		{name: "missing subject", input: []string{":ADMIN"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseServiceApprovers(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			testutil.AssertNoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseServiceApprovers() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseMemberships(t *testing.T) {
	data := []byte(`
- principal: alice
  group: org-1
  type: Organization
  role: org_admin
- principal: dave
  group: chama-1
  type: chama
  role: CHAMA_TREASURER
`)
	joined := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store, err := ParseMemberships(data, joined)
	testutil.AssertNoError(t, err)

	ctx := context.Background()
	m, err := store.FindActive(ctx, "alice", "org-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, m.GroupType, membership.GroupOrganization)
	testutil.AssertEqual(t, m.Role, catalog.RoleOrgAdmin)
	testutil.AssertEqual(t, m.Scope, catalog.ScopeOrganization)
	testutil.AssertEqual(t, m.JoinedAt, joined)

	m, err = store.FindActive(ctx, "dave", "chama-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, m.Role, catalog.RoleChamaTreasurer)
	testutil.AssertEqual(t, m.Scope, catalog.ScopeChama)
}

func TestParseMemberships_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "invalid yaml", data: "- principal: [unclosed"},
		{name: "unknown group type", data: "- {principal: a, group: g, type: club, role: X}"},
		{name: "duplicate active membership", data: "- {principal: a, group: g, type: chama, role: CHAMA_MEMBER}\n- {principal: a, group: g, type: chama, role: CHAMA_ADMIN}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMemberships([]byte(tt.data), testutil.Epoch); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAWSConfig_InvalidRegion(t *testing.T) {
	s := &Saccoguard{Region: "Mars-North"}
	_, err := s.AWSConfig(context.Background())
	ge, ok := guarderrors.IsGuardError(err)
	if !ok {
		t.Fatalf("error = %v, want a guard error", err)
	}
	testutil.AssertEqual(t, ge.Code(), guarderrors.ErrCodeConfigInvalidRegion)
}

func TestSaccoguardNotifier(t *testing.T) {
	ctx := context.Background()

	n, err := (&Saccoguard{}).notifier(ctx)
	testutil.AssertNoError(t, err)
	if n != nil {
		t.Errorf("notifier without backends = %T, want nil", n)
	}

	n, err = (&Saccoguard{WebhookURL: "https://hooks.example.com/sacco"}).notifier(ctx)
	testutil.AssertNoError(t, err)
	if _, ok := n.(*notification.MultiNotifier); !ok {
		t.Errorf("notifier = %T, want *notification.MultiNotifier", n)
	}

	n, err = (&Saccoguard{
		WebhookURL:   "https://hooks.example.com/sacco",
		NotifyEvents: []string{"workflow.approved"},
	}).notifier(ctx)
	testutil.AssertNoError(t, err)
	if _, ok := n.(*notification.Filter); !ok {
		t.Errorf("notifier = %T, want *notification.Filter", n)
	}

	_, err = (&Saccoguard{
		WebhookURL:   "https://hooks.example.com/sacco",
		NotifyEvents: []string{"request.created"},
	}).notifier(ctx)
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
	testutil.AssertContains(t, err.Error(), "--notify-event")
}
