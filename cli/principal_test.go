package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/identity"
	"github.com/byteness/saccoguard/testutil"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func mintToken(t *testing.T, subject, role string) string {
	t.Helper()
	var stdout bytes.Buffer
	err := TokenCommand(context.Background(), TokenCommandInput{
		Subject:     subject,
		ServiceRole: role,
		Email:       subject + "@example.com",
		TTL:         "1h",
		Secret:      testJWTSecret,
		Stdout:      &stdout,
	})
	testutil.AssertNoError(t, err)
	return strings.TrimSpace(stdout.String())
}

func TestTokenCommand_RoundTrip(t *testing.T) {
	token := mintToken(t, "bob", "ADMIN")

	v, err := identity.NewHS256Verifier(testJWTSecret)
	testutil.AssertNoError(t, err)
	claims, err := v.Verify(context.Background(), token)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, claims.Subject, "bob")
	testutil.AssertEqual(t, claims.ServiceRoleClaim, "ADMIN")
	testutil.AssertEqual(t, claims.Email, "bob@example.com")
	testutil.AssertEqual(t, claims.EmailVerified, true)
}

func TestTokenCommand_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input TokenCommandInput
	}{
		{name: "missing secret", input: TokenCommandInput{Subject: "bob", ServiceRole: "MEMBER", TTL: "1h"}},
		{name: "invalid ttl", input: TokenCommandInput{Subject: "bob", ServiceRole: "MEMBER", TTL: "soon", Secret: testJWTSecret}},
		{name: "zero ttl", input: TokenCommandInput{Subject: "bob", ServiceRole: "MEMBER", TTL: "0d", Secret: testJWTSecret}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.Stdout = &bytes.Buffer{}
			if err := TokenCommand(context.Background(), tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSaccoguardPrincipal(t *testing.T) {
	env := newTestEnv(t, RuntimeOptions{})
	ctx := context.Background()

	t.Run("from token", func(t *testing.T) {
		s := &Saccoguard{JWTSecret: testJWTSecret, Token: mintToken(t, "bob", "MEMBER")}
		p, err := s.Principal(ctx, env.rt)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, p.ID, "bob")
		role, ok := p.GroupRole("org-1", catalog.ScopeOrganization)
		testutil.AssertEqual(t, ok, true)
		testutil.AssertEqual(t, role, catalog.RoleOrgAdmin)
	})

	t.Run("from --as", func(t *testing.T) {
		s := &Saccoguard{As: "erin", ServiceRole: "MEMBER"}
		p, err := s.Principal(ctx, env.rt)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, p.ServiceRole, catalog.RoleMember)
		testutil.AssertEqual(t, len(p.Memberships), 1)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		s := &Saccoguard{JWTSecret: "another-secret-another-secret-xx", Token: mintToken(t, "bob", "MEMBER")}
		_, err := s.Principal(ctx, env.rt)
		testutil.AssertErrorIs(t, err, identity.ErrInvalidClaims)
	})

	t.Run("unknown service role", func(t *testing.T) {
		s := &Saccoguard{As: "erin", ServiceRole: "OVERLORD"}
		_, err := s.Principal(ctx, env.rt)
		testutil.AssertErrorIs(t, err, identity.ErrUnknownServiceRole)
	})

	t.Run("no identity", func(t *testing.T) {
		s := &Saccoguard{}
		_, err := s.Principal(ctx, env.rt)
		testutil.AssertErrorIs(t, err, identity.ErrInvalidClaims)
	})
}
