package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/membership"
)

// Candidate is a principal able to vote on a workflow, with the role that
// grants the right.
type Candidate struct {
	PrincipalID string
	Role        string
}

// ApproverDirectory answers who may vote on a workflow.
type ApproverDirectory interface {
	// Candidates lists the principals holding voting rights for wf's
	// scope and group.
	Candidates(ctx context.Context, wf *Workflow) ([]Candidate, error)

	// RoleOf returns the role principalID holds for wf's scope and group.
	RoleOf(ctx context.Context, wf *Workflow, principalID string) (string, bool, error)
}

// ServiceApprover is a principal whose service role lets it vote in any
// scope. Service roles come from identity claims, so they are configured
// rather than stored.
type ServiceApprover struct {
	PrincipalID string
	Role        catalog.ServiceRole
}

// MembershipDirectory resolves approvers from group memberships plus a
// fixed list of service-level approvers. A role qualifies when the catalog
// grants it APPROVAL_VOTE.
type MembershipDirectory struct {
	catalog  *catalog.Catalog
	store    membership.Store
	services []ServiceApprover
}

// NewMembershipDirectory creates a MembershipDirectory. Service approvers
// whose role lacks APPROVAL_VOTE are ignored.
func NewMembershipDirectory(c *catalog.Catalog, store membership.Store, services ...ServiceApprover) *MembershipDirectory {
	d := &MembershipDirectory{catalog: c, store: store}
	for _, s := range services {
		if c.ServicePermissions(s.Role).Has(catalog.PermApprovalVote) {
			d.services = append(d.services, s)
		}
	}
	return d
}

// Candidates implements ApproverDirectory. For group scopes a principal
// listed both as a member and as a service approver appears once, with its
// group role.
func (d *MembershipDirectory) Candidates(ctx context.Context, wf *Workflow) ([]Candidate, error) {
	var out []Candidate
	seen := make(map[string]struct{})

	if groupID := wf.GroupID(); groupID != "" {
		members, err := d.store.ListActiveByGroup(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("list approvers of %s: %w", groupID, err)
		}
		for _, m := range members {
			if m.Scope != wf.Scope || !d.catalog.GroupPermissions(m.Role).Has(catalog.PermApprovalVote) {
				continue
			}
			seen[m.PrincipalID] = struct{}{}
			out = append(out, Candidate{PrincipalID: m.PrincipalID, Role: string(m.Role)})
		}
	}

	for _, s := range d.services {
		if _, dup := seen[s.PrincipalID]; dup {
			continue
		}
		seen[s.PrincipalID] = struct{}{}
		out = append(out, Candidate{PrincipalID: s.PrincipalID, Role: string(s.Role)})
	}
	return out, nil
}

// RoleOf implements ApproverDirectory. The group role takes precedence over
// a service role.
func (d *MembershipDirectory) RoleOf(ctx context.Context, wf *Workflow, principalID string) (string, bool, error) {
	if groupID := wf.GroupID(); groupID != "" {
		m, err := d.store.FindActive(ctx, principalID, groupID)
		switch {
		case err == nil && m.Scope == wf.Scope:
			return string(m.Role), true, nil
		case err != nil && !errors.Is(err, membership.ErrMembershipNotFound):
			return "", false, err
		}
	}
	for _, s := range d.services {
		if s.PrincipalID == principalID {
			return string(s.Role), true, nil
		}
	}
	return "", false, nil
}
