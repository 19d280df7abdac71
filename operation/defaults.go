package operation

import (
	"time"

	"github.com/byteness/saccoguard/catalog"
)

// Service names used by the default registry.
const (
	ServiceShares        = "shares"
	ServiceOrganizations = "organizations"
	ServiceChamas        = "chamas"
	ServiceWallets       = "wallets"
	ServiceMembers       = "members"
	ServiceApprovals     = "approvals"
)

// Threshold categories referenced by the default operations.
const (
	CategoryWithdrawal     = "withdrawal"
	CategoryShareTransfer  = "share_transfer"
	CategoryMembershipEdit = "membership_change"
)

// Operation names of the approvals service.
const (
	OpApprovalVote = "vote"
	OpApprovalRead = "read"
)

var groupScopes = []catalog.Scope{catalog.ScopeOrganization, catalog.ScopeChama}

// DefaultOperations returns a Builder preloaded with the SACCO operations.
func DefaultOperations() *Builder {
	withdrawRetry := &RetryPolicy{MaxAttempts: 3, Backoff: 500 * time.Millisecond}

	return NewBuilder().
		Register(ServiceShares,
			ServiceOperation{
				Name:                "purchase",
				RequiredPermissions: []catalog.Permission{catalog.PermSharesPurchase},
				AllowedScopes:       []catalog.Scope{catalog.ScopePersonal, catalog.ScopeOrganization},
				RiskLevel:           RiskMedium,
				AuditLevel:          AuditBasic,
			},
			ServiceOperation{
				Name:                "transfer",
				Category:            CategoryShareTransfer,
				RequiredPermissions: []catalog.Permission{catalog.PermSharesTransfer},
				AllowedScopes:       []catalog.Scope{catalog.ScopePersonal, catalog.ScopeOrganization},
				RiskLevel:           RiskHigh,
				AuditLevel:          AuditDetailed,
				RequiresApproval:    true,
			},
			ServiceOperation{
				Name:                "offer",
				RequiredPermissions: []catalog.Permission{catalog.PermSharesOffer},
				AllowedScopes:       []catalog.Scope{catalog.ScopeGlobal, catalog.ScopeOrganization},
				RiskLevel:           RiskHigh,
				AuditLevel:          AuditDetailed,
			},
		).
		Register(ServiceOrganizations,
			ServiceOperation{
				Name:                "update",
				RequiredPermissions: []catalog.Permission{catalog.PermOrgUpdate},
				AllowedScopes:       []catalog.Scope{catalog.ScopeOrganization},
				RiskLevel:           RiskMedium,
				AuditLevel:          AuditBasic,
			},
			ServiceOperation{
				Name:                "invite_members",
				RequiredPermissions: []catalog.Permission{catalog.PermOrgInvite},
				AllowedScopes:       []catalog.Scope{catalog.ScopeOrganization},
				RiskLevel:           RiskLow,
				AuditLevel:          AuditBasic,
			},
			ServiceOperation{
				Name:                "remove_member",
				Category:            CategoryMembershipEdit,
				RequiredPermissions: []catalog.Permission{catalog.PermOrgRemoveMember},
				AllowedScopes:       []catalog.Scope{catalog.ScopeOrganization},
				RiskLevel:           RiskHigh,
				AuditLevel:          AuditDetailed,
				RequiresApproval:    true,
			},
			ServiceOperation{
				Name:                "withdraw",
				Category:            CategoryWithdrawal,
				RequiredPermissions: []catalog.Permission{catalog.PermOrgWithdraw},
				AllowedScopes:       []catalog.Scope{catalog.ScopeOrganization},
				RiskLevel:           RiskCritical,
				AuditLevel:          AuditDetailed,
				RequiresApproval:    true,
				Timeout:             30 * time.Second,
				RetryPolicy:         withdrawRetry,
			},
		).
		Register(ServiceChamas,
			ServiceOperation{
				Name:                "withdraw",
				Category:            CategoryWithdrawal,
				RequiredPermissions: []catalog.Permission{catalog.PermChamaWithdraw},
				AllowedScopes:       []catalog.Scope{catalog.ScopeChama},
				RiskLevel:           RiskCritical,
				AuditLevel:          AuditDetailed,
				RequiresApproval:    true,
				Timeout:             30 * time.Second,
				RetryPolicy:         withdrawRetry,
			},
			ServiceOperation{
				Name:                "update",
				RequiredPermissions: []catalog.Permission{catalog.PermChamaUpdate},
				AllowedScopes:       []catalog.Scope{catalog.ScopeChama},
				RiskLevel:           RiskMedium,
				AuditLevel:          AuditBasic,
			},
			ServiceOperation{
				Name:                "invite_members",
				RequiredPermissions: []catalog.Permission{catalog.PermChamaInvite},
				AllowedScopes:       []catalog.Scope{catalog.ScopeChama},
				RiskLevel:           RiskLow,
				AuditLevel:          AuditBasic,
			},
		).
		Register(ServiceWallets,
			ServiceOperation{
				Name:                "withdraw",
				Category:            CategoryWithdrawal,
				RequiredPermissions: []catalog.Permission{catalog.PermWalletWithdraw},
				AllowedScopes:       []catalog.Scope{catalog.ScopePersonal},
				RiskLevel:           RiskHigh,
				AuditLevel:          AuditDetailed,
				RequiresApproval:    true,
				Timeout:             30 * time.Second,
			},
			ServiceOperation{
				Name:                "deposit",
				RequiredPermissions: []catalog.Permission{catalog.PermWalletDeposit},
				AllowedScopes:       []catalog.Scope{catalog.ScopePersonal},
				RiskLevel:           RiskLow,
				AuditLevel:          AuditBasic,
			},
		).
		Register(ServiceMembers,
			ServiceOperation{
				Name:                "read",
				RequiredPermissions: []catalog.Permission{catalog.PermMemberRead},
				AllowedScopes:       []catalog.Scope{catalog.ScopeGlobal, catalog.ScopeOrganization, catalog.ScopeChama},
				RiskLevel:           RiskLow,
				AuditLevel:          AuditNone,
			},
			ServiceOperation{
				Name:                "update",
				RequiredPermissions: []catalog.Permission{catalog.PermMemberUpdate},
				AllowedScopes:       []catalog.Scope{catalog.ScopeGlobal},
				RiskLevel:           RiskMedium,
				AuditLevel:          AuditBasic,
			},
		).
		Register(ServiceApprovals,
			ServiceOperation{
				Name:                OpApprovalVote,
				RequiredPermissions: []catalog.Permission{catalog.PermApprovalVote},
				AllowedScopes:       []catalog.Scope{catalog.ScopeGlobal, catalog.ScopeOrganization, catalog.ScopeChama, catalog.ScopePersonal},
				RiskLevel:           RiskHigh,
				AuditLevel:          AuditDetailed,
			},
			ServiceOperation{
				Name:                OpApprovalRead,
				RequiredPermissions: []catalog.Permission{catalog.PermApprovalRead},
				AllowedScopes:       append([]catalog.Scope{catalog.ScopeGlobal}, groupScopes...),
				RiskLevel:           RiskLow,
				AuditLevel:          AuditNone,
			},
		)
}

// DefaultRegistry builds the default operations against c.
func DefaultRegistry(c *catalog.Catalog) (*Registry, error) {
	return DefaultOperations().Build(c)
}
