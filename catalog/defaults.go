package catalog

// Permissions declared by the default catalog.
const (
	PermServiceManage   Permission = "SERVICE_MANAGE"
	PermAuditRead       Permission = "AUDIT_READ"
	PermUserManage      Permission = "USER_MANAGE"
	PermOrgCreate       Permission = "ORG_CREATE"
	PermOrgRead         Permission = "ORG_READ"
	PermOrgUpdate       Permission = "ORG_UPDATE"
	PermOrgInvite       Permission = "ORG_INVITE"
	PermOrgRemoveMember Permission = "ORG_REMOVE_MEMBER"
	PermOrgWithdraw     Permission = "ORG_WITHDRAW"
	PermChamaCreate     Permission = "CHAMA_CREATE"
	PermChamaRead       Permission = "CHAMA_READ"
	PermChamaUpdate     Permission = "CHAMA_UPDATE"
	PermChamaInvite     Permission = "CHAMA_INVITE"
	PermChamaContribute Permission = "CHAMA_CONTRIBUTE"
	PermChamaWithdraw   Permission = "CHAMA_WITHDRAW"
	PermSharesRead      Permission = "SHARES_READ"
	PermSharesPurchase  Permission = "SHARES_PURCHASE"
	PermSharesTransfer  Permission = "SHARES_TRANSFER"
	PermSharesOffer     Permission = "SHARES_OFFER"
	PermWalletRead      Permission = "WALLET_READ"
	PermWalletDeposit   Permission = "WALLET_DEPOSIT"
	PermWalletWithdraw  Permission = "WALLET_WITHDRAW"
	PermMemberRead      Permission = "MEMBER_READ"
	PermMemberUpdate    Permission = "MEMBER_UPDATE"
	PermApprovalVote    Permission = "APPROVAL_VOTE"
	PermApprovalRead    Permission = "APPROVAL_READ"
)

// Roles declared by the default catalog.
const (
	RoleSuperAdmin ServiceRole = "SUPER_ADMIN"
	RoleAdmin      ServiceRole = "ADMIN"
	RoleMember     ServiceRole = "MEMBER"

	RoleOrgAdmin       GroupRole = "ORG_ADMIN"
	RoleOrgMember      GroupRole = "ORG_MEMBER"
	RoleChamaAdmin     GroupRole = "CHAMA_ADMIN"
	RoleChamaTreasurer GroupRole = "CHAMA_TREASURER"
	RoleChamaMember    GroupRole = "CHAMA_MEMBER"
)

// DefaultDefinition returns the built-in SACCO role table.
func DefaultDefinition() *Definition {
	return &Definition{
		Version: "1",
		Permissions: []Permission{
			PermServiceManage, PermAuditRead, PermUserManage,
			PermOrgCreate, PermOrgRead, PermOrgUpdate, PermOrgInvite, PermOrgRemoveMember, PermOrgWithdraw,
			PermChamaCreate, PermChamaRead, PermChamaUpdate, PermChamaInvite, PermChamaContribute, PermChamaWithdraw,
			PermSharesRead, PermSharesPurchase, PermSharesTransfer, PermSharesOffer,
			PermWalletRead, PermWalletDeposit, PermWalletWithdraw,
			PermMemberRead, PermMemberUpdate,
			PermApprovalVote, PermApprovalRead,
		},
		ServiceRoles: []RoleDefinition{
			{
				Name: string(RoleMember),
				Permissions: []Permission{
					PermOrgCreate, PermChamaCreate,
					PermSharesRead, PermSharesPurchase, PermSharesTransfer,
					PermWalletRead, PermWalletDeposit, PermWalletWithdraw,
				},
			},
			{
				Name:        string(RoleAdmin),
				Permissions: []Permission{PermAuditRead, PermUserManage, PermMemberRead, PermMemberUpdate, PermOrgRead, PermChamaRead, PermApprovalRead},
				Inherits:    []string{string(RoleMember)},
			},
			{
				Name:        string(RoleSuperAdmin),
				Permissions: []Permission{PermServiceManage, PermApprovalVote, PermSharesOffer},
				Inherits:    []string{string(RoleAdmin)},
			},
		},
		GroupRoles: []RoleDefinition{
			{
				Name:        string(RoleOrgMember),
				Permissions: []Permission{PermOrgRead, PermMemberRead, PermApprovalRead},
			},
			{
				Name:        string(RoleOrgAdmin),
				Permissions: []Permission{PermOrgUpdate, PermOrgInvite, PermOrgRemoveMember, PermOrgWithdraw, PermApprovalVote, PermSharesOffer},
				Inherits:    []string{string(RoleOrgMember)},
			},
			{
				Name:        string(RoleChamaMember),
				Permissions: []Permission{PermChamaRead, PermChamaContribute, PermMemberRead, PermApprovalRead},
			},
			{
				Name:        string(RoleChamaTreasurer),
				Permissions: []Permission{PermChamaWithdraw, PermApprovalVote},
				Inherits:    []string{string(RoleChamaMember)},
			},
			{
				Name:        string(RoleChamaAdmin),
				Permissions: []Permission{PermChamaUpdate, PermChamaInvite, PermChamaWithdraw, PermApprovalVote},
				Inherits:    []string{string(RoleChamaMember)},
			},
		},
	}
}

// Default returns the built-in catalog. It panics if the built-in table is invalid.
func Default() *Catalog {
	c, err := New(DefaultDefinition())
	if err != nil {
		panic(err)
	}
	return c
}
