package guard

import (
	"errors"

	"github.com/byteness/saccoguard/approval"
	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/config"
	guarderrors "github.com/byteness/saccoguard/errors"
	"github.com/byteness/saccoguard/identity"
	"github.com/byteness/saccoguard/operation"
	"github.com/byteness/saccoguard/ratelimit"
)

// codes maps sentinel errors to error codes. Order matters: a failed
// release may also wrap the denial that caused it.
var codes = []struct {
	target error
	code   string
}{
	{approval.ErrReleaseFailed, guarderrors.ErrCodeReleaseFailed},
	{ErrPermissionDenied, guarderrors.ErrCodePermissionDenied},
	{ErrReleaseDenied, guarderrors.ErrCodePermissionDenied},
	{approval.ErrWorkflowNotFound, guarderrors.ErrCodeWorkflowNotFound},
	{approval.ErrWorkflowExpired, guarderrors.ErrCodeWorkflowExpired},
	{approval.ErrWorkflowTerminal, guarderrors.ErrCodeWorkflowTerminal},
	{approval.ErrDuplicateApproval, guarderrors.ErrCodeDuplicateApproval},
	{approval.ErrSelfApprovalNotAllowed, guarderrors.ErrCodeSelfApprovalNotAllowed},
	{approval.ErrApproverNotEligible, guarderrors.ErrCodeApproverNotEligible},
	{approval.ErrStaleVersion, guarderrors.ErrCodeStaleVersion},
	{approval.ErrInsufficientApprovers, guarderrors.ErrCodeInsufficientApprovers},
	{approval.ErrNotInitiator, guarderrors.ErrCodeNotInitiator},
	{approval.ErrInvalidDecision, guarderrors.ErrCodeInvalidRequest},
	{operation.ErrOperationNotFound, guarderrors.ErrCodeOperationNotFound},
	{ratelimit.ErrRateLimited, guarderrors.ErrCodeRateLimited},
	{identity.ErrInvalidClaims, guarderrors.ErrCodeInvalidIdentity},
	{identity.ErrClaimsExpired, guarderrors.ErrCodeInvalidIdentity},
	{identity.ErrEmailNotVerified, guarderrors.ErrCodeInvalidIdentity},
	{identity.ErrUnknownServiceRole, guarderrors.ErrCodeInvalidIdentity},
	{config.ErrInvalidConfig, guarderrors.ErrCodeConfigInvalid},
	{catalog.ErrCyclicHierarchy, guarderrors.ErrCodeCatalogCyclic},
	{catalog.ErrCatalogNotFound, guarderrors.ErrCodeSSMParameterNotFound},
}

// Classify converts an error returned by this module into a GuardError
// carrying its code and suggestion. Known sentinels take precedence; failing
// that, a GuardError in the chain is returned as is. It returns false for
// errors it does not recognise.
func Classify(err error) (guarderrors.GuardError, bool) {
	if err == nil {
		return nil, false
	}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			return guarderrors.New(c.code, err.Error(), guarderrors.GetSuggestion(c.code), err), true
		}
	}
	var ge guarderrors.GuardError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
