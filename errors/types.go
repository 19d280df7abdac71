// Package errors provides coded error types with fix suggestions for
// saccoguard. Coded errors wrap storage and AWS failures and give operators
// actionable guidance, and carry the engine's error codes for CLI output.
package errors

// GuardError provides additional context for error handling.
// It wraps underlying errors with error codes and actionable suggestions.
type GuardError interface {
	error
	Unwrap() error              // Original error
	Code() string               // Error code (e.g., "DYNAMODB_TABLE_NOT_FOUND")
	Suggestion() string         // Actionable fix suggestion
	Context() map[string]string // Additional context (table, workflow, etc.)
}

// SSM error codes
const (
	ErrCodeSSMAccessDenied      = "SSM_ACCESS_DENIED"
	ErrCodeSSMParameterNotFound = "SSM_PARAMETER_NOT_FOUND"
	ErrCodeSSMKMSAccessDenied   = "SSM_KMS_ACCESS_DENIED"
	ErrCodeSSMThrottled         = "SSM_THROTTLED"
	ErrCodeSSMInvalidParameter  = "SSM_INVALID_PARAMETER"
)

// DynamoDB error codes
const (
	ErrCodeDynamoDBAccessDenied    = "DYNAMODB_ACCESS_DENIED"
	ErrCodeDynamoDBTableNotFound   = "DYNAMODB_TABLE_NOT_FOUND"
	ErrCodeDynamoDBThrottled       = "DYNAMODB_THROTTLED"
	ErrCodeDynamoDBConditionFailed = "DYNAMODB_CONDITION_FAILED"
)

// PostgreSQL error codes
const (
	ErrCodePostgresUnavailable = "POSTGRES_UNAVAILABLE"
	ErrCodePostgresQuery       = "POSTGRES_QUERY_FAILED"
)

// Authorization error codes
const (
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeOperationNotFound = "OPERATION_NOT_FOUND"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInvalidIdentity   = "INVALID_IDENTITY"
)

// Approval workflow error codes
const (
	ErrCodeWorkflowNotFound       = "WORKFLOW_NOT_FOUND"
	ErrCodeWorkflowExpired        = "WORKFLOW_EXPIRED"
	ErrCodeWorkflowTerminal       = "WORKFLOW_TERMINAL"
	ErrCodeDuplicateApproval      = "DUPLICATE_APPROVAL"
	ErrCodeSelfApprovalNotAllowed = "SELF_APPROVAL_NOT_ALLOWED"
	ErrCodeApproverNotEligible    = "APPROVER_NOT_ELIGIBLE"
	ErrCodeStaleVersion           = "STALE_VERSION"
	ErrCodeInsufficientApprovers  = "INSUFFICIENT_APPROVERS"
	ErrCodeNotInitiator           = "NOT_INITIATOR"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeReleaseFailed          = "RELEASE_FAILED"
)

// Config error codes
const (
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeCatalogCyclic       = "CATALOG_CYCLIC_HIERARCHY"
	ErrCodeConfigInvalidRegion = "CONFIG_INVALID_REGION"
)

// guardError implements the GuardError interface.
type guardError struct {
	code       string
	message    string
	suggestion string
	context    map[string]string
	cause      error
}

// Error implements the error interface.
func (e *guardError) Error() string {
	return e.message
}

// Unwrap returns the underlying cause error.
func (e *guardError) Unwrap() error {
	return e.cause
}

// Code returns the error code.
func (e *guardError) Code() string {
	return e.code
}

// Suggestion returns the actionable fix suggestion.
func (e *guardError) Suggestion() string {
	return e.suggestion
}

// Context returns additional context about the error.
func (e *guardError) Context() map[string]string {
	return e.context
}

// New creates a new GuardError with the given code, message, suggestion, and cause.
func New(code, message, suggestion string, cause error) GuardError {
	return &guardError{
		code:       code,
		message:    message,
		suggestion: suggestion,
		context:    make(map[string]string),
		cause:      cause,
	}
}

// WithContext adds context to an error and returns a new GuardError.
// The original error is not modified.
func WithContext(err GuardError, key, value string) GuardError {
	existingCtx := err.Context()
	newCtx := make(map[string]string, len(existingCtx)+1)
	for k, v := range existingCtx {
		newCtx[k] = v
	}
	newCtx[key] = value

	return &guardError{
		code:       err.Code(),
		message:    err.Error(),
		suggestion: err.Suggestion(),
		context:    newCtx,
		cause:      err.Unwrap(),
	}
}

// IsGuardError checks if err is a GuardError and returns it.
// If err is nil or not a GuardError, returns (nil, false).
func IsGuardError(err error) (GuardError, bool) {
	if err == nil {
		return nil, false
	}
	if ge, ok := err.(GuardError); ok {
		return ge, true
	}
	return nil, false
}

// GetCode extracts the error code from an error.
// Returns empty string if err is not a GuardError.
func GetCode(err error) string {
	if ge, ok := IsGuardError(err); ok {
		return ge.Code()
	}
	return ""
}
