package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5/pgconn"
)

// Suggestions contains default fix suggestions for each error code.
var Suggestions = map[string]string{
	ErrCodeSSMAccessDenied: "Ensure your IAM policy includes: ssm:GetParameter on the catalog parameter.",
	ErrCodeSSMParameterNotFound: "The SSM parameter does not exist. " +
		"Publish the catalog with: aws ssm put-parameter --name <name> --type SecureString --value file://catalog.yaml",
	ErrCodeSSMKMSAccessDenied: "The SSM parameter is encrypted. " +
		"Ensure your IAM policy includes: kms:Decrypt on the KMS key used for encryption",
	ErrCodeSSMThrottled:         "SSM API rate limit exceeded. Wait a moment and retry.",
	ErrCodeSSMInvalidParameter:  "The SSM parameter name is invalid. Check the path format and characters.",
	ErrCodeDynamoDBAccessDenied: "Ensure your IAM policy includes dynamodb:GetItem, PutItem and Query on the workflow table and its indexes.",
	ErrCodeDynamoDBTableNotFound: "The DynamoDB workflow table does not exist. " +
		"Create it with partition key 'id' and a 'gsi-status' index on 'status' and 'created_at'.",
	ErrCodeDynamoDBThrottled:       "DynamoDB throughput exceeded. Wait a moment and retry, or increase table capacity.",
	ErrCodeDynamoDBConditionFailed: "The DynamoDB conditional check failed. The item may have been modified by another process.",
	ErrCodePostgresUnavailable:     "PostgreSQL is unreachable. Check --database-url and that the server accepts connections.",
	ErrCodePostgresQuery:           "A PostgreSQL query failed. Check that the schema migrations have been applied.",
	ErrCodePermissionDenied:        "The principal lacks the permissions or scope required for this operation.",
	ErrCodeOperationNotFound:       "The operation is not registered. List registered operations with: saccoguard operations list",
	ErrCodeRateLimited:             "Too many authorization requests for this principal. Wait and retry.",
	ErrCodeInvalidIdentity:         "The identity claim is expired, unverified or carries an unknown service role.",
	ErrCodeWorkflowNotFound:        "No approval workflow exists with this ID. List pending workflows with: saccoguard workflows list",
	ErrCodeWorkflowExpired:         "The approval workflow expired. The initiator must submit the operation again.",
	ErrCodeWorkflowTerminal:        "The approval workflow is already approved or rejected and cannot change.",
	ErrCodeDuplicateApproval:       "This approver has already voted on the workflow.",
	ErrCodeSelfApprovalNotAllowed:  "The initiator cannot approve their own request. Ask another eligible approver.",
	ErrCodeApproverNotEligible:     "The approver's role does not qualify under the approval policy for this operation.",
	ErrCodeStaleVersion:            "The workflow changed since it was read. Reload it and vote with the current version.",
	ErrCodeInsufficientApprovers: "Fewer eligible approvers exist than the policy requires. " +
		"Lower min_approvers or add approvers to the group.",
	ErrCodeNotInitiator:   "Only the principal who submitted the operation can cancel its workflow.",
	ErrCodeInvalidRequest: "The request is malformed. Check the decision, scope and group identifiers.",
	ErrCodeReleaseFailed: "The workflow was approved but the held operation did not run. " +
		"Check the service logs; the initiator may have lost the required permissions.",
	ErrCodeConfigInvalid:       "The maker-checker configuration is invalid. Validate it with: saccoguard config validate",
	ErrCodeCatalogCyclic:       "The role catalog has an inheritance cycle. Validate it with: saccoguard catalog validate",
	ErrCodeConfigInvalidRegion: "Invalid AWS region specified. Use a valid region code like us-east-1.",
}

// GetSuggestion returns the default suggestion for an error code.
// Returns empty string if no suggestion is defined.
func GetSuggestion(code string) string {
	return Suggestions[code]
}

// apiErrorText returns a lowercase description of err for classification.
// AWS API error codes are preferred over the message when available.
func apiErrorText(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.ErrorCode() + " " + apiErr.ErrorMessage())
	}
	return strings.ToLower(err.Error())
}

// rule classifies an AWS error by keywords in its lowercased code and
// message. It matches when the text contains one of anyOf and, if alsoAnyOf
// is set, one of those too.
type rule struct {
	code      string
	anyOf     []string
	alsoAnyOf []string
	message   string
}

var (
	accessDeniedWords = []string{"accessdenied", "access denied", "unauthorized", "not authorized", "403"}
	throttledWords    = []string{"throttl", "rate exceeded", "too many requests", "slowdown"}
)

// Rules are tried in order; the first match wins.
var ssmRules = []rule{
	{ErrCodeSSMParameterNotFound, []string{"parameternotfound", "parameter not found", "parameterversionnotfound"}, nil, "SSM parameter not found: %s"},
	{ErrCodeSSMKMSAccessDenied, accessDeniedWords, []string{"kms", "key"}, "KMS access denied for SSM parameter: %s"},
	{ErrCodeSSMAccessDenied, accessDeniedWords, nil, "Access denied to SSM parameter: %s"},
	{ErrCodeSSMThrottled, throttledWords, nil, "SSM API throttled while accessing: %s"},
	{ErrCodeSSMInvalidParameter, []string{"validation", "invalid parameter"}, nil, "Invalid SSM parameter: %s"},
}

var dynamoDBRules = []rule{
	{ErrCodeDynamoDBTableNotFound, []string{"resourcenotfound", "resource not found", "table not found", "non-existent table"}, nil, "DynamoDB table not found: %s"},
	{ErrCodeDynamoDBAccessDenied, accessDeniedWords, nil, "Access denied to DynamoDB table: %s"},
	{ErrCodeDynamoDBThrottled, append([]string{"provisionedthroughputexceeded", "throughput exceeded", "capacity"}, throttledWords...), nil, "DynamoDB throughput exceeded for table: %s"},
	{ErrCodeDynamoDBConditionFailed, []string{"conditionalcheckfailed", "conditional check failed", "condition expression"}, nil, "DynamoDB conditional check failed for table: %s"},
}

func (r rule) matches(text string) bool {
	return containsAny(text, r.anyOf) && (r.alsoAnyOf == nil || containsAny(text, r.alsoAnyOf))
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// classify returns the first matching rule, or nil.
func classify(err error, rules []rule) *rule {
	text := apiErrorText(err)
	for i := range rules {
		if rules[i].matches(text) {
			return &rules[i]
		}
	}
	return nil
}

// WrapSSMError classifies an SSM failure for the given parameter. Unmatched
// errors are reported as access problems.
func WrapSSMError(err error, parameter string) GuardError {
	if err == nil {
		return nil
	}
	var ge GuardError
	if r := classify(err, ssmRules); r != nil {
		ge = New(r.code, fmt.Sprintf(r.message, parameter), Suggestions[r.code], err)
	} else {
		ge = New(ErrCodeSSMAccessDenied,
			fmt.Sprintf("SSM error for parameter %s: %v", parameter, err),
			"Check your AWS credentials and SSM permissions", err)
	}
	return WithContext(ge, "parameter", parameter)
}

// WrapDynamoDBError classifies a DynamoDB failure on table during operation.
func WrapDynamoDBError(err error, table, operation string) GuardError {
	if err == nil {
		return nil
	}
	var ge GuardError
	if r := classify(err, dynamoDBRules); r != nil {
		ge = New(r.code, fmt.Sprintf(r.message, table), Suggestions[r.code], err)
	} else {
		ge = New(ErrCodeDynamoDBAccessDenied,
			fmt.Sprintf("DynamoDB error for table %s during %s: %v", table, operation, err),
			"Check your AWS credentials and DynamoDB permissions", err)
	}
	ge = WithContext(ge, "table", table)
	return WithContext(ge, "operation", operation)
}

// WrapPostgresError examines a PostgreSQL error and returns a GuardError.
// Connection-class SQLSTATEs (08xxx) and dial failures map to
// POSTGRES_UNAVAILABLE; everything else maps to POSTGRES_QUERY_FAILED.
func WrapPostgresError(err error, table, operation string) GuardError {
	if err == nil {
		return nil
	}

	code := ErrCodePostgresQuery
	message := fmt.Sprintf("PostgreSQL error on %s during %s: %v", table, operation, err)

	var pgErr *pgconn.PgError
	var connErr *pgconn.ConnectError
	switch {
	case errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08"):
		code = ErrCodePostgresUnavailable
	case errors.As(err, &connErr):
		code = ErrCodePostgresUnavailable
		message = fmt.Sprintf("PostgreSQL unreachable during %s: %v", operation, err)
	}

	ge := New(code, message, Suggestions[code], err)
	ge = WithContext(ge, "table", table)
	ge = WithContext(ge, "operation", operation)
	if pgErr != nil {
		ge = WithContext(ge, "sqlstate", pgErr.Code)
	}
	return ge
}

// NewPermissionDeniedError creates a GuardError for an authorization denial.
// The missing permissions are listed only for the principal the decision
// concerns; callers must not surface them to anyone else.
func NewPermissionDeniedError(principal, operation, reason string, missing []string) GuardError {
	message := fmt.Sprintf("Permission denied for %s on %s: %s", principal, operation, reason)
	suggestion := Suggestions[ErrCodePermissionDenied]
	if len(missing) > 0 {
		suggestion += "\n\nMissing permissions:\n- " + strings.Join(missing, "\n- ")
	}

	ge := New(ErrCodePermissionDenied, message, suggestion, nil)
	ge = WithContext(ge, "principal", principal)
	ge = WithContext(ge, "operation", operation)
	return WithContext(ge, "reason", reason)
}
