// Package approval implements the maker-checker workflow that holds back
// operations needing independent approval.
//
// # Workflow State Machine
//
// Valid state transitions:
//   - REQUESTED -> PENDING (immediately, when the threshold is exceeded)
//   - PENDING -> APPROVED (approve votes reach the required count)
//   - PENDING -> REJECTED (any reject vote, or the initiator cancels)
//   - PENDING -> EXPIRED (now >= expiresAt, applied lazily or by the sweeper)
//
// Terminal states (APPROVED, REJECTED, EXPIRED) cannot transition.
//
// Every mutation is a compare-and-swap on the workflow version. The caller
// whose swap moves a workflow to APPROVED is the only one that releases it.
package approval

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"time"

	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/config"
	"github.com/byteness/saccoguard/operation"
)

// WorkflowIDLength is the exact length of workflow IDs (16 hex chars).
const WorkflowIDLength = 16

// Sentinel errors returned by the engine and stores.
var (
	ErrWorkflowNotFound       = errors.New("workflow not found")
	ErrWorkflowExists         = errors.New("workflow already exists")
	ErrWorkflowExpired        = errors.New("workflow expired")
	ErrWorkflowTerminal       = errors.New("workflow already decided")
	ErrDuplicateApproval      = errors.New("approver already voted")
	ErrSelfApprovalNotAllowed = errors.New("initiator may not approve own workflow")
	ErrApproverNotEligible    = errors.New("approver not eligible")
	ErrStaleVersion           = errors.New("stale workflow version")
	ErrInsufficientApprovers  = errors.New("not enough eligible approvers")
	ErrNotInitiator           = errors.New("only the initiator may cancel")
	ErrInvalidDecision        = errors.New("invalid vote decision")
	ErrReleaseFailed          = errors.New("release failed")
	ErrInvalidCursor          = errors.New("invalid list cursor")
)

// Status is the state of a workflow.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
)

// IsValid returns true if the Status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusRequested, StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsTerminal returns true if the status cannot transition.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// String returns the string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// Decision is an approver's vote.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// IsValid returns true if the Decision is a known value.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// RejectionReason records why a workflow ended without approval.
type RejectionReason string

const (
	ReasonVote      RejectionReason = "vote"
	ReasonCancelled RejectionReason = "cancelled"
	ReasonExpired   RejectionReason = "expired"
)

// Vote is one recorded approval decision.
type Vote struct {
	ApproverID string    `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	Timestamp  time.Time `json:"timestamp"`
}

// PolicySnapshot is the part of the maker-checker configuration captured
// when a workflow is created.
type PolicySnapshot struct {
	AllowSelfApproval bool     `json:"allow_self_approval"`
	RequireSameLevel  bool     `json:"require_same_level"`
	ApproverRoles     []string `json:"approver_roles,omitempty"`
}

// snapshot captures p, widened by an operation that allows self-approval.
func snapshot(p config.Policy, op *operation.ServiceOperation) PolicySnapshot {
	return PolicySnapshot{
		AllowSelfApproval: p.AllowSelfApproval || op.AllowSelfApproval,
		RequireSameLevel:  p.RequireSameLevel,
		ApproverRoles:     append([]string(nil), p.ApproverRoles...),
	}
}

// RestrictsApprovers reports whether votes need an eligibility check.
func (p PolicySnapshot) RestrictsApprovers() bool {
	return len(p.ApproverRoles) > 0 || p.RequireSameLevel
}

// Workflow is a pending or decided maker-checker request.
type Workflow struct {
	ID              string                     `json:"id"`
	Service         string                     `json:"service"`
	OperationName   string                     `json:"operation"`
	Category        string                     `json:"category,omitempty"`
	InitiatorID     string                     `json:"initiator_id"`
	InitiatorRole   catalog.ServiceRole        `json:"initiator_role"`
	Scope           catalog.Scope              `json:"scope"`
	OrganizationID  string                     `json:"organization_id,omitempty"`
	ChamaID         string                     `json:"chama_id,omitempty"`
	BusinessContext *operation.BusinessContext `json:"business_context,omitempty"`
	CorrelationID   string                     `json:"correlation_id,omitempty"`

	RequiredApprovers int            `json:"required_approvers"`
	Approvals         []Vote         `json:"approvals"`
	Policy            PolicySnapshot `json:"policy"`

	Status          Status          `json:"status"`
	RejectionReason RejectionReason `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	Version         int64           `json:"version"`
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.BusinessContext = w.BusinessContext.Clone()
	c.Approvals = append([]Vote(nil), w.Approvals...)
	c.Policy.ApproverRoles = append([]string(nil), w.Policy.ApproverRoles...)
	if w.ApprovedAt != nil {
		r := *w.ApprovedAt
		c.ApprovedAt = &r
	}
	return &c
}

// IsExpired reports whether the workflow's deadline has passed at now.
// The boundary is inclusive: a workflow is expired at exactly ExpiresAt.
func (w *Workflow) IsExpired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

// ApproveCount returns the number of APPROVE votes.
func (w *Workflow) ApproveCount() int {
	n := 0
	for _, v := range w.Approvals {
		if v.Decision == DecisionApprove {
			n++
		}
	}
	return n
}

// HasVoted reports whether approverID has already voted.
func (w *Workflow) HasVoted(approverID string) bool {
	for _, v := range w.Approvals {
		if v.ApproverID == approverID {
			return true
		}
	}
	return false
}

// GroupID returns the organization or chama the workflow is bound to.
func (w *Workflow) GroupID() string {
	switch w.Scope {
	case catalog.ScopeOrganization:
		return w.OrganizationID
	case catalog.ScopeChama:
		return w.ChamaID
	}
	return ""
}

// QualifiedOperation returns "service.operation".
func (w *Workflow) QualifiedOperation() string {
	if w.Service == "" {
		return w.OperationName
	}
	return w.Service + "." + w.OperationName
}

var workflowIDRegex = regexp.MustCompile(`^[0-9a-f]{16}$`)

// NewWorkflowID generates a new 16-character lowercase hex workflow ID
// using crypto/rand.
func NewWorkflowID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}

// ValidateWorkflowID checks that id is exactly 16 lowercase hex characters.
func ValidateWorkflowID(id string) bool {
	return workflowIDRegex.MatchString(id)
}
