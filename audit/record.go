// Package audit records every authorization decision and approval
// workflow transition as an append-only stream.
//
// Sinks never fail the caller: a sink that cannot deliver a record reports
// the problem on stderr and drops it, so that authorization is not blocked
// by an unavailable log destination.
package audit

import (
	"context"
	"time"

	"github.com/byteness/saccoguard/catalog"
)

// Decision is the kind of event an audit record captures.
type Decision string

const (
	DecisionGrant           Decision = "GRANT"
	DecisionDeny            Decision = "DENY"
	DecisionWorkflowCreated Decision = "WORKFLOW_CREATED"
	DecisionApproved        Decision = "APPROVED"
	DecisionRejected        Decision = "REJECTED"
	DecisionExpired         Decision = "EXPIRED"
)

// IsValid returns true if the Decision is a known value.
func (d Decision) IsValid() bool {
	switch d {
	case DecisionGrant, DecisionDeny, DecisionWorkflowCreated, DecisionApproved, DecisionRejected, DecisionExpired:
		return true
	}
	return false
}

// String returns the string representation of the Decision.
func (d Decision) String() string {
	return string(d)
}

// Record is one audit event.
type Record struct {
	CorrelationID string            `json:"correlation_id"`
	PrincipalID   string            `json:"principal_id"`
	OperationName string            `json:"operation"`
	Scope         catalog.Scope     `json:"scope"`
	Decision      Decision          `json:"decision"`
	WorkflowID    string            `json:"workflow_id,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Details       map[string]string `json:"details,omitempty"`
}

// Sink accepts audit records.
type Sink interface {
	Record(ctx context.Context, rec Record)
}
