// Package notification delivers maker-checker workflow lifecycle events to
// external systems.
//
// # Event Types
//
// Events are emitted when a workflow changes state:
//   - workflow.created: an operation was held back for approval
//   - workflow.approved: the approval quorum was reached
//   - workflow.rejected: an approver voted REJECT
//   - workflow.expired: a pending workflow timed out
//   - workflow.cancelled: the initiator withdrew the workflow
//
// # Notification Delivery
//
// The Notifier interface allows pluggable backends. SNSNotifier publishes
// to an SNS topic, WebhookNotifier POSTs JSON to an HTTP endpoint and
// MultiNotifier fans out to several backends. NotifyStore wraps an
// approval.Store so that every committed transition fires an event.
package notification

import (
	"time"

	"github.com/byteness/saccoguard/approval"
)

// EventType represents the type of notification event.
type EventType string

const (
	// EventWorkflowCreated is emitted when a new workflow is opened.
	EventWorkflowCreated EventType = "workflow.created"
	// EventWorkflowApproved is emitted when a workflow reaches its quorum.
	EventWorkflowApproved EventType = "workflow.approved"
	// EventWorkflowRejected is emitted when an approver rejects a workflow.
	EventWorkflowRejected EventType = "workflow.rejected"
	// EventWorkflowExpired is emitted when a pending workflow times out.
	EventWorkflowExpired EventType = "workflow.expired"
	// EventWorkflowCancelled is emitted when the initiator cancels.
	EventWorkflowCancelled EventType = "workflow.cancelled"
)

// SystemActor is the actor recorded for expiry events.
const SystemActor = "system"

// IsValid returns true if the EventType is a known value.
func (t EventType) IsValid() bool {
	switch t {
	case EventWorkflowCreated, EventWorkflowApproved, EventWorkflowRejected,
		EventWorkflowExpired, EventWorkflowCancelled:
		return true
	}
	return false
}

// String returns the string representation of the EventType.
func (t EventType) String() string {
	return string(t)
}

// Event is a notification triggered by a workflow state change.
type Event struct {
	Type      EventType          `json:"type"`
	Workflow  *approval.Workflow `json:"workflow"`
	Timestamp time.Time          `json:"timestamp"`

	// Actor is who triggered the event:
	//   - the initiator for created and cancelled
	//   - the deciding approver for approved and rejected
	//   - "system" for expired
	Actor string `json:"actor"`
}

// NewEvent creates a notification event stamped at now.
func NewEvent(eventType EventType, wf *approval.Workflow, actor string, now time.Time) *Event {
	return &Event{
		Type:      eventType,
		Workflow:  wf,
		Timestamp: now,
		Actor:     actor,
	}
}

// TransitionEvent returns the event type and actor for a committed move
// from PENDING to wf's status. ok is false when wf is still PENDING.
func TransitionEvent(wf *approval.Workflow) (eventType EventType, actor string, ok bool) {
	switch wf.Status {
	case approval.StatusApproved:
		return EventWorkflowApproved, lastVoter(wf), true
	case approval.StatusRejected:
		if wf.RejectionReason == approval.ReasonCancelled {
			return EventWorkflowCancelled, wf.InitiatorID, true
		}
		return EventWorkflowRejected, lastVoter(wf), true
	case approval.StatusExpired:
		return EventWorkflowExpired, SystemActor, true
	}
	return "", "", false
}

func lastVoter(wf *approval.Workflow) string {
	if n := len(wf.Approvals); n > 0 {
		return wf.Approvals[n-1].ApproverID
	}
	return ""
}
