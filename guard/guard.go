// Package guard is the entry point services call before performing a
// SACCO operation, and the API approvers use to decide held operations.
//
// Authorize runs, in order: the optional rate limiter, the operation
// lookup, the permission check and the maker-checker threshold. A granted
// operation below its threshold proceeds immediately; one above it is held
// in an approval workflow and released later through the ReleaseFunc
// registered for it. Before a release runs, the initiator is rebuilt from
// the membership store and authorized again, so a maker who lost their
// role while the workflow was pending does not get the operation executed.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/byteness/saccoguard/approval"
	"github.com/byteness/saccoguard/audit"
	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/identity"
	"github.com/byteness/saccoguard/operation"
	"github.com/byteness/saccoguard/ratelimit"
	"github.com/byteness/saccoguard/resolver"
)

var (
	// ErrPermissionDenied is returned by the approval API when the caller
	// may not act on a workflow.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrReleaseDenied is returned by a release whose initiator no longer
	// passes authorization.
	ErrReleaseDenied = errors.New("release denied on re-authorization")
)

// DenyRateLimited is the audit reason recorded when the limiter refuses a request.
const DenyRateLimited = "RATE_LIMITED"

// Status is the result kind of Authorize.
type Status string

const (
	StatusGranted         Status = "GRANTED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusDenied          Status = "DENIED"
)

// Request is one operation invocation.
type Request struct {
	Principal       *identity.Principal
	Service         string
	Operation       string
	Scope           catalog.Scope
	OrganizationID  string
	ChamaID         string
	BusinessContext *operation.BusinessContext

	// CorrelationID ties the audit records of one invocation together.
	// A new one is generated when empty.
	CorrelationID string
}

// Outcome is the result of Authorize. WorkflowID is set for
// PENDING_APPROVAL and Reason for DENIED.
type Outcome struct {
	Status        Status               `json:"status"`
	WorkflowID    string               `json:"workflow_id,omitempty"`
	Reason        resolver.DenyReason  `json:"reason,omitempty"`
	Missing       []catalog.Permission `json:"missing,omitempty"`
	CorrelationID string               `json:"correlation_id"`
}

// Guard ties the registry, resolver and approval engine together. It is
// safe for concurrent use.
type Guard struct {
	registry *operation.Registry
	resolver *resolver.Resolver
	engine   *approval.Engine
	builder  *identity.Builder
	limiter  ratelimit.Limiter
	sink     audit.Sink
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	releases map[string]approval.ReleaseFunc
}

// Option configures a Guard.
type Option func(*Guard)

// WithBuilder sets the builder used to rebuild initiators before release.
// Without one, releases run without re-authorization.
func WithBuilder(b *identity.Builder) Option {
	return func(g *Guard) { g.builder = b }
}

// WithLimiter throttles Authorize per principal id.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(g *Guard) { g.limiter = l }
}

// WithSink sets the sink for records the guard writes itself.
func WithSink(s audit.Sink) Option {
	return func(g *Guard) { g.sink = s }
}

// WithLogger sets the operational logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New creates a Guard and installs it as the engine's release callback.
func New(registry *operation.Registry, res *resolver.Resolver, engine *approval.Engine, opts ...Option) *Guard {
	g := &Guard{
		registry: registry,
		resolver: res,
		engine:   engine,
		sink:     audit.NopSink{},
		logger:   slog.Default(),
		now:      time.Now,
		releases: make(map[string]approval.ReleaseFunc),
	}
	for _, opt := range opts {
		opt(g)
	}
	engine.SetReleaseFunc(g.release)
	return g
}

// Registry returns the operation registry.
func (g *Guard) Registry() *operation.Registry {
	return g.registry
}

// Engine returns the approval engine.
func (g *Guard) Engine() *approval.Engine {
	return g.engine
}

// RegisterReleaseFunc sets the function that performs service.operation
// once its workflow is approved. A later registration replaces an earlier one.
func (g *Guard) RegisterReleaseFunc(service, op string, f approval.ReleaseFunc) error {
	if _, err := g.registry.Lookup(service, op); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases[resolver.QualifiedName(service, op)] = f
	return nil
}

// Authorize decides whether req may proceed. Denials are returned as an
// Outcome; errors are reserved for unknown operations, rate limiting and
// failures to open a workflow.
func (g *Guard) Authorize(ctx context.Context, req Request) (Outcome, error) {
	p := req.Principal
	if p == nil {
		return Outcome{}, fmt.Errorf("principal is required: %w", identity.ErrInvalidClaims)
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = identity.NewCorrelationID()
	}

	if err := g.throttle(ctx, p, req, correlationID); err != nil {
		return Outcome{}, err
	}

	op, err := g.registry.Lookup(req.Service, req.Operation)
	if err != nil {
		return Outcome{}, err
	}

	now := g.now()
	sc := identity.NewServiceContext(p, req.Scope, req.OrganizationID, req.ChamaID,
		g.resolver.Resolve(p, req.Scope, req.OrganizationID, req.ChamaID), now)
	sc.CorrelationID = correlationID

	d := g.resolver.Authorize(ctx, p, req.Service, op, sc)
	if !d.Granted() {
		return Outcome{Status: StatusDenied, Reason: d.Reason, Missing: d.Missing, CorrelationID: correlationID}, nil
	}

	held, err := g.engine.Evaluate(op, req.BusinessContext)
	if err != nil {
		return Outcome{}, err
	}
	if !held {
		return Outcome{Status: StatusGranted, CorrelationID: correlationID}, nil
	}

	wf, err := g.engine.Create(ctx, approval.CreateInput{
		Service:         req.Service,
		Operation:       op,
		Initiator:       p,
		Scope:           req.Scope,
		OrganizationID:  req.OrganizationID,
		ChamaID:         req.ChamaID,
		BusinessContext: req.BusinessContext,
		CorrelationID:   correlationID,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusPendingApproval, WorkflowID: wf.ID, CorrelationID: correlationID}, nil
}

func (g *Guard) throttle(ctx context.Context, p *identity.Principal, req Request, correlationID string) error {
	if g.limiter == nil {
		return nil
	}
	allowed, retryAfter, err := g.limiter.Allow(ctx, p.ID)
	if err != nil {
		g.logger.Warn("rate limiter error, allowing request", "principal", p.ID, "error", err)
		return nil
	}
	if allowed {
		return nil
	}

	g.sink.Record(ctx, audit.Record{
		CorrelationID: correlationID,
		PrincipalID:   p.ID,
		OperationName: resolver.QualifiedName(req.Service, req.Operation),
		Scope:         req.Scope,
		Decision:      audit.DecisionDeny,
		Reason:        DenyRateLimited,
		Timestamp:     g.now(),
		Details:       map[string]string{"retry_after": retryAfter.String()},
	})
	return fmt.Errorf("%s: retry after %s: %w", p.ID, retryAfter, ratelimit.ErrRateLimited)
}

// Vote records approver's decision on a workflow. The approver must be
// authorized for approvals.vote in the workflow's own scope and group.
func (g *Guard) Vote(ctx context.Context, approver *identity.Principal, workflowID string, decision approval.Decision, expectedVersion int64) (*approval.Workflow, error) {
	wf, err := g.engine.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := g.authorizeApproval(ctx, approver, operation.OpApprovalVote, wf); err != nil {
		return nil, err
	}
	return g.engine.Vote(ctx, workflowID, approver.ID, decision, expectedVersion)
}

// Cancel withdraws a pending workflow on behalf of its initiator.
func (g *Guard) Cancel(ctx context.Context, initiator *identity.Principal, workflowID string, expectedVersion int64) (*approval.Workflow, error) {
	if initiator == nil {
		return nil, fmt.Errorf("principal is required: %w", identity.ErrInvalidClaims)
	}
	return g.engine.Cancel(ctx, workflowID, initiator.ID, expectedVersion)
}

// GetWorkflow returns a workflow the viewer may read under approvals.read.
func (g *Guard) GetWorkflow(ctx context.Context, viewer *identity.Principal, workflowID string) (*approval.Workflow, error) {
	wf, err := g.engine.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if viewer != nil && viewer.ID == wf.InitiatorID {
		return wf, nil
	}
	if err := g.authorizeApproval(ctx, viewer, operation.OpApprovalRead, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// ListPendingWorkflows returns the open workflows in scope for the group
// that the viewer may read: its own, and those whose scope and group grant
// it approvals.read. An empty scope or group matches everything.
func (g *Guard) ListPendingWorkflows(ctx context.Context, viewer *identity.Principal, scope catalog.Scope, groupID string) ([]*approval.Workflow, error) {
	if viewer == nil {
		return nil, fmt.Errorf("principal is required: %w", identity.ErrInvalidClaims)
	}
	op, err := g.registry.Lookup(operation.ServiceApprovals, operation.OpApprovalRead)
	if err != nil {
		return nil, err
	}
	pending, err := g.engine.ListPending(ctx, scope, groupID)
	if err != nil {
		return nil, err
	}

	type group struct {
		scope        catalog.Scope
		org, chamaID string
	}
	readable := make(map[group]bool)
	out := make([]*approval.Workflow, 0, len(pending))
	for _, wf := range pending {
		if wf.InitiatorID == viewer.ID {
			out = append(out, wf)
			continue
		}
		key := group{scope: wf.Scope, org: wf.OrganizationID, chamaID: wf.ChamaID}
		ok, seen := readable[key]
		if !seen {
			sc := identity.NewServiceContext(viewer, wf.Scope, wf.OrganizationID, wf.ChamaID,
				g.resolver.Resolve(viewer, wf.Scope, wf.OrganizationID, wf.ChamaID), g.now())
			ok = g.resolver.Check(viewer, op, sc).Granted()
			readable[key] = ok
		}
		if ok {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (g *Guard) authorizeApproval(ctx context.Context, p *identity.Principal, opName string, wf *approval.Workflow) error {
	if p == nil {
		return fmt.Errorf("principal is required: %w", identity.ErrInvalidClaims)
	}
	op, err := g.registry.Lookup(operation.ServiceApprovals, opName)
	if err != nil {
		return err
	}
	sc := identity.NewServiceContext(p, wf.Scope, wf.OrganizationID, wf.ChamaID,
		g.resolver.Resolve(p, wf.Scope, wf.OrganizationID, wf.ChamaID), g.now())
	if wf.CorrelationID != "" {
		sc.CorrelationID = wf.CorrelationID
	}

	d := g.resolver.Authorize(ctx, p, operation.ServiceApprovals, op, sc)
	if !d.Granted() {
		return fmt.Errorf("%s: %s on %s: %s: %w", p.ID, resolver.QualifiedName(operation.ServiceApprovals, opName), wf.ID, d.Reason, ErrPermissionDenied)
	}
	return nil
}

// release runs when the engine approves a workflow. It re-authorizes the
// initiator against current memberships and then runs the registered
// ReleaseFunc, if any.
func (g *Guard) release(ctx context.Context, wf *approval.Workflow) error {
	if g.builder != nil {
		if err := g.reauthorize(ctx, wf); err != nil {
			return err
		}
	}

	g.mu.RLock()
	f := g.releases[wf.QualifiedOperation()]
	g.mu.RUnlock()

	if f == nil {
		g.logger.Warn("approved workflow has no release handler",
			"workflow_id", wf.ID,
			"operation", wf.QualifiedOperation(),
		)
		return nil
	}
	return f(ctx, wf)
}

func (g *Guard) reauthorize(ctx context.Context, wf *approval.Workflow) error {
	op, err := g.registry.Lookup(wf.Service, wf.OperationName)
	if err != nil {
		return err
	}
	p, err := g.builder.PrincipalForRole(ctx, wf.InitiatorID, wf.InitiatorRole)
	if err != nil {
		return fmt.Errorf("rebuild initiator %s: %w", wf.InitiatorID, err)
	}

	sc := identity.NewServiceContext(p, wf.Scope, wf.OrganizationID, wf.ChamaID,
		g.resolver.Resolve(p, wf.Scope, wf.OrganizationID, wf.ChamaID), g.now())
	if wf.CorrelationID != "" {
		sc.CorrelationID = wf.CorrelationID
	}

	d := g.resolver.Authorize(ctx, p, wf.Service, op, sc)
	if !d.Granted() {
		g.logger.Warn("release withheld",
			"workflow_id", wf.ID,
			"initiator", wf.InitiatorID,
			"reason", string(d.Reason),
		)
		return fmt.Errorf("%s: %s: %w", wf.ID, d.Reason, ErrReleaseDenied)
	}
	return nil
}
