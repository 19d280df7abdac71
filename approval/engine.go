package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/byteness/saccoguard/audit"
	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/config"
	"github.com/byteness/saccoguard/identity"
	"github.com/byteness/saccoguard/operation"
)

// ReleaseFunc runs once when a workflow reaches APPROVED. It receives a
// copy of the approved workflow.
type ReleaseFunc func(ctx context.Context, wf *Workflow) error

// Engine drives workflows through their state machine. It holds no
// per-workflow state; all coordination happens through Store.Update.
type Engine struct {
	store     Store
	config    *config.MakerCheckerConfig
	directory ApproverDirectory
	catalog   *catalog.Catalog
	sink      audit.Sink
	release   ReleaseFunc
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDirectory enables the eligible-approver count at create time and
// the approver eligibility check at vote time.
func WithDirectory(d ApproverDirectory) Option {
	return func(e *Engine) { e.directory = d }
}

// WithCatalog lets same-level checks accept approvers whose role inherits
// the initiator's role. Without it the roles must be equal.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithSink sets the audit sink.
func WithSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithReleaseFunc sets the callback run on approval.
func WithReleaseFunc(f ReleaseFunc) Option {
	return func(e *Engine) { e.release = f }
}

// WithLogger sets the operational logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over store. A nil cfg uses config.Default().
func NewEngine(store Store, cfg *config.MakerCheckerConfig, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		store:  store,
		config: cfg,
		sink:   audit.NopSink{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Config returns the configuration new workflows are created under.
func (e *Engine) Config() *config.MakerCheckerConfig {
	return e.config
}

// SetReleaseFunc replaces the release callback. It must be called before
// the engine is shared between goroutines.
func (e *Engine) SetReleaseFunc(f ReleaseFunc) {
	e.release = f
}

// Evaluate reports whether op with bc needs a workflow. Operations that do
// not require approval never do.
func (e *Engine) Evaluate(op *operation.ServiceOperation, bc *operation.BusinessContext) (bool, error) {
	if !op.RequiresApproval {
		return false, nil
	}
	return e.config.ThresholdExceeded(op.Category, bc)
}

// CreateInput describes the operation a workflow holds back.
type CreateInput struct {
	Service         string
	Operation       *operation.ServiceOperation
	Initiator       *identity.Principal
	Scope           catalog.Scope
	OrganizationID  string
	ChamaID         string
	BusinessContext *operation.BusinessContext
	CorrelationID   string
}

// Create opens a PENDING workflow with the policy of the operation's
// category. With a directory configured, it fails with
// ErrInsufficientApprovers when fewer principals than required could vote.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*Workflow, error) {
	if in.Operation == nil || in.Initiator == nil {
		return nil, errors.New("operation and initiator are required")
	}
	if !in.Scope.IsValid() {
		return nil, fmt.Errorf("invalid scope '%s'", in.Scope)
	}

	now := e.now()
	policy := e.config.PolicyFor(in.Operation.Category)
	wf := &Workflow{
		ID:                NewWorkflowID(),
		Service:           in.Service,
		OperationName:     in.Operation.Name,
		Category:          in.Operation.Category,
		InitiatorID:       in.Initiator.ID,
		InitiatorRole:     in.Initiator.ServiceRole,
		Scope:             in.Scope,
		OrganizationID:    in.OrganizationID,
		ChamaID:           in.ChamaID,
		BusinessContext:   in.BusinessContext.Clone(),
		CorrelationID:     in.CorrelationID,
		RequiredApprovers: policy.MinApprovers,
		Policy:            snapshot(policy, in.Operation),
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(time.Duration(policy.TimeoutHours) * time.Hour),
		Version:           1,
	}

	if e.directory != nil {
		n, err := e.countEligible(ctx, wf)
		if err != nil {
			return nil, err
		}
		if n < wf.RequiredApprovers {
			return nil, fmt.Errorf("%s: %d eligible, %d required: %w", wf.QualifiedOperation(), n, wf.RequiredApprovers, ErrInsufficientApprovers)
		}
	}

	if err := e.store.Create(ctx, wf); err != nil {
		return nil, err
	}

	e.record(ctx, wf, audit.DecisionWorkflowCreated, wf.InitiatorID, "", map[string]string{
		"required_approvers": strconv.Itoa(wf.RequiredApprovers),
		"expires_at":         wf.ExpiresAt.UTC().Format(time.RFC3339),
	})
	e.logger.Info("workflow created",
		"workflow_id", wf.ID,
		"operation", wf.QualifiedOperation(),
		"initiator", wf.InitiatorID,
		"required_approvers", wf.RequiredApprovers,
	)
	return wf, nil
}

// Get returns a workflow, first moving it to EXPIRED if its deadline has
// passed while PENDING.
func (e *Engine) Get(ctx context.Context, id string) (*Workflow, error) {
	wf, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status == StatusPending && wf.IsExpired(e.now()) {
		wf, _, err = e.expire(ctx, wf)
		if err != nil {
			return nil, err
		}
	}
	return wf, nil
}

// Vote records approverID's decision on workflow id. Checks run in order:
// not found, expired, already decided, self-approval, duplicate vote,
// approver eligibility, stale version.
//
// A single REJECT rejects the workflow. When APPROVE votes reach the
// required count the workflow is approved and released by this call only.
// If the release callback fails, the approved workflow is returned along
// with an error wrapping ErrReleaseFailed.
func (e *Engine) Vote(ctx context.Context, id, approverID string, decision Decision, expectedVersion int64) (*Workflow, error) {
	if !decision.IsValid() {
		return nil, fmt.Errorf("%q: %w", decision, ErrInvalidDecision)
	}

	wf, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := e.checkOpen(ctx, wf, now); err != nil {
		return nil, err
	}
	if approverID == wf.InitiatorID && !wf.Policy.AllowSelfApproval {
		return nil, fmt.Errorf("%s: %w", id, ErrSelfApprovalNotAllowed)
	}
	if wf.HasVoted(approverID) {
		return nil, fmt.Errorf("%s: %s: %w", id, approverID, ErrDuplicateApproval)
	}
	if err := e.checkEligible(ctx, wf, approverID); err != nil {
		return nil, err
	}
	if wf.Version != expectedVersion {
		return nil, fmt.Errorf("%s: version %d, expected %d: %w", id, wf.Version, expectedVersion, ErrStaleVersion)
	}

	next := wf.Clone()
	next.Approvals = append(next.Approvals, Vote{ApproverID: approverID, Decision: decision, Timestamp: now})
	next.UpdatedAt = now
	next.Version++
	switch {
	case decision == DecisionReject:
		next.Status = StatusRejected
		next.RejectionReason = ReasonVote
	case next.ApproveCount() >= next.RequiredApprovers:
		next.Status = StatusApproved
		next.ApprovedAt = &now
	}

	if err := e.store.Update(ctx, next, wf.Version); err != nil {
		return nil, err
	}

	e.logger.Debug("vote recorded",
		"workflow_id", id,
		"approver", approverID,
		"decision", string(decision),
		"status", string(next.Status),
	)

	switch next.Status {
	case StatusRejected:
		e.record(ctx, next, audit.DecisionRejected, approverID, string(ReasonVote), nil)
	case StatusApproved:
		e.record(ctx, next, audit.DecisionApproved, approverID, "", map[string]string{
			"approvals": strconv.Itoa(next.ApproveCount()),
		})
		if err := e.releaseOnce(ctx, next); err != nil {
			return next, err
		}
	}
	return next, nil
}

// Cancel lets the initiator withdraw a pending workflow. It moves to
// REJECTED with reason "cancelled" through the same version check as a vote.
func (e *Engine) Cancel(ctx context.Context, id, initiatorID string, expectedVersion int64) (*Workflow, error) {
	wf, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := e.checkOpen(ctx, wf, now); err != nil {
		return nil, err
	}
	if wf.InitiatorID != initiatorID {
		return nil, fmt.Errorf("%s: %w", id, ErrNotInitiator)
	}
	if wf.Version != expectedVersion {
		return nil, fmt.Errorf("%s: version %d, expected %d: %w", id, wf.Version, expectedVersion, ErrStaleVersion)
	}

	next := wf.Clone()
	next.Status = StatusRejected
	next.RejectionReason = ReasonCancelled
	next.UpdatedAt = now
	next.Version++
	if err := e.store.Update(ctx, next, wf.Version); err != nil {
		return nil, err
	}

	e.record(ctx, next, audit.DecisionRejected, initiatorID, string(ReasonCancelled), nil)
	e.logger.Info("workflow cancelled", "workflow_id", id, "initiator", initiatorID)
	return next, nil
}

// ListPending returns PENDING workflows that have not yet expired. An
// empty scope or groupID matches every workflow.
func (e *Engine) ListPending(ctx context.Context, scope catalog.Scope, groupID string) ([]*Workflow, error) {
	all, err := ListAll(ctx, e.store, ListQuery{
		Status:  StatusPending,
		Scope:   scope,
		GroupID: groupID,
		Limit:   MaxQueryLimit,
	})
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]*Workflow, 0, len(all))
	for _, wf := range all {
		if !wf.IsExpired(now) {
			out = append(out, wf)
		}
	}
	return out, nil
}

// ExpireStale moves every PENDING workflow past its deadline to EXPIRED
// and returns how many this call expired. Expiry is also applied lazily on
// read, so running it is optional. A workflow that fails to expire is
// logged and skipped; the failures are joined into the returned error.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	pending, err := ListAll(ctx, e.store, ListQuery{Status: StatusPending, Limit: MaxQueryLimit})
	if err != nil {
		return 0, err
	}
	now := e.now()
	stale := make([]*Workflow, 0)
	for _, wf := range pending {
		if wf.IsExpired(now) {
			stale = append(stale, wf)
		}
	}

	n := 0
	var errs []error
	for _, wf := range stale {
		_, won, err := e.expire(ctx, wf)
		if err != nil {
			e.logger.Error("workflow expiry failed", "workflow_id", wf.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", wf.ID, err))
			continue
		}
		if won {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// checkOpen rejects votes and cancellations on workflows that can no
// longer change, expiring stale ones on the way.
func (e *Engine) checkOpen(ctx context.Context, wf *Workflow, now time.Time) error {
	if wf.Status == StatusPending && wf.IsExpired(now) {
		if _, _, err := e.expire(ctx, wf); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", wf.ID, ErrWorkflowExpired)
	}
	switch {
	case wf.Status == StatusExpired:
		return fmt.Errorf("%s: %w", wf.ID, ErrWorkflowExpired)
	case wf.Status.IsTerminal():
		return fmt.Errorf("%s: %s: %w", wf.ID, wf.Status, ErrWorkflowTerminal)
	}
	return nil
}

// expire moves wf to EXPIRED. If another writer got there first it
// re-reads and retries while the workflow is still PENDING. won reports
// whether this call performed the transition.
func (e *Engine) expire(ctx context.Context, wf *Workflow) (*Workflow, bool, error) {
	for {
		next := wf.Clone()
		next.Status = StatusExpired
		next.RejectionReason = ReasonExpired
		next.UpdatedAt = e.now()
		next.Version++

		err := e.store.Update(ctx, next, wf.Version)
		if err == nil {
			e.record(ctx, next, audit.DecisionExpired, "", string(ReasonExpired), nil)
			e.logger.Info("workflow expired", "workflow_id", next.ID, "operation", next.QualifiedOperation())
			return next, true, nil
		}
		if !errors.Is(err, ErrStaleVersion) {
			return nil, false, err
		}

		cur, err := e.store.Get(ctx, wf.ID)
		if err != nil {
			return nil, false, err
		}
		if cur.Status != StatusPending {
			return cur, false, nil
		}
		wf = cur
	}
}

func (e *Engine) releaseOnce(ctx context.Context, wf *Workflow) error {
	if e.release == nil {
		return nil
	}
	if err := e.release(ctx, wf.Clone()); err != nil {
		e.logger.Error("workflow release failed",
			"workflow_id", wf.ID,
			"operation", wf.QualifiedOperation(),
			"error", err,
		)
		return fmt.Errorf("%s: %w: %w", wf.ID, ErrReleaseFailed, err)
	}
	e.logger.Info("workflow released", "workflow_id", wf.ID, "operation", wf.QualifiedOperation())
	return nil
}

func (e *Engine) countEligible(ctx context.Context, wf *Workflow) (int, error) {
	candidates, err := e.directory.Candidates(ctx, wf)
	if err != nil {
		return 0, err
	}
	initiatorRole, err := e.initiatorRole(ctx, wf)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.PrincipalID == wf.InitiatorID && !wf.Policy.AllowSelfApproval {
			continue
		}
		if !e.qualifies(wf.Policy, c.Role, initiatorRole) {
			continue
		}
		seen[c.PrincipalID] = struct{}{}
	}
	return len(seen), nil
}

func (e *Engine) checkEligible(ctx context.Context, wf *Workflow, approverID string) error {
	if !wf.Policy.RestrictsApprovers() {
		return nil
	}
	if e.directory == nil {
		return fmt.Errorf("%s: %s: no approver directory: %w", wf.ID, approverID, ErrApproverNotEligible)
	}
	role, ok, err := e.directory.RoleOf(ctx, wf, approverID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %s holds no role: %w", wf.ID, approverID, ErrApproverNotEligible)
	}
	initiatorRole, err := e.initiatorRole(ctx, wf)
	if err != nil {
		return err
	}
	if !e.qualifies(wf.Policy, role, initiatorRole) {
		return fmt.Errorf("%s: %s role '%s': %w", wf.ID, approverID, role, ErrApproverNotEligible)
	}
	return nil
}

// initiatorRole is the initiator's role in the workflow's group, falling
// back to the service role captured at creation.
func (e *Engine) initiatorRole(ctx context.Context, wf *Workflow) (string, error) {
	if !wf.Policy.RequireSameLevel {
		return "", nil
	}
	role, ok, err := e.directory.RoleOf(ctx, wf, wf.InitiatorID)
	if err != nil {
		return "", err
	}
	if !ok {
		return string(wf.InitiatorRole), nil
	}
	return role, nil
}

func (e *Engine) qualifies(p PolicySnapshot, role, initiatorRole string) bool {
	if len(p.ApproverRoles) > 0 {
		listed := false
		for _, r := range p.ApproverRoles {
			if r == role {
				listed = true
				break
			}
		}
		if !listed {
			return false
		}
	}
	if p.RequireSameLevel && !e.covers(role, initiatorRole) {
		return false
	}
	return true
}

// covers reports whether holder is at least the level of other.
func (e *Engine) covers(holder, other string) bool {
	if holder == other {
		return true
	}
	if e.catalog == nil {
		return false
	}
	return e.catalog.GroupRoleCovers(catalog.GroupRole(holder), catalog.GroupRole(other)) ||
		e.catalog.ServiceRoleCovers(catalog.ServiceRole(holder), catalog.ServiceRole(other))
}

func (e *Engine) record(ctx context.Context, wf *Workflow, decision audit.Decision, principalID, reason string, details map[string]string) {
	if details == nil {
		details = map[string]string{}
	}
	if wf.OrganizationID != "" {
		details["organization_id"] = wf.OrganizationID
	}
	if wf.ChamaID != "" {
		details["chama_id"] = wf.ChamaID
	}
	details["version"] = strconv.FormatInt(wf.Version, 10)

	e.sink.Record(ctx, audit.Record{
		CorrelationID: wf.CorrelationID,
		PrincipalID:   principalID,
		OperationName: wf.QualifiedOperation(),
		Scope:         wf.Scope,
		Decision:      decision,
		WorkflowID:    wf.ID,
		Reason:        reason,
		Timestamp:     e.now(),
		Details:       details,
	})
}
