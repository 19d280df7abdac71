// Package resolver computes the permissions a principal holds in a given
// scope and decides whether an operation may proceed.
//
// A principal's effective set is the union of:
//   - its service role's permissions, expanded through the service-role graph
//   - for ORGANIZATION and CHAMA scope, the permissions of its active group
//     role in the addressed group, expanded through the group-role graph
//
// A missing or inactive membership contributes nothing; it is not an error.
// Denials are values, never errors.
package resolver

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/byteness/saccoguard/audit"
	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/identity"
	"github.com/byteness/saccoguard/operation"
)

// Effect is the outcome of an authorization check.
type Effect string

const (
	EffectGrant Effect = "GRANT"
	EffectDeny  Effect = "DENY"
)

// DenyReason explains a DENY.
type DenyReason string

const (
	// DenyScopeNotAllowed means the context scope is not among the operation's allowed scopes.
	DenyScopeNotAllowed DenyReason = "SCOPE_NOT_ALLOWED"
	// DenyMissingPermission means the resolved set lacks a required permission.
	DenyMissingPermission DenyReason = "MISSING_PERMISSION"
	// DenyInvalidContext means the service context is missing or belongs to
	// another principal.
	DenyInvalidContext DenyReason = "INVALID_CONTEXT"
)

// Decision is the result of Authorize. Missing lists the required
// permissions the principal lacks; it is meant only for the principal the
// decision concerns.
type Decision struct {
	Effect  Effect
	Reason  DenyReason
	Missing []catalog.Permission
}

// Granted reports whether the decision is a GRANT.
func (d Decision) Granted() bool {
	return d.Effect == EffectGrant
}

// Resolver is stateless apart from its immutable catalog and sink, and is
// safe for concurrent use.
type Resolver struct {
	catalog *catalog.Catalog
	sink    audit.Sink
	now     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSink sets the audit sink. Defaults to audit.NopSink.
func WithSink(s audit.Sink) Option {
	return func(r *Resolver) { r.sink = s }
}

// WithClock sets the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver over c.
func New(c *catalog.Catalog, opts ...Option) *Resolver {
	r := &Resolver{catalog: c, sink: audit.NopSink{}, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the catalog the resolver reads from.
func (r *Resolver) Catalog() *catalog.Catalog {
	return r.catalog
}

// Resolve returns the principal's effective permissions in scope. The
// group contribution comes from the active membership whose group id is
// organizationID (ORGANIZATION scope) or chamaID (CHAMA scope) and whose
// scope type matches.
func (r *Resolver) Resolve(p *identity.Principal, scope catalog.Scope, organizationID, chamaID string) catalog.PermissionSet {
	set := r.catalog.ServicePermissions(p.ServiceRole)

	var groupID string
	switch scope {
	case catalog.ScopeOrganization:
		groupID = organizationID
	case catalog.ScopeChama:
		groupID = chamaID
	default:
		return set
	}

	m := p.ActiveMembership(groupID, scope)
	if m == nil {
		return set
	}
	return set.Union(r.catalog.GroupPermissions(m.Role))
}

// Authorize decides whether p may perform op in sc. The resolved set is
// recomputed from p; any set carried by sc is ignored. Exactly one GRANT
// or DENY audit record is emitted per call.
func (r *Resolver) Authorize(ctx context.Context, p *identity.Principal, service string, op *operation.ServiceOperation, sc *identity.ServiceContext) Decision {
	d := r.decide(p, op, sc)
	r.record(ctx, p, service, op, sc, d)
	return d
}

// Check returns the decision Authorize would make without writing an audit
// record. It is meant for filtering many rows under one read permission.
func (r *Resolver) Check(p *identity.Principal, op *operation.ServiceOperation, sc *identity.ServiceContext) Decision {
	return r.decide(p, op, sc)
}

func (r *Resolver) decide(p *identity.Principal, op *operation.ServiceOperation, sc *identity.ServiceContext) Decision {
	if sc == nil || p == nil || sc.PrincipalID != p.ID || !sc.Scope.IsValid() {
		return Decision{Effect: EffectDeny, Reason: DenyInvalidContext}
	}
	if !op.AllowsScope(sc.Scope) {
		return Decision{Effect: EffectDeny, Reason: DenyScopeNotAllowed}
	}

	resolved := r.Resolve(p, sc.Scope, sc.OrganizationID, sc.ChamaID)
	if missing := resolved.Missing(op.RequiredPermissions); len(missing) > 0 {
		return Decision{Effect: EffectDeny, Reason: DenyMissingPermission, Missing: missing}
	}
	return Decision{Effect: EffectGrant}
}

func (r *Resolver) record(ctx context.Context, p *identity.Principal, service string, op *operation.ServiceOperation, sc *identity.ServiceContext, d Decision) {
	rec := audit.Record{
		OperationName: QualifiedName(service, op.Name),
		Decision:      audit.DecisionGrant,
		Timestamp:     r.now(),
	}
	if p != nil {
		rec.PrincipalID = p.ID
	}
	if sc != nil {
		rec.CorrelationID = sc.CorrelationID
		rec.Scope = sc.Scope
	}
	if d.Effect == EffectDeny {
		rec.Decision = audit.DecisionDeny
		rec.Reason = string(d.Reason)
	}

	details := map[string]string{}
	if sc != nil {
		if sc.OrganizationID != "" {
			details["organization_id"] = sc.OrganizationID
		}
		if sc.ChamaID != "" {
			details["chama_id"] = sc.ChamaID
		}
	}
	if len(d.Missing) > 0 {
		names := make([]string, len(d.Missing))
		for i, m := range d.Missing {
			names[i] = string(m)
		}
		sort.Strings(names)
		details["missing"] = strings.Join(names, ",")
	}
	if op.AuditLevel == operation.AuditDetailed {
		details["risk_level"] = string(op.RiskLevel)
	}
	if len(details) > 0 {
		rec.Details = details
	}

	r.sink.Record(ctx, rec)
}

// QualifiedName joins a service and operation name as "service.operation".
func QualifiedName(service, name string) string {
	if service == "" {
		return name
	}
	return service + "." + name
}
