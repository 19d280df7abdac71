// Package operation declares the business operations that can be
// authorized, and the immutable registry they are looked up in.
package operation

import (
	"errors"
	"time"

	"github.com/byteness/saccoguard/catalog"
)

// ErrOperationNotFound is returned when a service/operation pair is not registered.
var ErrOperationNotFound = errors.New("operation not found")

// RiskLevel classifies how damaging a misuse of the operation would be.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValid returns true if the RiskLevel is a known value.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// AuditLevel selects how much detail audit records for the operation carry.
type AuditLevel string

const (
	AuditNone     AuditLevel = "none"
	AuditBasic    AuditLevel = "basic"
	AuditDetailed AuditLevel = "detailed"
)

// IsValid returns true if the AuditLevel is a known value.
func (a AuditLevel) IsValid() bool {
	switch a {
	case AuditNone, AuditBasic, AuditDetailed:
		return true
	}
	return false
}

// RetryPolicy bounds how often an authorization decision may be retried.
// It does not govern retries of the business operation itself.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `json:"backoff" yaml:"backoff"`
}

// ServiceOperation describes one authorizable operation.
type ServiceOperation struct {
	Name                string               `json:"name"`
	Category            string               `json:"category,omitempty"`
	RequiredPermissions []catalog.Permission `json:"required_permissions"`
	AllowedScopes       []catalog.Scope      `json:"allowed_scopes"`
	RiskLevel           RiskLevel            `json:"risk_level"`
	AuditLevel          AuditLevel           `json:"audit_level"`
	RequiresApproval    bool                 `json:"requires_approval"`
	AllowSelfApproval   bool                 `json:"allow_self_approval,omitempty"`
	Timeout             time.Duration        `json:"timeout,omitempty"`
	RetryPolicy         *RetryPolicy         `json:"retry_policy,omitempty"`
}

// AllowsScope reports whether s is one of the operation's allowed scopes.
func (o *ServiceOperation) AllowsScope(s catalog.Scope) bool {
	for _, allowed := range o.AllowedScopes {
		if allowed == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the operation.
func (o *ServiceOperation) Clone() *ServiceOperation {
	c := *o
	c.RequiredPermissions = append([]catalog.Permission(nil), o.RequiredPermissions...)
	c.AllowedScopes = append([]catalog.Scope(nil), o.AllowedScopes...)
	if o.RetryPolicy != nil {
		rp := *o.RetryPolicy
		c.RetryPolicy = &rp
	}
	return &c
}

// BusinessContext carries the business facts an approval threshold is
// evaluated against.
type BusinessContext struct {
	Amount      *float64 `json:"amount,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Description string   `json:"description,omitempty"`
	Quantity    *int     `json:"quantity,omitempty"`
}

// Clone returns a deep copy of the business context.
func (b *BusinessContext) Clone() *BusinessContext {
	if b == nil {
		return nil
	}
	c := *b
	if b.Amount != nil {
		a := *b.Amount
		c.Amount = &a
	}
	if b.Quantity != nil {
		q := *b.Quantity
		c.Quantity = &q
	}
	return &c
}
