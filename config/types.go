// Package config loads and validates the maker-checker configuration: the
// approval thresholds per operation category and the approval policy
// (quorum, timeout, self-approval, approver eligibility) applied to the
// workflows those thresholds trigger.
//
// A configuration is read once at startup. Workflows copy the policy that
// applied when they were created and are not affected by later reloads.
package config

import (
	"github.com/google/cel-go/cel"

	"github.com/byteness/saccoguard/operation"
)

// Defaults applied when the configuration leaves them unset.
const (
	DefaultMinApprovers = 2
	DefaultTimeoutHours = 24

	// MaxTimeoutHours bounds how long a workflow may stay pending.
	MaxTimeoutHours = 720
)

// Metric selects which business fact a numeric threshold is compared to.
type Metric string

const (
	// MetricAmount compares the monetary amount.
	MetricAmount Metric = "amount"
	// MetricQuantity compares a count, e.g. invitations or shares.
	MetricQuantity Metric = "quantity"
)

// IsValid returns true if the Metric is a known value.
func (m Metric) IsValid() bool {
	return m == MetricAmount || m == MetricQuantity
}

// String returns the string representation of the Metric.
func (m Metric) String() string {
	return string(m)
}

// Policy governs the workflows of one category.
type Policy struct {
	MinApprovers      int      `yaml:"min_approvers" json:"min_approvers"`
	TimeoutHours      int      `yaml:"timeout_hours" json:"timeout_hours"`
	AllowSelfApproval bool     `yaml:"allow_self_approval" json:"allow_self_approval"`
	RequireSameLevel  bool     `yaml:"require_same_level" json:"require_same_level"`
	ApproverRoles     []string `yaml:"approver_roles,omitempty" json:"approver_roles,omitempty"`
}

// Category configures when operations of one category need approval and
// which policy overrides apply to them.
//
// A category with a threshold requires approval when the metric strictly
// exceeds it. A category with a condition requires approval when the CEL
// expression evaluates to true. When both are set, both must hold. A
// category with neither always requires approval.
type Category struct {
	Threshold *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Metric    Metric   `yaml:"metric,omitempty" json:"metric,omitempty"`
	Condition string   `yaml:"condition,omitempty" json:"condition,omitempty"`

	MinApprovers      *int     `yaml:"min_approvers,omitempty" json:"min_approvers,omitempty"`
	TimeoutHours      *int     `yaml:"timeout_hours,omitempty" json:"timeout_hours,omitempty"`
	AllowSelfApproval *bool    `yaml:"allow_self_approval,omitempty" json:"allow_self_approval,omitempty"`
	RequireSameLevel  *bool    `yaml:"require_same_level,omitempty" json:"require_same_level,omitempty"`
	ApproverRoles     []string `yaml:"approver_roles,omitempty" json:"approver_roles,omitempty"`
}

// MakerCheckerConfig is the loaded maker-checker configuration. Build one
// with Parse, Load or Default; the zero value has no compiled conditions.
type MakerCheckerConfig struct {
	Version    string              `yaml:"version" json:"version"`
	Defaults   Policy              `yaml:"defaults" json:"defaults"`
	Categories map[string]Category `yaml:"categories,omitempty" json:"categories,omitempty"`

	programs map[string]cel.Program
}

func floatPtr(v float64) *float64 { return &v }

// DefaultConfig returns the built-in configuration: withdrawals above
// 50,000 need two approvers within 24 hours.
func DefaultConfig() *MakerCheckerConfig {
	return &MakerCheckerConfig{
		Version: "1",
		Defaults: Policy{
			MinApprovers: DefaultMinApprovers,
			TimeoutHours: DefaultTimeoutHours,
		},
		Categories: map[string]Category{
			operation.CategoryWithdrawal: {
				Threshold: floatPtr(50000),
				Metric:    MetricAmount,
			},
			operation.CategoryShareTransfer: {
				Threshold: floatPtr(10000),
				Metric:    MetricAmount,
			},
			operation.CategoryMembershipEdit: {},
		},
	}
}

// Default returns DefaultConfig validated and compiled. It panics if the
// built-in configuration is invalid.
func Default() *MakerCheckerConfig {
	cfg := DefaultConfig()
	if err := cfg.Compile(); err != nil {
		panic(err)
	}
	return cfg
}
