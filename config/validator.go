package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// IssueSeverity indicates the severity of a validation issue.
type IssueSeverity string

const (
	// SeverityError indicates a problem that blocks loading.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a suspicious pattern that still loads.
	SeverityWarning IssueSeverity = "warning"
)

// ValidationIssue represents a single validation problem.
type ValidationIssue struct {
	Severity   IssueSeverity `json:"severity"`
	Location   string        `json:"location"` // e.g. "categories.withdrawal"
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// ValidationResult contains all validation findings for a single config.
type ValidationResult struct {
	Source string            `json:"source"`
	Valid  bool              `json:"valid"` // True if no errors (warnings OK)
	Issues []ValidationIssue `json:"issues"`
}

// Validate parses content and reports every issue found, including
// warnings for settings that load but are probably unintended.
func Validate(content []byte, source string) ValidationResult {
	result := ValidationResult{
		Source: source,
		Valid:  true,
		Issues: []ValidationIssue{},
	}

	if len(strings.TrimSpace(string(content))) == 0 {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity:   SeverityError,
			Message:    "empty configuration",
			Suggestion: "provide valid YAML content",
		})
		return result
	}

	var raw MakerCheckerConfig
	if err := yaml.Unmarshal(content, &raw); err != nil {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity:   SeverityError,
			Message:    fmt.Sprintf("YAML parse error: %v", err),
			Suggestion: "check YAML syntax for correct indentation and formatting",
		})
		return result
	}

	cfg, err := Parse(content)
	if err != nil {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Severity:   SeverityError,
			Location:   extractLocation(err.Error()),
			Message:    err.Error(),
			Suggestion: suggestFix(err.Error()),
		})
		return result
	}

	addWarnings(cfg, result.addIssue)
	return result
}

// ValidateFile validates a local YAML file.
func ValidateFile(path string) (ValidationResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return ValidationResult{
			Source: path,
			Valid:  false,
			Issues: []ValidationIssue{{
				Severity:   SeverityError,
				Message:    fmt.Sprintf("failed to read file: %v", err),
				Suggestion: "verify the file path exists and is readable",
			}},
		}, err
	}
	return Validate(content, path), nil
}

func (r *ValidationResult) addIssue(issue ValidationIssue) {
	r.Issues = append(r.Issues, issue)
	if issue.Severity == SeverityError {
		r.Valid = false
	}
}

// ErrorCount returns the number of error-severity issues.
func (r ValidationResult) ErrorCount() int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			n++
		}
	}
	return n
}

func addWarnings(cfg *MakerCheckerConfig, add func(ValidationIssue)) {
	if cfg.Defaults.AllowSelfApproval {
		add(ValidationIssue{
			Severity:   SeverityWarning,
			Location:   "defaults",
			Message:    "self-approval is allowed by default",
			Suggestion: "enable allow_self_approval only for the categories that need it",
		})
	}
	for _, name := range cfg.categoryNames() {
		cat := cfg.Categories[name]
		loc := "categories." + name
		p := cfg.PolicyFor(name)

		if cat.Threshold == nil && strings.TrimSpace(cat.Condition) == "" {
			add(ValidationIssue{
				Severity:   SeverityWarning,
				Location:   loc,
				Message:    fmt.Sprintf("category '%s' has no threshold or condition - every operation requires approval", name),
				Suggestion: "add a threshold or condition, or confirm this is intended behavior",
			})
		}
		if p.MinApprovers == 1 {
			add(ValidationIssue{
				Severity:   SeverityWarning,
				Location:   loc,
				Message:    fmt.Sprintf("category '%s' needs a single approver", name),
				Suggestion: "require at least 2 approvers for maker-checker separation",
			})
		}
		if p.AllowSelfApproval && p.MinApprovers == 1 {
			add(ValidationIssue{
				Severity:   SeverityWarning,
				Location:   loc,
				Message:    fmt.Sprintf("category '%s' lets the initiator approve alone", name),
				Suggestion: "disable allow_self_approval or raise min_approvers",
			})
		}
	}
}

// extractLocation returns the leading "defaults" or "categories.<name>"
// path of an error message, if any.
func extractLocation(errMsg string) string {
	for _, prefix := range []string{"categories.", "defaults"} {
		if strings.HasPrefix(errMsg, prefix) {
			if i := strings.Index(errMsg, ":"); i > 0 {
				return errMsg[:i]
			}
		}
	}
	return ""
}

func suggestFix(errMsg string) string {
	switch {
	case strings.Contains(errMsg, "missing version"):
		return "add a 'version' field, e.g. version: \"1\""
	case strings.Contains(errMsg, "min_approvers"):
		return "set min_approvers to 1 or more"
	case strings.Contains(errMsg, "exceeds maximum"):
		return fmt.Sprintf("reduce timeout_hours to at most %d", MaxTimeoutHours)
	case strings.Contains(errMsg, "timeout_hours"):
		return "set timeout_hours to 1 or more"
	case strings.Contains(errMsg, "invalid metric"):
		return "use 'amount' or 'quantity' for metric"
	case strings.Contains(errMsg, "metric set without threshold"):
		return "add a threshold or remove the metric"
	case strings.Contains(errMsg, "negative threshold"):
		return "use a threshold of 0 or more"
	case strings.Contains(errMsg, "condition"):
		return "conditions are CEL bool expressions over amount, quantity, currency, description and has_amount"
	case strings.Contains(errMsg, "approver role"):
		return "remove empty entries from approver_roles"
	default:
		return "review the error message and correct the configuration"
	}
}
