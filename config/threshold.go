package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/byteness/saccoguard/operation"
)

// Variables visible to category conditions.
const (
	varAmount      = "amount"
	varQuantity    = "quantity"
	varCurrency    = "currency"
	varDescription = "description"
	varHasAmount   = "has_amount"
)

func newConditionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(varAmount, cel.DoubleType),
		cel.Variable(varQuantity, cel.IntType),
		cel.Variable(varCurrency, cel.StringType),
		cel.Variable(varDescription, cel.StringType),
		cel.Variable(varHasAmount, cel.BoolType),
	)
}

func compileCondition(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("expression must evaluate to a bool")
	}
	return env.Program(ast)
}

// PolicyFor returns the defaults merged with the overrides of category.
// Unknown categories get the defaults.
func (c *MakerCheckerConfig) PolicyFor(category string) Policy {
	p := c.Defaults
	p.ApproverRoles = append([]string(nil), c.Defaults.ApproverRoles...)

	cat, ok := c.Categories[category]
	if !ok {
		return p
	}
	if cat.MinApprovers != nil {
		p.MinApprovers = *cat.MinApprovers
	}
	if cat.TimeoutHours != nil {
		p.TimeoutHours = *cat.TimeoutHours
	}
	if cat.AllowSelfApproval != nil {
		p.AllowSelfApproval = *cat.AllowSelfApproval
	}
	if cat.RequireSameLevel != nil {
		p.RequireSameLevel = *cat.RequireSameLevel
	}
	if len(cat.ApproverRoles) > 0 {
		p.ApproverRoles = append([]string(nil), cat.ApproverRoles...)
	}
	return p
}

// HasCategory reports whether category is configured.
func (c *MakerCheckerConfig) HasCategory(category string) bool {
	_, ok := c.Categories[category]
	return ok
}

// ThresholdExceeded reports whether an operation of category with the
// given business context needs approval.
//
// An unconfigured category always needs approval. A numeric threshold is
// exceeded when the metric is strictly greater than it; a missing metric
// value counts as exceeded.
func (c *MakerCheckerConfig) ThresholdExceeded(category string, bc *operation.BusinessContext) (bool, error) {
	cat, ok := c.Categories[category]
	if !ok {
		return true, nil
	}

	exceeded := true
	if cat.Threshold != nil {
		v, present := metricValue(cat.Metric, bc)
		exceeded = !present || v > *cat.Threshold
	}
	if !exceeded || strings.TrimSpace(cat.Condition) == "" {
		return exceeded, nil
	}

	prg, ok := c.programs[category]
	if !ok {
		return false, fmt.Errorf("categories.%s: condition not compiled", category)
	}
	out, _, err := prg.Eval(conditionInput(bc))
	if err != nil {
		return false, fmt.Errorf("categories.%s: condition: %w", category, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("categories.%s: condition returned %T", category, out.Value())
	}
	return matched, nil
}

func metricValue(m Metric, bc *operation.BusinessContext) (float64, bool) {
	if bc == nil {
		return 0, false
	}
	switch m {
	case MetricQuantity:
		if bc.Quantity == nil {
			return 0, false
		}
		return float64(*bc.Quantity), true
	default:
		if bc.Amount == nil {
			return 0, false
		}
		return *bc.Amount, true
	}
}

func conditionInput(bc *operation.BusinessContext) map[string]any {
	in := map[string]any{
		varAmount:      float64(0),
		varQuantity:    int64(0),
		varCurrency:    "",
		varDescription: "",
		varHasAmount:   false,
	}
	if bc == nil {
		return in
	}
	if bc.Amount != nil {
		in[varAmount] = *bc.Amount
		in[varHasAmount] = true
	}
	if bc.Quantity != nil {
		in[varQuantity] = int64(*bc.Quantity)
	}
	in[varCurrency] = bc.Currency
	in[varDescription] = bc.Description
	return in
}
