// Package policy evaluates operator-configured rules that can deny a payment
// operation before anything is written or sent to the gateway.
package policy

import (
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"
	"github.com/shopspring/decimal"
)

// Parameters available to rule expressions.
const (
	ParamAmount      = "amount"
	ParamPriorAmount = "prior_amount"
	ParamOrderAmount = "order_amount"
	ParamCurrency    = "currency"
	ParamOperation   = "operation"
	ParamOrderStatus = "order_status"
)

var knownParams = map[string]bool{
	ParamAmount:      true,
	ParamPriorAmount: true,
	ParamOrderAmount: true,
	ParamCurrency:    true,
	ParamOperation:   true,
	ParamOrderStatus: true,
}

// PolicyRule denies an operation when Expression evaluates to true.
// Rules with an empty Operations list apply to every operation.
type PolicyRule struct {
	ID         string   `mapstructure:"id"`
	Expression string   `mapstructure:"expression"`
	Operations []string `mapstructure:"operations"`
	Priority   int      `mapstructure:"priority"` // Lower value is evaluated first
	Reason     string   `mapstructure:"reason"`
}

// Input describes the operation being evaluated. Prior and order fields are
// zero for purchase and authorize.
type Input struct {
	Operation   string
	Amount      decimal.Decimal
	Currency    string
	PriorAmount decimal.Decimal
	OrderAmount decimal.Decimal
	OrderStatus string
}

func (in Input) parameters() map[string]interface{} {
	return map[string]interface{}{
		ParamAmount:      in.Amount.InexactFloat64(),
		ParamPriorAmount: in.PriorAmount.InexactFloat64(),
		ParamOrderAmount: in.OrderAmount.InexactFloat64(),
		ParamCurrency:    in.Currency,
		ParamOperation:   in.Operation,
		ParamOrderStatus: in.OrderStatus,
	}
}

// PolicyDecision represents the outcome of a policy evaluation.
type PolicyDecision struct {
	Allowed bool
	RuleID  string // Rule that denied the operation
	Reason  string
}

type compiledRule struct {
	rule       PolicyRule
	expr       *govaluate.EvaluableExpression
	operations map[string]bool
}

func (r compiledRule) appliesTo(operation string) bool {
	return len(r.operations) == 0 || r.operations[operation]
}

// PaymentPolicyEnforcer evaluates compiled rules in priority order.
type PaymentPolicyEnforcer struct {
	rules []compiledRule
}

// NewPaymentPolicyEnforcer compiles rules. It fails on empty or invalid
// expressions and on expressions that reference unknown parameters.
func NewPaymentPolicyEnforcer(rules []PolicyRule) (*PaymentPolicyEnforcer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Expression == "" {
			return nil, fmt.Errorf("policy rule ID '%s' has an empty expression", rule.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", rule.ID, err)
		}
		for _, v := range expr.Vars() {
			if !knownParams[v] {
				return nil, fmt.Errorf("policy rule ID '%s' references unknown parameter '%s'", rule.ID, v)
			}
		}
		ops := make(map[string]bool, len(rule.Operations))
		for _, op := range rule.Operations {
			ops[op] = true
		}
		compiled = append(compiled, compiledRule{rule: rule, expr: expr, operations: ops})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority < compiled[j].rule.Priority
	})
	return &PaymentPolicyEnforcer{rules: compiled}, nil
}

// Evaluate returns a denial for the first matching rule, or an allowing
// decision when no rule matches. A rule whose expression does not produce a
// boolean is an error.
func (ppe *PaymentPolicyEnforcer) Evaluate(in Input) (PolicyDecision, error) {
	params := in.parameters()
	for _, r := range ppe.rules {
		if !r.appliesTo(in.Operation) {
			continue
		}
		result, err := r.expr.Evaluate(params)
		if err != nil {
			return PolicyDecision{}, fmt.Errorf("evaluating rule ID '%s': %w", r.rule.ID, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return PolicyDecision{}, fmt.Errorf("rule ID '%s' returned %T, want bool", r.rule.ID, result)
		}
		if matched {
			reason := r.rule.Reason
			if reason == "" {
				reason = "denied by policy rule " + r.rule.ID
			}
			return PolicyDecision{Allowed: false, RuleID: r.rule.ID, Reason: reason}, nil
		}
	}
	return PolicyDecision{Allowed: true}, nil
}

// Len returns the number of compiled rules.
func (ppe *PaymentPolicyEnforcer) Len() int {
	return len(ppe.rules)
}
