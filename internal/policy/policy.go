// Package policy provides the CEL-based decision policy overlay. Operators
// supply boolean expressions over the scored transaction; a matching rule may
// escalate the recommended action (never downgrade it), giving the trained
// ensemble an operational guardrail without touching the aggregator.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rule is one policy rule. Expression is a CEL expression over the scored
// transaction that must return bool; Action is the escalation target.
type Rule struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Action      string `json:"action"` // REVIEW or BLOCK
	Enabled     bool   `json:"enabled"`
}

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// Engine evaluates policy rules against prediction results.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*compiledRule
}

// NewEngine creates an engine with the scoring variables bound.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("fraud_score", cel.DoubleType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// LoadRules compiles and installs the given rules, replacing any loaded set.
// Disabled rules are skipped; a rule that fails to compile fails the load.
func (e *Engine) LoadRules(rules []Rule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if r.Action != domain.ActionReview && r.Action != domain.ActionBlock {
			return fmt.Errorf("policy rule %s: action must be REVIEW or BLOCK, got %q", r.ID, r.Action)
		}

		ast, issues := e.env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("policy rule %s: %w", r.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("policy rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
		}
		program, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("policy rule %s: %w", r.ID, err)
		}
		compiled = append(compiled, &compiledRule{rule: r, program: program})
	}

	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()
	return nil
}

// LoadFile reads a JSON array of rules from disk and installs it.
func (e *Engine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return e.LoadRules(rules)
}

// RuleCount returns the number of active rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Apply evaluates every rule against the result. A matching rule escalates
// the action when its target is stronger than the current one and records an
// override reason. Evaluation errors are logged and the rule skipped; policy
// must never fail a scoring request. Degraded no-models results are left
// untouched.
func (e *Engine) Apply(ctx context.Context, res *domain.PredictionResult, record domain.TransactionRecord) {
	if res.NoModels() {
		return
	}

	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()
	if len(compiled) == 0 {
		return
	}

	tx := map[string]float64(record)
	activation := map[string]any{
		"fraud_score": res.FraudScore,
		"risk_level":  res.RiskLevel,
		"action":      res.Action,
		"amount":      record.Get("amount", 0),
		"tx":          tx,
	}

	for _, cr := range compiled {
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			slog.Warn("policy rule evaluation failed",
				"rule", cr.rule.ID,
				"error", err,
			)
			continue
		}
		matched, ok := out.(types.Bool)
		if !ok || !bool(matched) {
			continue
		}

		if actionRank(cr.rule.Action) > actionRank(res.Action) {
			res.Action = cr.rule.Action
			if cr.rule.Action == domain.ActionBlock {
				res.RiskLevel = domain.RiskHigh
			} else if res.RiskLevel == domain.RiskLow {
				res.RiskLevel = domain.RiskMedium
			}
		}
		reason := cr.rule.ID
		if cr.rule.Description != "" {
			reason += ": " + cr.rule.Description
		}
		res.PolicyOverrides = append(res.PolicyOverrides, reason)
	}
}

func actionRank(action string) int {
	switch action {
	case domain.ActionBlock:
		return 2
	case domain.ActionReview:
		return 1
	default:
		return 0
	}
}
