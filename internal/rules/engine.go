// Package rules provides the CEL-based transaction screening engine.
// Screening rules are tenant-authored expressions evaluated per transaction
// during a scan; matches become alerts alongside the built-in detectors.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/nguyendon/fraudasaurus.ai/internal/domain"
)

// Engine compiles and evaluates screening rules. Rules are compiled once
// at load and hot-swapped under a read-write lock, so scans never pay
// compilation cost.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program with its source rule.
type CompiledRule struct {
	Rule    *domain.ScreenRule
	Program cel.Program
}

// NewEngine creates a screening engine. The CEL environment exposes one
// transaction at a time; rules must evaluate to a boolean.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("abs_amount", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("memo", cel.StringType),
		cel.Variable("account_id", cel.StringType),
		cel.Variable("is_outflow", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.ScreenRule) error {
	if rule == nil {
		return fmt.Errorf("screen rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads one rule into the engine.
func (e *Engine) LoadRule(rule *domain.ScreenRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}
	e.compiledRules[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads all enabled rules.
func (e *Engine) LoadRules(rules []*domain.ScreenRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules atomically replaces the loaded rule set. A compile failure
// leaves the previous set untouched.
func (e *Engine) ReloadRules(rules []*domain.ScreenRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}
	e.compiledRules = newRules
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rules.
func (e *Engine) GetLoadedRules() []*domain.ScreenRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.ScreenRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Screen evaluates every loaded rule against every transaction, fanning
// out per transaction under a bounded worker pool. A rule that matches a
// transaction produces one alert on the transaction's account; evaluation
// errors on individual transactions are skipped, not fatal.
func (e *Engine) Screen(ctx context.Context, txs []domain.Transaction) []domain.Alert {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 || len(txs) == 0 {
		return nil
	}

	alertsPerTx := make([][]domain.Alert, len(txs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i := range txs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			alertsPerTx[idx] = e.screenOne(&txs[idx], rules)
		}(i)
	}
	wg.Wait()

	var out []domain.Alert
	for _, alerts := range alertsPerTx {
		out = append(out, alerts...)
	}
	return out
}

func (e *Engine) screenOne(tx *domain.Transaction, rules []*CompiledRule) []domain.Alert {
	amount, _ := tx.Amount.Float64()
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	activation := map[string]any{
		"amount":     amount,
		"abs_amount": abs,
		"tx_type":    tx.Type,
		"memo":       tx.Memo,
		"account_id": tx.AccountID,
		"is_outflow": tx.Amount.IsNegative(),
	}

	var alerts []domain.Alert
	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			continue
		}
		matched, ok := out.(types.Bool)
		if !ok || !bool(matched) {
			continue
		}
		alerts = append(alerts, domain.NewAlert(
			domain.Subject{Kind: domain.SubjectAccount, ID: tx.AccountID},
			rule.Rule.Category,
			rule.Rule.Severity,
			fmt.Sprintf("screen rule %q matched transaction %s", rule.Rule.Name, tx.ID),
		))
	}
	return alerts
}

// Close clears the loaded rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.ScreenRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}
