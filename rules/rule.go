package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/songzhibin97/dolphin-sync/engine"
)

// Evaluator defines the interface for evaluating rule expressions.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
type ExprEvaluator struct {
	cache   map[string]*vm.Program
	mu      sync.RWMutex
	derived map[string]func(map[string]interface{}) interface{}
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:   make(map[string]*vm.Program),
		derived: make(map[string]func(map[string]interface{}) interface{}),
	}
}

// AddDerived registers a variable computed from the rest of the environment.
func (e *ExprEvaluator) AddDerived(name string, f func(map[string]interface{}) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.derived[name] = f
}

// Evaluate evaluates the given expression against env. The caller's map is not modified.
// The expression must evaluate to a boolean; otherwise, an error is returned.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	e.mu.RLock()
	scope := make(map[string]interface{}, len(env)+len(e.derived))
	for k, v := range env {
		scope[k] = v
	}
	for k, f := range e.derived {
		scope[k] = f(env)
	}
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(scope))
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, scope)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

// WorkflowFilter selects engine workflows for a project-wide sync.
type WorkflowFilter struct {
	expression string
	evaluator  Evaluator
}

// NewWorkflowFilter checks the syntax of expression. An empty expression matches every workflow.
// The environment exposes the summary fields plus "scheduled" (schedule is online).
func NewWorkflowFilter(expression string) (*WorkflowFilter, error) {
	if expression != "" {
		if _, err := expr.Compile(expression); err != nil {
			return nil, fmt.Errorf("invalid workflow filter %q: %w", expression, err)
		}
	}
	evaluator := NewExprEvaluator()
	evaluator.AddDerived("scheduled", func(env map[string]interface{}) interface{} {
		return env["scheduleReleaseState"] == "ONLINE"
	})
	return &WorkflowFilter{expression: expression, evaluator: evaluator}, nil
}

// Expression returns the filter expression.
func (f *WorkflowFilter) Expression() string {
	return f.expression
}

// Match reports whether the workflow passes the filter.
func (f *WorkflowFilter) Match(s engine.WorkflowSummary) (bool, error) {
	if f.expression == "" {
		return true, nil
	}
	return f.evaluator.Evaluate(f.expression, s.Env())
}

// Split partitions list into matching and skipped workflows, keeping order.
func (f *WorkflowFilter) Split(list []engine.WorkflowSummary) (matched, skipped []engine.WorkflowSummary, err error) {
	for _, s := range list {
		ok, err := f.Match(s)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow %d: %w", s.Code, err)
		}
		if ok {
			matched = append(matched, s)
		} else {
			skipped = append(skipped, s)
		}
	}
	return matched, skipped, nil
}
