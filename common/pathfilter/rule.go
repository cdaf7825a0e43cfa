package pathfilter

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// RuleEvaluator evaluates per-project classification rules written in
// CEL. A rule sees one changed file at a time as {path, additions,
// deletions} and returns whether the file should be classified at all.
// Compiled programs are cached per expression.
type RuleEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewRuleEvaluator creates a new rule evaluator with caching
func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{
		cache: make(map[string]cel.Program),
	}
}

// ChangedFile is the variable set a classification rule evaluates over
type ChangedFile struct {
	Path      string
	Additions int
	Deletions int
}

// Evaluate runs the rule against a changed file. An empty expression
// means no rule is configured and every file passes.
func (e *RuleEvaluator) Evaluate(expr string, file ChangedFile) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"path":      file.Path,
		"additions": file.Additions,
		"deletions": file.Deletions,
	})
	if err != nil {
		return false, fmt.Errorf("rule evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule did not return boolean, got %T", out.Value())
	}

	return result, nil
}

// Validate compiles an expression without evaluating it, so project
// registration can reject broken rules up front.
func (e *RuleEvaluator) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := e.program(expr)
	return err
}

func (e *RuleEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()
	if exists {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("path", cel.StringType),
		cel.Variable("additions", cel.IntType),
		cel.Variable("deletions", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule: %w", issues.Err())
	}

	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule program: %w", err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()

	return prg, nil
}
