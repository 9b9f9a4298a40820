package validation

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/google/cel-go/cel"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// ConditionChecker syntax-checks decision-step branch conditions without
// evaluating them. Conditions are authored in either CEL or expr; a string
// that compiles under at least one dialect is accepted. Thread-safe: check
// results are cached per expression.
type ConditionChecker struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]error
}

// NewConditionChecker creates a checker with a sandboxed CEL environment.
// The environment exposes the variables a running canvas would bind:
//   - steps:  map(string, dyn) of upstream step outputs keyed by step ID
//   - inputs: map(string, dyn) of workflow input parameters
//   - graph:  map(string, dyn) of canvas metadata (id, name)
func NewConditionChecker() (*ConditionChecker, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("steps", mapType),
		cel.Variable("inputs", mapType),
		cel.Variable("graph", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &ConditionChecker{
		env:   env,
		cache: make(map[string]error),
	}, nil
}

// Check reports whether expression parses in at least one supported dialect.
// Returns nil for the empty string; absent conditions are a semantic concern,
// not a syntax one.
func (c *ConditionChecker) Check(expression string) error {
	if expression == "" {
		return nil
	}

	c.mu.RLock()
	if cached, ok := c.cache[expression]; ok {
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := c.cache[expression]; ok {
		return cached
	}

	result := c.compileAny(expression)
	c.cache[expression] = result
	return result
}

// CheckBundle syntax-checks every decision-step condition in the bundle,
// adding a warning per condition that compiles in neither dialect. Broken
// conditions never block editing.
func (c *ConditionChecker) CheckBundle(bundle *schema.GraphBundle, result *schema.ValidationResult) {
	for i, step := range bundle.Steps {
		if step.Type != schema.StepTypeDecision || step.Condition == "" {
			continue
		}
		if err := c.Check(step.Condition); err != nil {
			result.AddWarning(fmt.Sprintf("steps[%d]", i), "condition_syntax",
				fmt.Sprintf("condition on step %q does not parse: %s", step.ID, err.Error()))
		}
	}
}

// compileAny tries CEL first, then expr. The CEL issue text wins when both
// fail since CEL is the primary dialect.
func (c *ConditionChecker) compileAny(expression string) error {
	_, issues := c.env.Compile(expression)
	if issues == nil || issues.Err() == nil {
		return nil
	}
	celErr := issues.Err()

	if _, err := expr.Compile(expression, expr.AllowUndefinedVariables()); err == nil {
		return nil
	}

	return schema.NewErrorf(schema.ErrCodeValidation,
		"condition %q does not compile: %s", expression, celErr.Error()).
		WithCause(celErr).
		WithDetails(map[string]any{"expression": expression})
}
