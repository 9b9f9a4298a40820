// Package query evaluates jq expressions against graph bundles so agents can
// inspect a canvas without walking the full JSON themselves ("which steps have
// no outgoing edges", "all decision conditions", and so on).
package query

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// Engine runs jq queries over a bundle's JSON form.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewEngine creates a new query engine.
func NewEngine() *Engine {
	return &Engine{
		cache: make(map[string]*gojq.Code),
	}
}

// Run compiles (or retrieves from cache) a jq expression and evaluates it
// against the bundle's JSON representation.
//
// jq expressions can produce multiple outputs. When there is exactly one
// output, it is returned directly. When there are multiple outputs, they are
// collected into a slice and returned as []any.
func (e *Engine) Run(ctx context.Context, expression string, bundle *schema.GraphBundle) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeQuery, "empty jq expression")
	}
	if bundle == nil {
		return nil, schema.NewError(schema.ErrCodeQuery, "graph bundle is nil")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	input, err := toJSONMap(bundle)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeQuery, "failed to serialize graph bundle").WithCause(err)
	}

	iter := code.RunWithContext(ctx, input)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeQuery,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *Engine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeQuery,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeQuery,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// toJSONMap round-trips the bundle through JSON so the query input only
// contains the types gojq understands (map[string]any, []any, float64).
func toJSONMap(bundle *schema.GraphBundle) (map[string]any, error) {
	b, err := json.Marshal(bundle)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
