package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

func newChecker(t *testing.T) *ConditionChecker {
	t.Helper()
	c, err := NewConditionChecker()
	require.NoError(t, err)
	return c
}

func TestConditionChecker_CELDialect(t *testing.T) {
	c := newChecker(t)

	assert.NoError(t, c.Check(`steps["build"].status == "ok"`))
	assert.NoError(t, c.Check(`inputs.retries > 3 && graph.name != ""`))
}

func TestConditionChecker_ExprDialect(t *testing.T) {
	c := newChecker(t)

	// Valid expr but not valid CEL; the checker accepts either dialect.
	assert.NoError(t, c.Check(`len(items) > 0 ? "some" : "none"`))
	assert.NoError(t, c.Check(`count ?? 0`))
}

func TestConditionChecker_Empty(t *testing.T) {
	c := newChecker(t)
	assert.NoError(t, c.Check(""))
}

func TestConditionChecker_Invalid(t *testing.T) {
	c := newChecker(t)

	err := c.Check(`steps[ ==`)
	require.Error(t, err)

	cErr, ok := err.(*schema.CanvasError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
}

func TestConditionChecker_CachesResults(t *testing.T) {
	c := newChecker(t)

	require.NoError(t, c.Check(`1 == 1`))
	require.Error(t, c.Check(`((`))

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Len(t, c.cache, 2)
}

func TestConditionChecker_CheckBundle(t *testing.T) {
	c := newChecker(t)

	bundle := &schema.GraphBundle{
		Steps: []schema.Step{
			{ID: "gate-ok", Label: "Gate", Type: schema.StepTypeDecision, Condition: `inputs.x > 0`},
			{ID: "gate-bad", Label: "Gate", Type: schema.StepTypeDecision, Condition: `((`},
			{ID: "plain", Label: "Step", Type: schema.StepTypeToolCall, ResourcePath: "tools/x"},
		},
	}

	result := &schema.ValidationResult{}
	c.CheckBundle(bundle, result)

	assert.True(t, result.Valid())
	require.Len(t, result.Warnings(), 1)
	assert.Contains(t, result.Warnings()[0].Message, "gate-bad")
}

func TestConditionChecker_Concurrent(t *testing.T) {
	c := newChecker(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Check(`steps["a"].done == true`))
		}()
	}
	wg.Wait()
}
