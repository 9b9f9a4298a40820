package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

func TestCheckBundleStructure_CleanBundle(t *testing.T) {
	result := checkBundleStructure(minimalBundle())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings())
}

func TestCheckBundleStructure_NoteCollidesWithStep(t *testing.T) {
	b := minimalBundle()
	b.Notes = []schema.Note{{ID: "build", AppearsWithStep: 1, Content: "shadowed"}}

	result := checkBundleStructure(b)
	assert.False(t, result.Valid())
	require.Len(t, result.Errors(), 1)
	assert.Equal(t, "duplicate_id", result.Errors()[0].Code)
}

func TestCheckBundleStructure_NoteLayerWarning(t *testing.T) {
	b := minimalBundle()
	b.Notes = []schema.Note{{ID: "n1", AppearsWithStep: 0, Content: "too early"}}

	result := checkBundleStructure(b)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings(), 1)
	assert.Equal(t, "note_layer", result.Warnings()[0].Code)
}

func TestCheckBundleStructure_OrphanPosition(t *testing.T) {
	b := minimalBundle()
	b.Positions["gone"] = schema.Position{X: 1, Y: 2}

	result := checkBundleStructure(b)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings(), 1)
	assert.Equal(t, "orphan_position", result.Warnings()[0].Code)
}

func TestCheckBundleStructure_MissingResourceWarning(t *testing.T) {
	b := minimalBundle()
	b.Steps = append(b.Steps, schema.Step{ID: "call", Label: "Call", Type: schema.StepTypeToolCall})

	result := checkBundleStructure(b)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings(), 1)
	assert.Equal(t, "missing_resource", result.Warnings()[0].Code)
}

func TestCheckBundleStructure_UnusedConditionWarning(t *testing.T) {
	b := minimalBundle()
	b.Steps[1].Condition = "inputs.x > 0"

	result := checkBundleStructure(b)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings(), 1)
	assert.Equal(t, "unused_condition", result.Warnings()[0].Code)
}

func TestCheckFragmentStructure_DanglingEdgeWarns(t *testing.T) {
	frag := &schema.Fragment{
		Steps: []schema.Step{
			{ID: "a", Label: "A", Type: schema.StepTypeToolCall, ResourcePath: "tools/a"},
		},
		Edges: []schema.EdgeConnection{
			{Source: "a", Target: "outside"},
		},
	}

	result := checkFragmentStructure(frag)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings(), 1)
	assert.Equal(t, "dangling_edge", result.Warnings()[0].Code)
}
