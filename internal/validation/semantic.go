package validation

import (
	"fmt"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// checkBundleStructure runs the structural checks JSON Schema cannot express:
// identifier uniqueness, edge endpoint resolution, edge duplication, and
// per-type field expectations.
func checkBundleStructure(bundle *schema.GraphBundle) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]struct{}, len(bundle.Steps))
	for i, step := range bundle.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if _, exists := stepIDs[step.ID]; exists {
			result.AddError(path, "duplicate_id", fmt.Sprintf("duplicate step id %q", step.ID))
			continue
		}
		stepIDs[step.ID] = struct{}{}

		checkStepFields(path, step, result)
	}

	noteIDs := make(map[string]struct{}, len(bundle.Notes))
	for i, note := range bundle.Notes {
		path := fmt.Sprintf("notes[%d]", i)
		if _, exists := stepIDs[note.ID]; exists {
			result.AddError(path, "duplicate_id",
				fmt.Sprintf("note id %q collides with a step id", note.ID))
		}
		if _, exists := noteIDs[note.ID]; exists {
			result.AddError(path, "duplicate_id", fmt.Sprintf("duplicate note id %q", note.ID))
			continue
		}
		noteIDs[note.ID] = struct{}{}

		if note.AppearsWithStep < 1 {
			result.AddWarning(path, "note_layer",
				fmt.Sprintf("note %q has reveal layer %d; layers are counted from 1",
					note.ID, note.AppearsWithStep))
		}
	}

	checkEdges(bundle.Edges, stepIDs, result)

	for id := range bundle.Positions {
		if _, ok := stepIDs[id]; ok {
			continue
		}
		if _, ok := noteIDs[id]; ok {
			continue
		}
		result.AddWarning("positions", "orphan_position",
			fmt.Sprintf("position entry %q does not match any step or note", id))
	}

	return result
}

// checkFragmentStructure runs the structural checks for a merge fragment.
// Endpoint resolution is scoped to the fragment: edges reaching outside it are
// dropped at merge time, so they are warnings here rather than errors.
func checkFragmentStructure(frag *schema.Fragment) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]struct{}, len(frag.Steps))
	for i, step := range frag.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if _, exists := stepIDs[step.ID]; exists {
			result.AddError(path, "duplicate_id", fmt.Sprintf("duplicate step id %q", step.ID))
			continue
		}
		stepIDs[step.ID] = struct{}{}

		checkStepFields(path, step, result)
	}

	checkEdges(frag.Edges, stepIDs, result)

	return result
}

// checkStepFields validates per-type field expectations for one step.
func checkStepFields(path string, step schema.Step, result *schema.ValidationResult) {
	switch step.Type {
	case schema.StepTypeDecision:
		if step.Condition == "" {
			result.AddWarning(path, "missing_condition",
				fmt.Sprintf("decision step %q has no branch condition", step.ID))
		}
	case schema.StepTypeToolCall, schema.StepTypeSkillInvocation:
		if step.ResourcePath == "" {
			result.AddWarning(path, "missing_resource",
				fmt.Sprintf("%s step %q has no resource path", step.Type, step.ID))
		}
	}

	if step.Condition != "" && step.Type != schema.StepTypeDecision {
		result.AddWarning(path, "unused_condition",
			fmt.Sprintf("step %q carries a condition but is not a decision step", step.ID))
	}
}

// checkEdges validates edge endpoint resolution and edge identity uniqueness.
// Edges pointing at unknown steps are tolerated by traversal, so they warn.
func checkEdges(edges []schema.EdgeConnection, stepIDs map[string]struct{}, result *schema.ValidationResult) {
	for i, e := range edges {
		path := fmt.Sprintf("edges[%d]", i)
		if _, ok := stepIDs[e.Source]; !ok {
			result.AddWarning(path, "dangling_edge",
				fmt.Sprintf("edge source %q does not match any step", e.Source))
		}
		if _, ok := stepIDs[e.Target]; !ok {
			result.AddWarning(path, "dangling_edge",
				fmt.Sprintf("edge target %q does not match any step", e.Target))
		}
		for j := 0; j < i; j++ {
			if e.Same(edges[j]) {
				result.AddError(path, "duplicate_edge",
					fmt.Sprintf("edge %s -> %s repeats edges[%d]", e.Source, e.Target, j))
				break
			}
		}
	}
}
