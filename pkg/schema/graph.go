package schema

import "encoding/json"

// GraphBundle is the JSON-serializable graph format.
// It is the shape exchanged with persistence, templates, and the rendering
// collaborator: one workflow canvas with its steps, edges, notes, and the
// position side table.
type GraphBundle struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Steps     []Step           `json:"steps"`
	Edges     []EdgeConnection `json:"edges"`
	Notes     []Note           `json:"notes,omitempty"`
	Positions Positions        `json:"positions"`
}

// Step is a single node on the canvas.
type Step struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	Description  string          `json:"description,omitempty"`
	Type         StepType        `json:"nodeType"`
	ResourcePath string          `json:"resourcePath,omitempty"` // tool/skill path for tool-call and skill-invocation steps
	PromptPath   string          `json:"promptPath,omitempty"`   // prompt-fragment path
	Condition    string          `json:"condition,omitempty"`    // branch expression on decision steps
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// StepType enumerates the kinds of steps on a canvas.
type StepType string

const (
	StepTypeEntry           StepType = "entry"
	StepTypeSkillInvocation StepType = "skill-invocation"
	StepTypeBackgroundAgent StepType = "background-agent"
	StepTypeToolCall        StepType = "tool-call"
	StepTypeShellCommand    StepType = "shell-command"
	StepTypeDecision        StepType = "decision"
	StepTypeCompletion      StepType = "completion"
	StepTypeGroupContainer  StepType = "group-container"
)

// validStepTypes is the set of recognized step types.
var validStepTypes = map[StepType]bool{
	StepTypeEntry:           true,
	StepTypeSkillInvocation: true,
	StepTypeBackgroundAgent: true,
	StepTypeToolCall:        true,
	StepTypeShellCommand:    true,
	StepTypeDecision:        true,
	StepTypeCompletion:      true,
	StepTypeGroupContainer:  true,
}

// ValidStepType reports whether t is one of the recognized step types.
func ValidStepType(t StepType) bool { return validStepTypes[t] }

// EdgeConnection is a directed relation between two step IDs.
// Handles name geometric attachment points on each endpoint; they are opaque
// to the engine and owned by the rendering/layout collaborators.
type EdgeConnection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Label        string `json:"label,omitempty"`
}

// Same reports whether two edges connect the same endpoints through the same
// handles. Labels are not part of edge identity.
func (e EdgeConnection) Same(other EdgeConnection) bool {
	return e.Source == other.Source && e.Target == other.Target &&
		e.SourceHandle == other.SourceHandle && e.TargetHandle == other.TargetHandle
}

// Note is a free-floating annotation, independent of the step graph.
// AppearsWithStep is the 1-indexed depth layer at which the note becomes
// visible, not a step reference.
type Note struct {
	ID              string   `json:"id"`
	AppearsWithStep int      `json:"appearsWithStep"`
	Position        Position `json:"position"`
	Content         string   `json:"content"`
	Width           float64  `json:"width,omitempty"`
	Height          float64  `json:"height,omitempty"`
}

// Position is a 2-D canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Positions maps any node ID (step, note, or group container) to its canvas
// coordinate. Kept as a side table so layout and grouping can rewrite
// coordinates without touching step or edge identity.
type Positions map[string]Position

// Clone returns a deep copy of the position table.
func (p Positions) Clone() Positions {
	out := make(Positions, len(p))
	for id, pos := range p {
		out[id] = pos
	}
	return out
}

// Clone returns a deep copy of the bundle. Snapshots taken for undo/redo and
// values returned across API boundaries must never alias live slices or maps.
func (b *GraphBundle) Clone() *GraphBundle {
	if b == nil {
		return nil
	}
	out := &GraphBundle{
		ID:        b.ID,
		Name:      b.Name,
		Steps:     make([]Step, len(b.Steps)),
		Edges:     make([]EdgeConnection, len(b.Edges)),
		Positions: b.Positions.Clone(),
	}
	for i, s := range b.Steps {
		if len(s.Metadata) > 0 {
			s.Metadata = append(json.RawMessage(nil), s.Metadata...)
		}
		out.Steps[i] = s
	}
	copy(out.Edges, b.Edges)
	if len(b.Notes) > 0 {
		out.Notes = make([]Note, len(b.Notes))
		copy(out.Notes, b.Notes)
	}
	return out
}

// FindStep returns the step with the given ID, or nil.
func (b *GraphBundle) FindStep(id string) *Step {
	for i := range b.Steps {
		if b.Steps[i].ID == id {
			return &b.Steps[i]
		}
	}
	return nil
}

// FindNote returns the note with the given ID, or nil.
func (b *GraphBundle) FindNote(id string) *Note {
	for i := range b.Notes {
		if b.Notes[i].ID == id {
			return &b.Notes[i]
		}
	}
	return nil
}

// HasID reports whether id is used by any step or note in the bundle.
func (b *GraphBundle) HasID(id string) bool {
	return b.FindStep(id) != nil || b.FindNote(id) != nil
}

// SyncNotePositions folds note wire positions into the side table (missing
// entries only) and writes side-table coordinates back onto each note, so
// both views agree after a load or before a save.
func (b *GraphBundle) SyncNotePositions() {
	if b.Positions == nil {
		b.Positions = make(Positions)
	}
	for i := range b.Notes {
		id := b.Notes[i].ID
		if _, ok := b.Positions[id]; !ok {
			b.Positions[id] = b.Notes[i].Position
		}
		b.Notes[i].Position = b.Positions[id]
	}
}

// Fragment is an externally supplied partial graph (a template or a single
// palette item) to be merged into a live bundle with fresh identifiers.
type Fragment struct {
	Steps     []Step           `json:"steps"`
	Edges     []EdgeConnection `json:"edges,omitempty"`
	Notes     []Note           `json:"notes,omitempty"`
	Positions Positions        `json:"positions"`
}
