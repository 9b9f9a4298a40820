package engine

import "github.com/GGPrompts/flowcanvas/pkg/schema"

// FocusRequester is notified when new nodes are revealed so the rendering
// collaborator can fit the viewport to them. A nil requester is a no-op.
type FocusRequester interface {
	Focus(nodeIDs []string)
}

// Stepper is the visibility controller: given the current depth groups it
// derives the visible node and edge sets and drives reveal/hide transitions.
//
// currentDepth is a 1-indexed "how many layers are revealed" counter, kept
// within [1, group count] (0 when there are no groups).
type Stepper struct {
	groups       []DepthGroup
	currentDepth int
	focus        FocusRequester
}

// NewStepper creates a Stepper over the given depth groups, starting with
// only the first layer revealed.
func NewStepper(groups []DepthGroup, focus FocusRequester) *Stepper {
	return &Stepper{
		groups:       groups,
		currentDepth: clampDepth(1, len(groups)),
		focus:        focus,
	}
}

// CurrentDepth returns the number of currently revealed layers.
func (s *Stepper) CurrentDepth() int { return s.currentDepth }

// GroupCount returns the number of depth groups.
func (s *Stepper) GroupCount() int { return len(s.groups) }

// SetGroups replaces the depth groups after a partition change and re-clamps
// the current depth into the new range. Calling it twice with the same groups
// leaves the visible sets unchanged.
func (s *Stepper) SetGroups(groups []DepthGroup) {
	s.groups = groups
	s.currentDepth = clampDepth(s.currentDepth, len(groups))
}

// Advance reveals one more layer, clamped to the last, and returns the newly
// revealed node IDs (empty when already at the last layer). The focus
// requester is asked to fit the revealed nodes.
func (s *Stepper) Advance() []string {
	if s.currentDepth >= len(s.groups) {
		return nil
	}
	s.currentDepth++
	revealed := append([]string(nil), s.groups[s.currentDepth-1]...)
	if s.focus != nil && len(revealed) > 0 {
		s.focus.Focus(revealed)
	}
	return revealed
}

// Retreat hides the deepest revealed layer, clamped to the first.
func (s *Stepper) Retreat() {
	if s.currentDepth > 1 {
		s.currentDepth--
	}
}

// ShowAll reveals every layer.
func (s *Stepper) ShowAll() {
	s.currentDepth = clampDepth(len(s.groups), len(s.groups))
}

// Reset returns to the first layer only.
func (s *Stepper) Reset() {
	s.currentDepth = clampDepth(1, len(s.groups))
}

// VisibleNodeIDs returns the union of all groups shallower than the current
// depth, i.e. every node revealed so far.
func (s *Stepper) VisibleNodeIDs() map[string]bool {
	visible := make(map[string]bool)
	for i := 0; i < s.currentDepth && i < len(s.groups); i++ {
		for _, id := range s.groups[i] {
			visible[id] = true
		}
	}
	return visible
}

// NodesAtDepth returns exactly the group at the given 1-indexed depth, or nil
// when out of range.
func (s *Stepper) NodesAtDepth(depth int) []string {
	if depth < 1 || depth > len(s.groups) {
		return nil
	}
	return append([]string(nil), s.groups[depth-1]...)
}

// VisibleEdges filters edges to those with both endpoints in the visible node
// set. Edges are never independently toggled.
func (s *Stepper) VisibleEdges(edges []schema.EdgeConnection) []schema.EdgeConnection {
	visible := s.VisibleNodeIDs()
	var out []schema.EdgeConnection
	for _, e := range edges {
		if visible[e.Source] && visible[e.Target] {
			out = append(out, e)
		}
	}
	return out
}

// VisibleNotes filters notes to those whose layer is revealed.
func (s *Stepper) VisibleNotes(notes []schema.Note) []schema.Note {
	var out []schema.Note
	for _, n := range notes {
		if n.AppearsWithStep <= s.currentDepth {
			out = append(out, n)
		}
	}
	return out
}

// clampDepth keeps d within [1, count], or 0 when there are no groups.
func clampDepth(d, count int) int {
	if count == 0 {
		return 0
	}
	if d < 1 {
		return 1
	}
	if d > count {
		return count
	}
	return d
}
