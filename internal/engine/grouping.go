package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// Bounding box padding and title-bar allowance for new group containers.
const (
	groupPadding = 40.0
	groupHeader  = 30.0
)

// Grouper is the node-grouping subsystem: it converts a selected node set
// into a collapsible group-container step and back, re-parenting positions
// and deriving collapsed-node visibility.
//
// Membership is editor state, not graph state: it is not part of history
// snapshots, so after a restore Prune discards entries whose nodes are gone.
type Grouper struct {
	membership map[string]string // child ID → container ID
	collapsed  map[string]bool   // container ID → collapsed flag
}

// NewGrouper creates an empty Grouper.
func NewGrouper() *Grouper {
	return &Grouper{
		membership: make(map[string]string),
		collapsed:  make(map[string]bool),
	}
}

// Group converts the selected nodes into a new group container: it computes
// the bounding rectangle of their positions (with padding and a header
// allowance), appends a group-container step at the rectangle origin, records
// membership, and rewrites each child position to be relative to that origin.
// Edges are not altered. With fewer than two resolvable nodes it is a no-op
// and returns "".
func (g *Grouper) Group(b *schema.GraphBundle, selectedIDs []string) string {
	var members []string
	for _, id := range selectedIDs {
		if _, ok := b.Positions[id]; ok && b.HasID(id) {
			members = append(members, id)
		}
	}
	if len(members) < 2 {
		return ""
	}

	minX, minY := b.Positions[members[0]].X, b.Positions[members[0]].Y
	for _, id := range members[1:] {
		p := b.Positions[id]
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
	}
	origin := schema.Position{
		X: minX - groupPadding,
		Y: minY - groupPadding - groupHeader,
	}

	containerID := uuid.New().String()
	b.Steps = append(b.Steps, schema.Step{
		ID:    containerID,
		Label: fmt.Sprintf("Group (%d)", len(members)),
		Type:  schema.StepTypeGroupContainer,
	})
	b.Positions[containerID] = origin
	g.collapsed[containerID] = false

	for _, id := range members {
		abs := b.Positions[id]
		b.Positions[id] = schema.Position{X: abs.X - origin.X, Y: abs.Y - origin.Y}
		g.membership[id] = containerID
	}
	return containerID
}

// Ungroup dissolves a container: each child position is converted back to
// absolute (relative plus container origin), membership entries are removed,
// and the container step and its position are deleted. Unknown container IDs
// are a no-op.
func (g *Grouper) Ungroup(b *schema.GraphBundle, containerID string) bool {
	if _, known := g.collapsed[containerID]; !known {
		return false
	}
	origin := b.Positions[containerID]

	for child, container := range g.membership {
		if container != containerID {
			continue
		}
		rel := b.Positions[child]
		b.Positions[child] = schema.Position{X: rel.X + origin.X, Y: rel.Y + origin.Y}
		delete(g.membership, child)
	}

	delete(g.collapsed, containerID)
	delete(b.Positions, containerID)
	for i := range b.Steps {
		if b.Steps[i].ID == containerID {
			b.Steps = append(b.Steps[:i], b.Steps[i+1:]...)
			break
		}
	}
	return true
}

// ToggleCollapse flips a container's collapsed flag. Unknown container IDs
// are a no-op. While collapsed, the container's children and every edge with
// an endpoint among them are hidden (see HiddenNodes / HidesEdge).
func (g *Grouper) ToggleCollapse(containerID string) bool {
	if _, known := g.collapsed[containerID]; !known {
		return false
	}
	g.collapsed[containerID] = !g.collapsed[containerID]
	return true
}

// IsCollapsed reports whether the container is currently collapsed.
func (g *Grouper) IsCollapsed(containerID string) bool {
	return g.collapsed[containerID]
}

// ContainerOf returns the container holding the node, or "".
func (g *Grouper) ContainerOf(nodeID string) string {
	return g.membership[nodeID]
}

// Children returns the member IDs of a container.
func (g *Grouper) Children(containerID string) []string {
	var out []string
	for child, container := range g.membership {
		if container == containerID {
			out = append(out, child)
		}
	}
	return out
}

// Membership returns a copy of the child-to-container map.
func (g *Grouper) Membership() map[string]string {
	out := make(map[string]string, len(g.membership))
	for child, container := range g.membership {
		out[child] = container
	}
	return out
}

// HiddenNodes returns the set of node IDs hidden by collapsed containers.
func (g *Grouper) HiddenNodes() map[string]bool {
	hidden := make(map[string]bool)
	for child, container := range g.membership {
		if g.collapsed[container] {
			hidden[child] = true
		}
	}
	return hidden
}

// HidesEdge reports whether the edge has at least one endpoint inside a
// collapsed container.
func (g *Grouper) HidesEdge(e schema.EdgeConnection) bool {
	hidden := g.HiddenNodes()
	return hidden[e.Source] || hidden[e.Target]
}

// Forget removes a deleted node from membership tracking. Deleting a
// container also forgets its collapse flag; members keep their (now
// absolute-relative) positions untouched.
func (g *Grouper) Forget(nodeID string) {
	delete(g.membership, nodeID)
	if _, ok := g.collapsed[nodeID]; ok {
		delete(g.collapsed, nodeID)
		for child, container := range g.membership {
			if container == nodeID {
				delete(g.membership, child)
			}
		}
	}
}

// Prune drops membership and collapse entries whose nodes are no longer in
// the bundle. Called after a history restore, which replaces graph state but
// not editor-side grouping state.
func (g *Grouper) Prune(b *schema.GraphBundle) {
	for container := range g.collapsed {
		if b.FindStep(container) == nil {
			g.Forget(container)
		}
	}
	for child := range g.membership {
		if !b.HasID(child) {
			delete(g.membership, child)
		}
	}
}
