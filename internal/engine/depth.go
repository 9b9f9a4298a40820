package engine

import "github.com/GGPrompts/flowcanvas/pkg/schema"

// DepthGroup is the set of node IDs at one breadth-first distance from the
// primary entry, in discovery order.
type DepthGroup []string

// Partition splits a step graph into ordered depth groups: group index equals
// BFS distance from the primary entry. Pure and deterministic for a fixed
// (steps, edges) input.
//
// Only one entry is traversed. Steps unreachable from it, including whole
// disconnected components, appear in no group; they are not an error, just
// absent from the stepper. Cycles terminate because a step is marked visited
// on first discovery and never re-queued.
func Partition(steps []schema.Step, edges []schema.EdgeConnection) []DepthGroup {
	if len(steps) == 0 {
		return nil
	}

	known := make(map[string]bool, len(steps))
	for _, s := range steps {
		known[s.ID] = true
	}

	// Forward adjacency and in-degree, counting only edges whose both
	// endpoints exist among steps. Upstream mutation paths keep the edge
	// list consistent, but the partitioner must tolerate drift.
	adjacency := make(map[string][]string, len(steps))
	inDegree := make(map[string]int, len(steps))
	for _, e := range edges {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		inDegree[e.Target]++
	}

	entry := primaryEntry(steps, inDegree)

	// BFS from the single chosen entry, recording distance on first visit.
	distance := map[string]int{entry: 0}
	queue := []string{entry}
	maxDepth := 0

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		d := distance[node]
		if d > maxDepth {
			maxDepth = d
		}
		for _, next := range adjacency[node] {
			if _, visited := distance[next]; visited {
				continue
			}
			distance[next] = d + 1
			queue = append(queue, next)
		}
	}

	// Group by distance, preserving step input order within each group.
	groups := make([]DepthGroup, maxDepth+1)
	for _, s := range steps {
		if d, ok := distance[s.ID]; ok {
			groups[d] = append(groups[d], s.ID)
		}
	}
	return groups
}

// primaryEntry picks the BFS root: the first input-order step of type entry
// with no incoming edges, else the first step of any type with no incoming
// edges, else the first step.
func primaryEntry(steps []schema.Step, inDegree map[string]int) string {
	for _, s := range steps {
		if s.Type == schema.StepTypeEntry && inDegree[s.ID] == 0 {
			return s.ID
		}
	}
	for _, s := range steps {
		if inDegree[s.ID] == 0 {
			return s.ID
		}
	}
	return steps[0].ID
}
