package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// mergeGap is the horizontal gap between the live graph's rightmost extent
// and a merged template fragment.
const mergeGap = 160.0

// MergeResult reports what Instantiate added to the live bundle.
type MergeResult struct {
	StepIDs []string
	NoteIDs []string
	IDMap   map[string]string // fragment ID → live ID
}

// Instantiate splices a fragment into the live bundle with fresh identifiers
// and a spatial offset. It is used both for dropping a single palette item
// (anchor = drop location) and for merging a whole template (anchor nil:
// the fragment stacks to the right of the live graph's rightmost extent).
//
// Every fragment step and note gets a freshly generated UUID, and every
// fragment edge is remapped through the old→new map, so a merge can never
// reuse a live identifier or introduce an edge whose endpoint was not
// remapped. A generated ID colliding with the live graph indicates a
// generator defect and panics rather than silently proceeding.
func Instantiate(live *schema.GraphBundle, frag *schema.Fragment, anchor *schema.Position) MergeResult {
	result := MergeResult{IDMap: make(map[string]string, len(frag.Steps)+len(frag.Notes))}
	if live.Positions == nil {
		live.Positions = make(schema.Positions)
	}

	for _, s := range frag.Steps {
		result.IDMap[s.ID] = freshID(live)
	}
	for _, n := range frag.Notes {
		result.IDMap[n.ID] = freshID(live)
	}

	offset := mergeOffset(live, frag, anchor)

	for _, s := range frag.Steps {
		newID := result.IDMap[s.ID]
		remapped := s
		remapped.ID = newID
		live.Steps = append(live.Steps, remapped)
		result.StepIDs = append(result.StepIDs, newID)
		if pos, ok := frag.Positions[s.ID]; ok {
			live.Positions[newID] = schema.Position{X: pos.X + offset.X, Y: pos.Y + offset.Y}
		}
	}

	for _, e := range frag.Edges {
		src, srcOK := result.IDMap[e.Source]
		dst, dstOK := result.IDMap[e.Target]
		if !srcOK || !dstOK {
			// Fragment edge pointing outside the fragment; drop it rather
			// than splice a dangling reference into the live graph.
			continue
		}
		remapped := e
		remapped.Source = src
		remapped.Target = dst
		live.Edges = append(live.Edges, remapped)
	}

	for _, n := range frag.Notes {
		newID := result.IDMap[n.ID]
		remapped := n
		remapped.ID = newID
		pos, ok := frag.Positions[n.ID]
		if !ok {
			pos = n.Position
		}
		remapped.Position = schema.Position{X: pos.X + offset.X, Y: pos.Y + offset.Y}
		live.Notes = append(live.Notes, remapped)
		live.Positions[newID] = remapped.Position
		result.NoteIDs = append(result.NoteIDs, newID)
	}

	return result
}

// freshID generates a UUID guaranteed absent from the live bundle.
func freshID(live *schema.GraphBundle) string {
	id := uuid.New().String()
	if live.HasID(id) {
		panic(fmt.Sprintf("engine: generated duplicate node ID %s", id))
	}
	return id
}

// mergeOffset computes the translation applied to every fragment position.
// With an anchor (single-item drop) the fragment's minimum coordinate lands
// exactly on the anchor. Without one (template merge) the fragment is placed
// one gap to the right of the live graph's rightmost node, at its own height.
func mergeOffset(live *schema.GraphBundle, frag *schema.Fragment, anchor *schema.Position) schema.Position {
	minX, minY, found := fragmentMin(frag)

	if anchor != nil {
		if !found {
			return *anchor
		}
		return schema.Position{X: anchor.X - minX, Y: anchor.Y - minY}
	}

	rightmost, liveHasNodes := 0.0, false
	for _, pos := range live.Positions {
		if !liveHasNodes || pos.X > rightmost {
			rightmost = pos.X
			liveHasNodes = true
		}
	}
	if !liveHasNodes || !found {
		return schema.Position{}
	}
	return schema.Position{X: rightmost + mergeGap - minX, Y: 0}
}

// fragmentMin returns the fragment's minimum coordinate over all positioned
// steps and notes.
func fragmentMin(frag *schema.Fragment) (minX, minY float64, found bool) {
	consider := func(p schema.Position) {
		if !found || p.X < minX {
			minX = p.X
		}
		if !found || p.Y < minY {
			minY = p.Y
		}
		found = true
	}
	for _, s := range frag.Steps {
		if p, ok := frag.Positions[s.ID]; ok {
			consider(p)
		}
	}
	for _, n := range frag.Notes {
		if p, ok := frag.Positions[n.ID]; ok {
			consider(p)
		} else {
			consider(n.Position)
		}
	}
	return minX, minY, found
}
