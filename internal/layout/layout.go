// Package layout computes canvas coordinates from graph topology. The
// hierarchical layout places one column (or row) per reveal layer so the
// canvas reads in traversal order.
package layout

import (
	"github.com/GGPrompts/flowcanvas/internal/engine"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// Direction selects the main axis of the hierarchical layout.
type Direction string

const (
	LeftToRight Direction = "LR"
	TopToBottom Direction = "TB"
)

const (
	defaultColumnGap = 260.0
	defaultRowGap    = 140.0
)

// Options tune the hierarchical layout. Zero values pick the defaults.
type Options struct {
	Direction Direction
	ColumnGap float64
	RowGap    float64
}

// Hierarchical assigns a coordinate to every step: one rank per reveal
// layer along the main axis, layer members spread across the cross axis and
// centered around zero. Steps the traversal cannot reach are placed in one
// extra rank after the last layer so nothing lands on the fold.
func Hierarchical(steps []schema.Step, edges []schema.EdgeConnection, opts Options) schema.Positions {
	if opts.Direction == "" {
		opts.Direction = LeftToRight
	}
	if opts.ColumnGap <= 0 {
		opts.ColumnGap = defaultColumnGap
	}
	if opts.RowGap <= 0 {
		opts.RowGap = defaultRowGap
	}

	layers := engine.Partition(steps, edges)

	placed := make(map[string]bool, len(steps))
	for _, layer := range layers {
		for _, id := range layer {
			placed[id] = true
		}
	}

	var stragglers engine.DepthGroup
	for _, s := range steps {
		if !placed[s.ID] {
			stragglers = append(stragglers, s.ID)
		}
	}

	ranks := make([]engine.DepthGroup, 0, len(layers)+1)
	ranks = append(ranks, layers...)
	if len(stragglers) > 0 {
		ranks = append(ranks, stragglers)
	}

	positions := make(schema.Positions, len(steps))
	for rank, members := range ranks {
		main := float64(rank) * opts.ColumnGap
		for i, id := range members {
			// Center the rank around the cross-axis origin.
			cross := (float64(i) - float64(len(members)-1)/2) * opts.RowGap
			if opts.Direction == TopToBottom {
				positions[id] = schema.Position{X: cross, Y: main}
			} else {
				positions[id] = schema.Position{X: main, Y: cross}
			}
		}
	}
	return positions
}
