package diagram

import (
	"github.com/GGPrompts/flowcanvas/internal/engine"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// BuildOptions control which editor state is overlaid on the diagram.
type BuildOptions struct {
	// Visible is the set of node IDs at or below the current reveal depth.
	// Nil means everything is visible.
	Visible map[string]bool

	// Membership maps child step IDs to their group container IDs. Members
	// are rendered inside a cluster per container.
	Membership map[string]string
}

// Build constructs a DiagramModel from a bundle. It partitions the graph into
// depth layers and maps each step to a Node with the appropriate kind. Group
// containers become clusters holding their members.
func Build(bundle *schema.GraphBundle, opts BuildOptions) *DiagramModel {
	layers := engine.Partition(bundle.Steps, bundle.Edges)

	depthOf := make(map[string]int, len(bundle.Steps))
	for i, layer := range layers {
		for _, id := range layer {
			depthOf[id] = i + 1
		}
	}

	containers := make(map[string]*Cluster)
	nodes := make([]*Node, 0, len(bundle.Steps))
	for i := range bundle.Steps {
		step := &bundle.Steps[i]
		if step.Type == schema.StepTypeGroupContainer {
			containers[step.ID] = &Cluster{ID: step.ID, Label: step.Label}
			continue
		}
		node := &Node{
			ID:    step.ID,
			Label: nodeLabel(step),
			Kind:  stepTypeToKind(step.Type),
			Depth: depthOf[step.ID],
		}
		if opts.Visible != nil && !opts.Visible[step.ID] {
			node.Hidden = true
		}
		nodes = append(nodes, node)
	}

	// Assign members to their clusters, preserving step order.
	var clusters []*Cluster
	if len(opts.Membership) > 0 {
		seen := make(map[string]bool)
		for _, node := range nodes {
			containerID, ok := opts.Membership[node.ID]
			if !ok {
				continue
			}
			cluster, ok := containers[containerID]
			if !ok {
				continue
			}
			cluster.Nodes = append(cluster.Nodes, node.ID)
			if !seen[containerID] {
				clusters = append(clusters, cluster)
				seen[containerID] = true
			}
		}
	}

	edges := make([]Edge, 0, len(bundle.Edges))
	for _, e := range bundle.Edges {
		if bundle.FindStep(e.Source) == nil || bundle.FindStep(e.Target) == nil {
			continue
		}
		edges = append(edges, Edge{From: e.Source, To: e.Target, Label: e.Label})
	}

	modelLayers := make([][]string, len(layers))
	for i, layer := range layers {
		modelLayers[i] = append([]string(nil), layer...)
	}

	return &DiagramModel{
		Title:    diagramTitle(bundle),
		Nodes:    nodes,
		Edges:    edges,
		Clusters: clusters,
		Layers:   modelLayers,
	}
}

// stepTypeToKind converts a schema.StepType to a NodeKind.
func stepTypeToKind(st schema.StepType) NodeKind {
	switch st {
	case schema.StepTypeEntry:
		return NodeKindStart
	case schema.StepTypeCompletion:
		return NodeKindEnd
	case schema.StepTypeDecision:
		return NodeKindDecision
	case schema.StepTypeSkillInvocation:
		return NodeKindSkill
	case schema.StepTypeBackgroundAgent:
		return NodeKindAgent
	case schema.StepTypeShellCommand:
		return NodeKindShell
	case schema.StepTypeGroupContainer:
		return NodeKindGroup
	default:
		return NodeKindTool
	}
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(step *schema.Step) string {
	if step.Label != "" {
		return step.Label
	}
	return step.ID
}

// diagramTitle picks a title from graph metadata.
func diagramTitle(bundle *schema.GraphBundle) string {
	if bundle.Name != "" {
		return bundle.Name
	}
	return "Canvas"
}
