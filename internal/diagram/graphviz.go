package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
// Returns the PNG bytes.
func RenderImage(model *DiagramModel) ([]byte, error) {
	ctx := context.Background()

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.LRRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	// Index cluster membership so members are created inside their subgraph.
	memberCluster := make(map[string]*Cluster)
	for _, cluster := range model.Clusters {
		for _, id := range cluster.Nodes {
			memberCluster[id] = cluster
		}
	}

	subgraphs := make(map[string]*cgraph.Graph, len(model.Clusters))
	for _, cluster := range model.Clusters {
		sub, subErr := graph.CreateSubGraphByName("cluster_" + cluster.ID)
		if subErr != nil {
			continue
		}
		sub.SetLabel(cluster.Label)
		sub.SetStyle(cgraph.DashedGraphStyle)
		subgraphs[cluster.ID] = sub
	}

	// Create nodes, inside their cluster subgraph when grouped.
	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		parent := graph
		if cluster, ok := memberCluster[node.ID]; ok {
			if sub, ok := subgraphs[cluster.ID]; ok {
				parent = sub
			}
		}
		gvNode, nErr := parent.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(node.Label)
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	// Create edges.
	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV != nil && toGV != nil {
			e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
			if eErr == nil && edge.Label != "" {
				e.SetLabel(edge.Label)
			}
		}
	}

	// Render to PNG.
	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// applyNodeStyle sets graphviz attributes based on node kind and visibility.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	case NodeKindDecision:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindSkill:
		gvNode.SetShape(cgraph.HexagonShape)
	case NodeKindAgent:
		gvNode.SetShape(cgraph.EllipseShape)
	default: // tool, shell
		gvNode.SetShape(cgraph.BoxShape)
	}

	if node.Hidden {
		gvNode.SetStyle(cgraph.DashedNodeStyle)
		gvNode.SetFontColor("#888888")
		gvNode.SetColor("#aaaaaa")
		return
	}
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	gvNode.SetFillColor(kindFill(node.Kind))
}

// kindFill returns a fill color per node kind.
func kindFill(kind NodeKind) string {
	switch kind {
	case NodeKindStart:
		return "#2d6a2d"
	case NodeKindEnd:
		return "#1a5276"
	case NodeKindDecision:
		return "#b7791a"
	case NodeKindSkill:
		return "#5b2c6f"
	case NodeKindAgent:
		return "#6b3fa0"
	case NodeKindShell:
		return "#4a4a4a"
	default:
		return "#d3d3d3"
	}
}
