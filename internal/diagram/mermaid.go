package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph LR\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	// Index cluster membership; grouped nodes render inside a subgraph.
	memberCluster := make(map[string]*Cluster)
	for _, cluster := range model.Clusters {
		for _, id := range cluster.Nodes {
			memberCluster[id] = cluster
		}
	}

	nodeIndex := make(map[string]*Node, len(model.Nodes))
	for _, node := range model.Nodes {
		nodeIndex[node.ID] = node
	}

	// Ungrouped nodes first.
	for _, node := range model.Nodes {
		if _, grouped := memberCluster[node.ID]; grouped {
			continue
		}
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	// One subgraph per cluster.
	for _, cluster := range model.Clusters {
		b.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n",
			mermaidSafeID(cluster.ID), cluster.Label))
		for _, id := range cluster.Nodes {
			if node, ok := nodeIndex[id]; ok {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(node)))
			}
		}
		b.WriteString("    end\n")
	}

	// Edges.
	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	// Kind and visibility class definitions.
	b.WriteString("\n")
	b.WriteString("    classDef start fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef finish fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef decision fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef skill fill:#5b2c6f,stroke:#3f1e4d,color:#fff\n")
	b.WriteString("    classDef hidden fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		cls := mermaidClass(node)
		if cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := node.Label

	switch node.Kind {
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	case NodeKindDecision:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindSkill:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindAgent:
		return fmt.Sprintf("%s([%q])", id, label)
	default: // tool, shell
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidClass maps a node to its style class. Visibility wins over kind.
func mermaidClass(node *Node) string {
	if node.Hidden {
		return "hidden"
	}
	switch node.Kind {
	case NodeKindStart:
		return "start"
	case NodeKindEnd:
		return "finish"
	case NodeKindDecision:
		return "decision"
	case NodeKindSkill:
		return "skill"
	default:
		return ""
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots and dashes with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
