package diagram

import (
	"fmt"
	"strings"
)

// RenderASCII renders a DiagramModel as a text-based diagram, one row of
// boxes per reveal layer. Nodes beyond the current reveal depth are tagged.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for layerIdx, layer := range model.Layers {
		b.WriteString(fmt.Sprintf("layer %d\n", layerIdx+1))

		var boxes []asciiBox
		for _, nodeID := range layer {
			node := findNode(model.Nodes, nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		// Connector between layers (except after the last one).
		if layerIdx < len(model.Layers)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	// Group sections.
	for _, cluster := range model.Clusters {
		b.WriteString(fmt.Sprintf("\n--- %s ---\n", cluster.Label))
		for _, id := range cluster.Nodes {
			node := findNode(model.Nodes, id)
			if node == nil {
				continue
			}
			b.WriteString(fmt.Sprintf("    %s\n", node.Label))
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	var contentLines []string
	contentLines = append(contentLines, node.Label)

	tag := kindTag(node.Kind)
	if node.Hidden {
		tag = "[HIDDEN]"
	}
	if tag != "" {
		contentLines = append(contentLines, tag)
	}

	maxLen := 0
	for _, line := range contentLines {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	var lines []string
	top := "┌" + strings.Repeat("─", width-2) + "┐"
	bot := "└" + strings.Repeat("─", width-2) + "┘"
	lines = append(lines, top)
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, bot)

	return asciiBox{lines: lines, width: width}
}

// kindTag returns a short ASCII indicator per node kind.
func kindTag(kind NodeKind) string {
	switch kind {
	case NodeKindStart:
		return "[START]"
	case NodeKindEnd:
		return "[DONE]"
	case NodeKindDecision:
		return "[?]"
	case NodeKindSkill:
		return "[SKILL]"
	case NodeKindAgent:
		return "[AGENT]"
	case NodeKindShell:
		return "[SH]"
	default:
		return ""
	}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ") // gap between boxes
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between layers.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
