package diagram

// NodeKind classifies a diagram node by its canvas step type.
type NodeKind string

const (
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
	NodeKindDecision NodeKind = "decision"
	NodeKindSkill    NodeKind = "skill"
	NodeKindAgent    NodeKind = "agent"
	NodeKindTool     NodeKind = "tool"
	NodeKindShell    NodeKind = "shell"
	NodeKindGroup    NodeKind = "group"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title    string
	Nodes    []*Node
	Edges    []Edge
	Clusters []*Cluster
	Layers   [][]string
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Depth  int  // 1-indexed reveal layer, 0 if unreachable
	Hidden bool // beyond the current reveal depth
}

// Cluster holds the members of a group container, rendered as a subgraph.
type Cluster struct {
	ID    string
	Label string
	Nodes []string
}

// Edge represents a connection between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
