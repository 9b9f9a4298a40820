package store

import (
	"encoding/json"
	"time"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// GraphRecord is a persisted canvas: the full bundle plus storage metadata.
type GraphRecord struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Bundle    *schema.GraphBundle `json:"bundle"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// GraphSummary is the listing view of a graph, without the bundle payload.
type GraphSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StepCount int       `json:"step_count"`
	EdgeCount int       `json:"edge_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GraphFilter narrows ListGraphs results.
type GraphFilter struct {
	NameLike string
	Limit    int
	Offset   int
}

// Template is a persisted fragment that can be merged into a live graph.
// (name, version) is the identity; storing an existing pair overwrites it.
type Template struct {
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Description string           `json:"description,omitempty"`
	Fragment    *schema.Fragment `json:"fragment"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TemplateFilter narrows ListTemplates results.
type TemplateFilter struct {
	Name  string
	Limit int
}

// EditEvent is one entry in the append-only edit journal. Sequence is
// monotonically increasing per graph and assigned by the store on append.
type EditEvent struct {
	ID        int64           `json:"id"`
	GraphID   string          `json:"graph_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// EditEventFilter narrows edit journal queries.
type EditEventFilter struct {
	GraphID string
	NodeID  string
	Since   *time.Time
	Limit   int
}

// NodeActivity is the per-node view reconstructed from the edit journal:
// how often a node was touched and by what kind of edit last.
type NodeActivity struct {
	GraphID     string    `json:"graph_id"`
	NodeID      string    `json:"node_id"`
	Edits       int       `json:"edits"`
	LastType    string    `json:"last_type"`
	LastTouched time.Time `json:"last_touched"`
	Deleted     bool      `json:"deleted"`
}
