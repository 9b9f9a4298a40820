package streaming

import "context"

// EditorEvent is a real-time event emitted as a canvas is edited.
type EditorEvent struct {
	GraphID   string `json:"graph_id"`
	NodeID    string `json:"node_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	GraphID    string   `json:"graph_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time editor events.
type EventHub interface {
	Publish(ctx context.Context, event EditorEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan EditorEvent, func(), error)
}
