package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/GGPrompts/flowcanvas/internal/streaming"
)

// Notifier pushes editor events to the MCP client that opened the graph.
type Notifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
	logger    *slog.Logger
}

// NewNotifier creates a notifier bound to an MCP server and its session
// registry.
func NewNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry, logger *slog.Logger) *Notifier {
	return &Notifier{mcpServer: mcpServer, sessions: sessions, logger: logger}
}

// Forward subscribes to the event hub and relays each editor event to the
// session watching its graph. It blocks until ctx is cancelled. Delivery is
// best-effort: events for graphs no client is watching are dropped.
func (n *Notifier) Forward(ctx context.Context, hub streaming.EventHub) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			n.push(event)
		}
	}
}

func (n *Notifier) push(event streaming.EditorEvent) {
	sessionID, ok := n.sessions.SessionFor(event.GraphID)
	if !ok {
		return
	}

	payload := map[string]any{
		"graph_id":   event.GraphID,
		"event_type": event.EventType,
	}
	if event.NodeID != "" {
		payload["node_id"] = event.NodeID
	}
	if event.Payload != nil {
		payload["payload"] = event.Payload
	}

	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return
	}
	if err != nil && n.logger != nil {
		n.logger.Warn("notification push failed",
			slog.String("graph_id", event.GraphID),
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
	}
}
