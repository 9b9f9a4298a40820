// Package panel exposes the read-mostly HTTP surface of a running canvas
// daemon: graph and template listings as JSON, plus live editor events over
// Server-Sent Events. Mutations go through the MCP tools; the panel only
// offers the few management actions (rename, delete) that make sense
// outside an editing session.
package panel

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/GGPrompts/flowcanvas/internal/session"
	"github.com/GGPrompts/flowcanvas/internal/store"
	"github.com/GGPrompts/flowcanvas/internal/streaming"
)

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Store    store.Store
	Canvases *session.Registry
	Hub      streaming.EventHub
	Logger   *slog.Logger
}

// PanelServer serves the management API.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Graphs.
	mux.HandleFunc("GET /api/graphs", s.handleListGraphs)
	mux.HandleFunc("GET /api/graphs/{id}", s.handleGetGraph)
	mux.HandleFunc("GET /api/graphs/{id}/view", s.handleGraphView)
	mux.HandleFunc("GET /api/graphs/{id}/events", s.handleGraphEvents)
	mux.HandleFunc("POST /api/graphs/{id}/rename", s.handleRenameGraph)
	mux.HandleFunc("DELETE /api/graphs/{id}", s.handleDeleteGraph)

	// Templates.
	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("DELETE /api/templates/{name}/{version}", s.handleDeleteTemplate)

	// Open editing sessions.
	mux.HandleFunc("GET /api/sessions", s.handleSessions)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/graphs/{id}", s.handleSSEGraph)

	return mux
}
