package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/GGPrompts/flowcanvas/internal/query"
	"github.com/GGPrompts/flowcanvas/internal/session"
	"github.com/GGPrompts/flowcanvas/internal/store"
	"github.com/GGPrompts/flowcanvas/internal/streaming"
	"github.com/GGPrompts/flowcanvas/internal/validation"
)

// CanvasServerDeps holds the dependencies for creating a CanvasServer.
type CanvasServerDeps struct {
	Store     store.Store
	Canvases  *session.Registry
	Validator validation.Validator
	Query     *query.Engine
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// CanvasServer wraps an MCP server with canvas-specific tool handlers.
type CanvasServer struct {
	store     store.Store
	canvases  *session.Registry
	validator validation.Validator
	query     *query.Engine
	hub       streaming.EventHub
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewCanvasServer creates a new CanvasServer with all canvas tools registered.
func NewCanvasServer(deps CanvasServerDeps) *CanvasServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	canvases := deps.Canvases
	if canvases == nil {
		canvases = session.NewRegistry()
	}

	s := &CanvasServer{
		store:     deps.Store,
		canvases:  canvases,
		validator: deps.Validator,
		query:     deps.Query,
		hub:       deps.Hub,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowcanvas",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("FlowCanvas is a workflow canvas editor. Use canvas.open to open or create a graph, canvas.edit / canvas.connect / canvas.group to mutate it, canvas.step to walk the reveal layers, canvas.history to undo and redo, canvas.template to define and merge reusable fragments, canvas.layout to auto-arrange nodes, canvas.validate and canvas.query to inspect a graph, canvas.diagram to render it, and canvas.save / canvas.close / canvas.list to manage persistence."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *CanvasServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CanvasServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Notifier returns a notifier that relays editor events to the MCP clients
// watching each graph.
func (s *CanvasServer) Notifier() *Notifier {
	return NewNotifier(s.mcpServer, s.sessions, s.logger)
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *CanvasServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: openTool(), Handler: s.handleOpen},
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: closeTool(), Handler: s.handleClose},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: editTool(), Handler: s.handleEdit},
		{Tool: connectTool(), Handler: s.handleConnect},
		{Tool: groupTool(), Handler: s.handleGroup},
		{Tool: stepTool(), Handler: s.handleStep},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: templateTool(), Handler: s.handleTemplate},
		{Tool: layoutTool(), Handler: s.handleLayout},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func openTool() mcp.Tool {
	return mcp.NewTool("canvas.open",
		mcp.WithDescription("Open a stored graph for editing, or create a new one"),
		mcp.WithString("graph_id", mcp.Description("ID of an existing graph to open (omit to create a new graph)")),
		mcp.WithString("name", mcp.Description("Name for a newly created graph")),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("canvas.save",
		mcp.WithDescription("Persist an open graph to the store"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph to save")),
	)
}

func closeTool() mcp.Tool {
	return mcp.NewTool("canvas.close",
		mcp.WithDescription("Close an open graph, saving it first unless save is false"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph to close")),
		mcp.WithString("save", mcp.Description("Set to 'false' to discard unsaved changes")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("canvas.list",
		mcp.WithDescription("List stored graphs, templates, or edit journal events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("graphs", "templates", "events"),
			mcp.Description("Type of resource to list"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (name, limit, offset, graph_id, event_type, since)")),
	)
}

func editTool() mcp.Tool {
	return mcp.NewTool("canvas.edit",
		mcp.WithDescription("Mutate steps and notes of an open graph"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph to edit")),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum("add_step", "delete_step", "set_label", "set_description", "set_type", "set_condition", "move", "add_note", "edit_note", "delete_note"),
			mcp.Description("Edit operation to apply"),
		),
		mcp.WithObject("step", mcp.Description("Step fields for add_step (label, node_type, description, resource_path, condition; id is generated when omitted)")),
		mcp.WithString("step_id", mcp.Description("Target step ID for step operations")),
		mcp.WithString("value", mcp.Description("New value for set_label, set_description, set_type, set_condition")),
		mcp.WithObject("position", mcp.Description("Position {x, y} for add_step and move")),
		mcp.WithObject("note", mcp.Description("Note fields for add_note (content, appears_with_step; id is generated when omitted)")),
		mcp.WithString("note_id", mcp.Description("Target note ID for edit_note and delete_note")),
		mcp.WithString("content", mcp.Description("New content for edit_note")),
	)
}

func connectTool() mcp.Tool {
	return mcp.NewTool("canvas.connect",
		mcp.WithDescription("Mutate edges of an open graph"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph to edit")),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum("connect", "disconnect", "reconnect", "flip", "set_label"),
			mcp.Description("Edge operation to apply"),
		),
		mcp.WithObject("edge", mcp.Description("Edge {source, target, source_handle, target_handle, label}")),
		mcp.WithObject("old_edge", mcp.Description("Existing edge for reconnect")),
		mcp.WithObject("new_edge", mcp.Description("Replacement edge for reconnect")),
		mcp.WithString("label", mcp.Description("New label for set_label")),
	)
}

func groupTool() mcp.Tool {
	return mcp.NewTool("canvas.group",
		mcp.WithDescription("Group steps into a collapsible container, dissolve a group, or toggle its collapse state"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph to edit")),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum("group", "ungroup", "toggle_collapse"),
			mcp.Description("Group operation to apply"),
		),
		mcp.WithArray("node_ids", mcp.Description("Step IDs to group (for op=group)")),
		mcp.WithString("container_id", mcp.Description("Group container ID (for ungroup and toggle_collapse)")),
	)
}

func stepTool() mcp.Tool {
	return mcp.NewTool("canvas.step",
		mcp.WithDescription("Walk the progressive reveal layers of an open graph"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph")),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum("advance", "retreat", "show_all", "reset"),
			mcp.Description("Stepper operation"),
		),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("canvas.history",
		mcp.WithDescription("Undo or redo the last edit on an open graph"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph")),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum("undo", "redo"),
			mcp.Description("History operation"),
		),
	)
}

func templateTool() mcp.Tool {
	return mcp.NewTool("canvas.template",
		mcp.WithDescription("Define reusable graph fragments and merge them into open graphs"),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum("define", "merge", "list", "delete"),
			mcp.Description("Template operation"),
		),
		mcp.WithString("name", mcp.Description("Template name (required for define, merge, delete)")),
		mcp.WithString("version", mcp.Description("Template version (default: latest for merge, required for delete)")),
		mcp.WithString("description", mcp.Description("Template description for define")),
		mcp.WithObject("fragment", mcp.Description("Fragment object {steps, edges, notes, positions} for define")),
		mcp.WithString("graph_id", mcp.Description("Target graph for merge")),
		mcp.WithObject("anchor", mcp.Description("Drop position {x, y} for merge (omitted: fragment lands right of the graph)")),
	)
}

func layoutTool() mcp.Tool {
	return mcp.NewTool("canvas.layout",
		mcp.WithDescription("Auto-arrange an open graph by reveal layer"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph")),
		mcp.WithString("direction", mcp.Enum("LR", "TB"), mcp.Description("Flow direction (default LR)")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("canvas.query",
		mcp.WithDescription("Run a jq expression against a graph bundle"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph (open session or stored)")),
		mcp.WithString("expression", mcp.Required(), mcp.Description("jq expression, e.g. '[.steps[] | select(.nodeType == \"decision\")]'")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("canvas.validate",
		mcp.WithDescription("Validate a graph bundle: structure, references, and decision conditions"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph (open session or stored)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("canvas.diagram",
		mcp.WithDescription("Render a graph as ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("graph_id", mcp.Required(), mcp.Description("ID of the graph (open session or stored)")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format"),
		),
		mcp.WithString("visible_only", mcp.Description("Set to 'true' to dim nodes beyond the current reveal depth")),
	)
}
