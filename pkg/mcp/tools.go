package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/GGPrompts/flowcanvas/internal/diagram"
	"github.com/GGPrompts/flowcanvas/internal/engine"
	"github.com/GGPrompts/flowcanvas/internal/layout"
	"github.com/GGPrompts/flowcanvas/internal/store"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// handleOpen opens a stored graph for editing, or creates a new one. Opening
// an already open graph reuses the live session.
func (s *CanvasServer) handleOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID := req.GetString("graph_id", "")

	if graphID == "" {
		graphID = uuid.New().String()
		name := req.GetString("name", "")
		if name == "" {
			name = "Untitled canvas"
		}
		bundle := &schema.GraphBundle{
			ID:   graphID,
			Name: name,
			Steps: []schema.Step{
				{ID: uuid.New().String(), Label: "Start", Type: schema.StepTypeEntry},
			},
			Positions: make(schema.Positions),
		}
		bundle.Positions[bundle.Steps[0].ID] = schema.Position{}
		ed := s.canvases.Open(graphID, engine.NewEditor(bundle, s.editorDeps()))
		s.captureSession(ctx, graphID)
		s.recordEdit(ctx, graphID, "", schema.EventGraphOpened, map[string]any{"created": true})
		return marshalResult(openResult(ed, true))
	}

	ed, err := s.editorFor(ctx, graphID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open failed: %v", err)), nil
	}
	s.captureSession(ctx, graphID)
	s.recordEdit(ctx, graphID, "", schema.EventGraphOpened, nil)
	return marshalResult(openResult(ed, false))
}

// handleSave persists an open graph to the store.
func (s *CanvasServer) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}

	ed, ok := s.canvases.Get(graphID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("graph %q is not open", graphID)), nil
	}

	if saveErr := s.saveEditor(ctx, ed); saveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save failed: %v", saveErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "graph_id": graphID})
}

// handleClose closes an open graph session, saving it first unless save=false.
func (s *CanvasServer) handleClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	discard := req.GetString("save", "true") == "false"

	ed, ok := s.canvases.Get(graphID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("graph %q is not open", graphID)), nil
	}

	saved := false
	if !discard && ed.Dirty() {
		if saveErr := s.saveEditor(ctx, ed); saveErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("close aborted, save failed: %v", saveErr)), nil
		}
		saved = true
	}

	s.canvases.Close(graphID)
	return marshalResult(map[string]any{"ok": true, "graph_id": graphID, "saved": saved})
}

// handleList lists graphs, templates, or edit journal events based on filters.
func (s *CanvasServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "graphs":
		return s.listGraphs(ctx, filter)
	case "templates":
		return s.listTemplates(ctx, filter)
	case "events":
		return s.listEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleEdit applies a step or note mutation to an open graph.
func (s *CanvasServer) handleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}

	ed, edErr := s.editorFor(ctx, graphID)
	if edErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open failed: %v", edErr)), nil
	}

	switch op {
	case "add_step":
		return s.editAddStep(ctx, ed, req)
	case "delete_step":
		stepID, reqErr := req.RequireString("step_id")
		if reqErr != nil {
			return mcp.NewToolResultError("step_id is required"), nil
		}
		ed.DeleteStep(stepID)
		ed.Flush()
		s.recordEdit(ctx, graphID, stepID, schema.EventStepDeleted, nil)
		return marshalResult(map[string]any{"ok": true, "step_id": stepID})
	case "set_label", "set_description", "set_type", "set_condition":
		return s.editSetField(ctx, ed, op, req)
	case "move":
		stepID, reqErr := req.RequireString("step_id")
		if reqErr != nil {
			return mcp.NewToolResultError("step_id is required"), nil
		}
		pos, ok := parsePosition(mcp.ParseStringMap(req, "position", nil))
		if !ok {
			return mcp.NewToolResultError("position {x, y} is required for move"), nil
		}
		ed.MoveNode(stepID, pos)
		ed.Flush()
		s.recordEdit(ctx, graphID, stepID, schema.EventStepMoved, pos)
		return marshalResult(map[string]any{"ok": true, "step_id": stepID})
	case "add_note":
		return s.editAddNote(ctx, ed, req)
	case "edit_note":
		noteID, reqErr := req.RequireString("note_id")
		if reqErr != nil {
			return mcp.NewToolResultError("note_id is required"), nil
		}
		content := req.GetString("content", "")
		ed.EditNote(noteID, func(n *schema.Note) { n.Content = content })
		ed.Flush()
		s.recordEdit(ctx, graphID, noteID, schema.EventNoteEdited, nil)
		return marshalResult(map[string]any{"ok": true, "note_id": noteID})
	case "delete_note":
		noteID, reqErr := req.RequireString("note_id")
		if reqErr != nil {
			return mcp.NewToolResultError("note_id is required"), nil
		}
		ed.DeleteNote(noteID)
		ed.Flush()
		s.recordEdit(ctx, graphID, noteID, schema.EventNoteDeleted, nil)
		return marshalResult(map[string]any{"ok": true, "note_id": noteID})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown edit op: %s", op)), nil
	}
}

func (s *CanvasServer) editAddStep(ctx context.Context, ed *engine.Editor, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "step", nil)
	if raw == nil {
		return mcp.NewToolResultError("step is required for add_step"), nil
	}

	step := schema.Step{
		ID:           stringField(raw, "id"),
		Label:        stringField(raw, "label"),
		Description:  stringField(raw, "description"),
		Type:         schema.StepType(stringField(raw, "node_type")),
		ResourcePath: stringField(raw, "resource_path"),
		PromptPath:   stringField(raw, "prompt_path"),
		Condition:    stringField(raw, "condition"),
	}
	if step.ID == "" {
		step.ID = uuid.New().String()
	}

	pos, _ := parsePosition(mcp.ParseStringMap(req, "position", nil))
	if addErr := ed.AddStep(step, pos); addErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("add_step failed: %v", addErr)), nil
	}
	ed.Flush()
	s.recordEdit(ctx, ed.GraphID(), step.ID, schema.EventStepAdded, map[string]any{"node_type": string(step.Type)})
	return marshalResult(map[string]any{"ok": true, "step_id": step.ID})
}

func (s *CanvasServer) editSetField(ctx context.Context, ed *engine.Editor, op string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stepID, err := req.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("step_id is required"), nil
	}
	value := req.GetString("value", "")

	switch op {
	case "set_label":
		ed.SetStepLabel(stepID, value)
	case "set_description":
		ed.SetStepDescription(stepID, value)
	case "set_type":
		if !schema.ValidStepType(schema.StepType(value)) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown node type: %s", value)), nil
		}
		ed.SetStepType(stepID, schema.StepType(value))
	case "set_condition":
		ed.SetStepCondition(stepID, value)
	}
	ed.Flush()
	s.recordEdit(ctx, ed.GraphID(), stepID, schema.EventStepEdited, map[string]any{"field": strings.TrimPrefix(op, "set_")})
	return marshalResult(map[string]any{"ok": true, "step_id": stepID})
}

func (s *CanvasServer) editAddNote(ctx context.Context, ed *engine.Editor, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "note", nil)
	if raw == nil {
		return mcp.NewToolResultError("note is required for add_note"), nil
	}

	note := schema.Note{
		ID:              stringField(raw, "id"),
		Content:         stringField(raw, "content"),
		AppearsWithStep: intField(raw, "appears_with_step", 1),
	}
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if pos, ok := parsePosition(mcp.ParseStringMap(req, "position", nil)); ok {
		note.Position = pos
	}

	if addErr := ed.AddNote(note); addErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("add_note failed: %v", addErr)), nil
	}
	ed.Flush()
	s.recordEdit(ctx, ed.GraphID(), note.ID, schema.EventNoteAdded, nil)
	return marshalResult(map[string]any{"ok": true, "note_id": note.ID})
}

// handleConnect applies an edge mutation to an open graph.
func (s *CanvasServer) handleConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}

	ed, edErr := s.editorFor(ctx, graphID)
	if edErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open failed: %v", edErr)), nil
	}

	if op == "reconnect" {
		oldEdge, okOld := parseEdge(mcp.ParseStringMap(req, "old_edge", nil))
		newEdge, okNew := parseEdge(mcp.ParseStringMap(req, "new_edge", nil))
		if !okOld || !okNew {
			return mcp.NewToolResultError("old_edge and new_edge {source, target} are required for reconnect"), nil
		}
		if reErr := ed.Reconnect(oldEdge, newEdge); reErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reconnect failed: %v", reErr)), nil
		}
		ed.Flush()
		s.recordEdit(ctx, graphID, newEdge.Target, schema.EventEdgeReconnected, newEdge)
		return marshalResult(map[string]any{"ok": true})
	}

	edge, ok := parseEdge(mcp.ParseStringMap(req, "edge", nil))
	if !ok {
		return mcp.NewToolResultError("edge {source, target} is required"), nil
	}

	switch op {
	case "connect":
		if connErr := ed.Connect(edge); connErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("connect failed: %v", connErr)), nil
		}
		s.recordEdit(ctx, graphID, edge.Target, schema.EventEdgeConnected, edge)
	case "disconnect":
		ed.Disconnect(edge)
		s.recordEdit(ctx, graphID, edge.Target, schema.EventEdgeDisconnected, edge)
	case "flip":
		ed.FlipEdge(edge)
		s.recordEdit(ctx, graphID, edge.Target, schema.EventEdgeFlipped, edge)
	case "set_label":
		ed.SetEdgeLabel(edge, req.GetString("label", ""))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown connect op: %s", op)), nil
	}
	ed.Flush()
	return marshalResult(map[string]any{"ok": true})
}

// handleGroup creates, dissolves, or toggles a group container.
func (s *CanvasServer) handleGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}

	ed, edErr := s.editorFor(ctx, graphID)
	if edErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open failed: %v", edErr)), nil
	}

	switch op {
	case "group":
		nodeIDs := req.GetStringSlice("node_ids", nil)
		if len(nodeIDs) < 2 {
			return mcp.NewToolResultError("at least two node_ids are required to group"), nil
		}
		containerID := ed.Group(nodeIDs)
		if containerID == "" {
			return mcp.NewToolResultError("group failed: selection contains grouped or container nodes"), nil
		}
		ed.Flush()
		s.recordEdit(ctx, graphID, containerID, schema.EventGroupCreated, map[string]any{"members": nodeIDs})
		return marshalResult(map[string]any{"ok": true, "container_id": containerID})
	case "ungroup":
		containerID, reqErr := req.RequireString("container_id")
		if reqErr != nil {
			return mcp.NewToolResultError("container_id is required"), nil
		}
		ed.Ungroup(containerID)
		ed.Flush()
		s.recordEdit(ctx, graphID, containerID, schema.EventGroupDissolved, nil)
		return marshalResult(map[string]any{"ok": true, "container_id": containerID})
	case "toggle_collapse":
		containerID, reqErr := req.RequireString("container_id")
		if reqErr != nil {
			return mcp.NewToolResultError("container_id is required"), nil
		}
		ed.ToggleCollapse(containerID)
		ed.Flush()
		s.recordEdit(ctx, graphID, containerID, schema.EventGroupToggled, nil)
		return marshalResult(map[string]any{"ok": true, "container_id": containerID})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown group op: %s", op)), nil
	}
}

// handleStep drives the progressive reveal stepper and returns the visible view.
func (s *CanvasServer) handleStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}

	ed, edErr := s.editorFor(ctx, graphID)
	if edErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open failed: %v", edErr)), nil
	}

	switch op {
	case "advance":
		ed.Advance()
	case "retreat":
		ed.Retreat()
	case "show_all":
		ed.ShowAll()
	case "reset":
		ed.ResetDepth()
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown step op: %s", op)), nil
	}
	return marshalResult(ed.Visible())
}

// handleHistory applies undo or redo and reports whether a move happened.
func (s *CanvasServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}

	ed, ok := s.canvases.Get(graphID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("graph %q is not open", graphID)), nil
	}

	var applied bool
	switch op {
	case "undo":
		applied = ed.Undo()
	case "redo":
		applied = ed.Redo()
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown history op: %s", op)), nil
	}

	return marshalResult(map[string]any{
		"applied":  applied,
		"can_undo": ed.CanUndo(),
		"can_redo": ed.CanRedo(),
	})
}

// handleTemplate defines, merges, lists, or deletes reusable fragments.
func (s *CanvasServer) handleTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}

	switch op {
	case "define":
		return s.templateDefine(ctx, req)
	case "merge":
		return s.templateMerge(ctx, req)
	case "list":
		name := req.GetString("name", "")
		templates, listErr := s.store.ListTemplates(ctx, store.TemplateFilter{Name: name})
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"templates": templates})
	case "delete":
		name, reqErr := req.RequireString("name")
		if reqErr != nil {
			return mcp.NewToolResultError("name is required"), nil
		}
		version, reqErr := req.RequireString("version")
		if reqErr != nil {
			return mcp.NewToolResultError("version is required for delete"), nil
		}
		if delErr := s.store.DeleteTemplate(ctx, name, version); delErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "name": name, "version": version})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown template op: %s", op)), nil
	}
}

// templateDefine registers a new fragment template with auto-versioning.
func (s *CanvasServer) templateDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	fragRaw := mcp.ParseStringMap(req, "fragment", nil)
	if fragRaw == nil {
		return mcp.NewToolResultError("fragment is required"), nil
	}

	fragBytes, marshalErr := json.Marshal(fragRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid fragment: %v", marshalErr)), nil
	}
	var frag schema.Fragment
	if unmarshalErr := json.Unmarshal(fragBytes, &frag); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid fragment: %v", unmarshalErr)), nil
	}

	if s.validator != nil {
		if valErr := s.validator.ValidateFragment(&frag); valErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("fragment validation failed: %v", valErr)), nil
		}
	}

	nextVersion := s.nextVersion(ctx, name)
	now := time.Now().UTC()
	tpl := &store.Template{
		Name:        name,
		Version:     nextVersion,
		Description: req.GetString("description", ""),
		Fragment:    &frag,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if storeErr := s.store.StoreTemplate(ctx, tpl); storeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store template: %v", storeErr)), nil
	}

	return marshalResult(map[string]any{"name": name, "version": nextVersion})
}

// templateMerge splices a stored fragment into an open graph.
func (s *CanvasServer) templateMerge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required for merge"), nil
	}

	tpl, tplErr := s.resolveTemplate(ctx, name, req.GetString("version", ""))
	if tplErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("template lookup failed: %v", tplErr)), nil
	}

	ed, edErr := s.editorFor(ctx, graphID)
	if edErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open failed: %v", edErr)), nil
	}

	var anchor *schema.Position
	if pos, ok := parsePosition(mcp.ParseStringMap(req, "anchor", nil)); ok {
		anchor = &pos
	}

	result := ed.MergeFragment(tpl.Fragment, anchor)
	ed.Flush()
	s.recordEdit(ctx, graphID, "", schema.EventFragmentMerged, map[string]any{
		"template": tpl.Name,
		"version":  tpl.Version,
		"steps":    len(result.StepIDs),
	})

	return marshalResult(map[string]any{
		"ok":       true,
		"template": tpl.Name,
		"version":  tpl.Version,
		"step_ids": result.StepIDs,
		"note_ids": result.NoteIDs,
		"id_map":   result.IDMap,
	})
}

// handleLayout auto-arranges an open graph by reveal layer.
func (s *CanvasServer) handleLayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}

	ed, edErr := s.editorFor(ctx, graphID)
	if edErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open failed: %v", edErr)), nil
	}

	opts := layout.Options{Direction: layout.LeftToRight}
	if req.GetString("direction", "LR") == "TB" {
		opts.Direction = layout.TopToBottom
	}

	bundle := ed.Bundle()
	positions := layout.Hierarchical(bundle.Steps, bundle.Edges, opts)
	ed.ApplyLayout(positions)
	ed.Flush()
	s.recordEdit(ctx, graphID, "", schema.EventLayoutApplied, map[string]any{"direction": req.GetString("direction", "LR")})

	return marshalResult(map[string]any{"ok": true, "placed": len(positions)})
}

// handleQuery runs a jq expression against a graph bundle.
func (s *CanvasServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}

	bundle, bundleErr := s.bundleFor(ctx, graphID)
	if bundleErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("graph lookup failed: %v", bundleErr)), nil
	}

	result, runErr := s.query.Run(ctx, expression, bundle)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", runErr)), nil
	}
	return marshalResult(map[string]any{"result": result})
}

// handleValidate checks a graph bundle and reports issues. Validation
// findings come back as a structured result, not a tool error.
func (s *CanvasServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}

	bundle, bundleErr := s.bundleFor(ctx, graphID)
	if bundleErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("graph lookup failed: %v", bundleErr)), nil
	}

	valErr := s.validator.ValidateBundle(bundle)
	if valErr == nil {
		return marshalResult(map[string]any{"valid": true, "graph_id": graphID})
	}

	var cerr *schema.CanvasError
	if errors.As(valErr, &cerr) {
		return marshalResult(map[string]any{
			"valid":    false,
			"graph_id": graphID,
			"message":  cerr.Message,
			"details":  cerr.Details,
		})
	}
	return mcp.NewToolResultError(fmt.Sprintf("validation failed: %v", valErr)), nil
}

// handleDiagram renders a graph in the requested format.
func (s *CanvasServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graphID, err := req.RequireString("graph_id")
	if err != nil {
		return mcp.NewToolResultError("graph_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	ed, edErr := s.editorFor(ctx, graphID)
	if edErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("open failed: %v", edErr)), nil
	}

	opts := diagram.BuildOptions{Membership: ed.Membership()}
	if req.GetString("visible_only", "false") == "true" {
		view := ed.Visible()
		visible := make(map[string]bool, len(view.NodeIDs))
		for _, id := range view.NodeIDs {
			visible[id] = true
		}
		opts.Visible = visible
	}

	model := diagram.Build(ed.Bundle(), opts)

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "image":
		png, imgErr := diagram.RenderImage(model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	default:
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}
}

// --- List helpers ---

func (s *CanvasServer) listGraphs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	gf := store.GraphFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if name, ok := filter["name"].(string); ok {
		gf.NameLike = name
	}

	graphs, err := s.store.ListGraphs(ctx, gf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"graphs": graphs})
}

func (s *CanvasServer) listTemplates(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	tf := store.TemplateFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if name, ok := filter["name"].(string); ok {
		tf.Name = name
	}

	templates, err := s.store.ListTemplates(ctx, tf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"templates": templates})
}

func (s *CanvasServer) listEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EditEventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if graphID, ok := filter["graph_id"].(string); ok {
		ef.GraphID = graphID
	}
	eventType, _ := filter["event_type"].(string)
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, parseErr := time.Parse(time.RFC3339, since); parseErr == nil {
			ef.Since = &t
		}
	}

	if eventType != "" {
		events, err := s.store.GetEditEventsByType(ctx, eventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	if ef.GraphID == "" {
		return mcp.NewToolResultError("event listing requires either 'event_type' or 'graph_id' in filter"), nil
	}
	events, err := s.store.GetEditEvents(ctx, ef.GraphID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// editorFor returns the live editor for a graph, opening a session from the
// store when one is not already open.
func (s *CanvasServer) editorFor(ctx context.Context, graphID string) (*engine.Editor, error) {
	if ed, ok := s.canvases.Get(graphID); ok {
		return ed, nil
	}
	rec, err := s.store.GetGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	return s.canvases.Open(graphID, engine.NewEditor(rec.Bundle, s.editorDeps())), nil
}

// bundleFor returns a graph bundle for read-only use, preferring the live
// session over the stored copy.
func (s *CanvasServer) bundleFor(ctx context.Context, graphID string) (*schema.GraphBundle, error) {
	if ed, ok := s.canvases.Get(graphID); ok {
		return ed.Bundle(), nil
	}
	rec, err := s.store.GetGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	return rec.Bundle, nil
}

func (s *CanvasServer) editorDeps() engine.EditorDeps {
	return engine.EditorDeps{Hub: s.hub, Logger: s.logger}
}

// saveEditor flushes pending history, writes the bundle, and marks the
// session clean.
func (s *CanvasServer) saveEditor(ctx context.Context, ed *engine.Editor) error {
	ed.Flush()
	bundle := ed.Bundle()
	rec := &store.GraphRecord{ID: bundle.ID, Name: bundle.Name, Bundle: bundle}
	if err := s.store.SaveGraph(ctx, rec); err != nil {
		return err
	}
	ed.MarkSaved()
	s.recordEdit(ctx, bundle.ID, "", schema.EventGraphSaved, nil)
	return nil
}

// resolveTemplate finds a template by name and optional version. An empty
// version resolves to the latest by numeric version order.
func (s *CanvasServer) resolveTemplate(ctx context.Context, name, version string) (*store.Template, error) {
	if version != "" {
		return s.store.GetTemplate(ctx, name, version)
	}

	templates, err := s.store.ListTemplates(ctx, store.TemplateFilter{Name: name})
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("template %q not found", name)
	}

	sort.Slice(templates, func(i, j int) bool {
		return versionNum(templates[i].Version) > versionNum(templates[j].Version)
	})
	return templates[0], nil
}

// nextVersion computes the next version string (v1, v2, v3...) for a template name.
func (s *CanvasServer) nextVersion(ctx context.Context, name string) string {
	templates, err := s.store.ListTemplates(ctx, store.TemplateFilter{Name: name})
	if err != nil || len(templates) == 0 {
		return "v1"
	}

	maxVer := 0
	for _, t := range templates {
		if n := versionNum(t.Version); n > maxVer {
			maxVer = n
		}
	}
	return fmt.Sprintf("v%d", maxVer+1)
}

// recordEdit appends an entry to the edit journal. Journal failures are
// logged, never surfaced to the tool caller.
func (s *CanvasServer) recordEdit(ctx context.Context, graphID, nodeID, eventType string, payload any) {
	if s.store == nil {
		return
	}
	event := &store.EditEvent{GraphID: graphID, NodeID: nodeID, Type: eventType}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			event.Payload = raw
		}
	}
	if err := s.store.AppendEditEvent(ctx, event); err != nil {
		s.logger.Warn("edit journal append failed",
			slog.String("graph_id", graphID),
			slog.String("event_type", eventType),
			slog.Any("error", err))
	}
}

// captureSession maps the graph to the calling MCP session for change
// notifications.
func (s *CanvasServer) captureSession(ctx context.Context, graphID string) {
	if sess := server.ClientSessionFromContext(ctx); sess != nil {
		s.sessions.Register(graphID, sess.SessionID())
	}
}

func openResult(ed *engine.Editor, created bool) map[string]any {
	bundle := ed.Bundle()
	view := ed.Visible()
	return map[string]any{
		"graph_id":   bundle.ID,
		"name":       bundle.Name,
		"created":    created,
		"step_count": len(bundle.Steps),
		"edge_count": len(bundle.Edges),
		"depth":      view.Depth,
		"layers":     view.Layers,
	}
}

// versionNum extracts the numeric part from a version string like "v3".
func versionNum(v string) int {
	v = strings.TrimPrefix(v, "v")
	n, _ := strconv.Atoi(v)
	return n
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]any, key string, defaultVal int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return defaultVal
}

func parsePosition(m map[string]any) (schema.Position, bool) {
	if m == nil {
		return schema.Position{}, false
	}
	x, xok := floatField(m, "x")
	y, yok := floatField(m, "y")
	if !xok || !yok {
		return schema.Position{}, false
	}
	return schema.Position{X: x, Y: y}, true
}

func floatField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func parseEdge(m map[string]any) (schema.EdgeConnection, bool) {
	if m == nil {
		return schema.EdgeConnection{}, false
	}
	edge := schema.EdgeConnection{
		Source:       stringField(m, "source"),
		Target:       stringField(m, "target"),
		SourceHandle: stringField(m, "source_handle"),
		TargetHandle: stringField(m, "target_handle"),
		Label:        stringField(m, "label"),
	}
	if edge.Source == "" || edge.Target == "" {
		return schema.EdgeConnection{}, false
	}
	return edge, true
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
