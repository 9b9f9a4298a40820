package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GGPrompts/flowcanvas/internal/query"
	"github.com/GGPrompts/flowcanvas/internal/store"
	"github.com/GGPrompts/flowcanvas/internal/validation"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	graphs    map[string]*store.GraphRecord
	templates []*store.Template
	events    []*store.EditEvent
	saved     []*store.GraphRecord
}

func newMockStore() *mockStore {
	return &mockStore{graphs: make(map[string]*store.GraphRecord)}
}

func (m *mockStore) SaveGraph(_ context.Context, rec *store.GraphRecord) error {
	m.graphs[rec.ID] = rec
	m.saved = append(m.saved, rec)
	return nil
}

func (m *mockStore) GetGraph(_ context.Context, id string) (*store.GraphRecord, error) {
	if rec, ok := m.graphs[id]; ok {
		return rec, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "graph %q not found", id)
}

func (m *mockStore) ListGraphs(_ context.Context, filter store.GraphFilter) ([]*store.GraphSummary, error) {
	result := make([]*store.GraphSummary, 0)
	for _, rec := range m.graphs {
		result = append(result, &store.GraphSummary{
			ID:        rec.ID,
			Name:      rec.Name,
			StepCount: len(rec.Bundle.Steps),
			EdgeCount: len(rec.Bundle.Edges),
		})
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) StoreTemplate(_ context.Context, tpl *store.Template) error {
	m.templates = append(m.templates, tpl)
	return nil
}

func (m *mockStore) GetTemplate(_ context.Context, name, version string) (*store.Template, error) {
	for _, t := range m.templates {
		if t.Name == name && t.Version == version {
			return t, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "template not found")
}

func (m *mockStore) ListTemplates(_ context.Context, filter store.TemplateFilter) ([]*store.Template, error) {
	result := make([]*store.Template, 0)
	for _, t := range m.templates {
		if filter.Name != "" && t.Name != filter.Name {
			continue
		}
		result = append(result, t)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) DeleteTemplate(_ context.Context, name, version string) error {
	for i, t := range m.templates {
		if t.Name == name && t.Version == version {
			m.templates = append(m.templates[:i], m.templates[i+1:]...)
			return nil
		}
	}
	return schema.NewError(schema.ErrCodeNotFound, "template not found")
}

func (m *mockStore) AppendEditEvent(_ context.Context, event *store.EditEvent) error {
	event.Sequence = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *mockStore) GetEditEvents(_ context.Context, graphID string, since int64) ([]*store.EditEvent, error) {
	result := make([]*store.EditEvent, 0)
	for _, e := range m.events {
		if e.GraphID == graphID && e.Sequence > since {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockStore) GetEditEventsByType(_ context.Context, eventType string, filter store.EditEventFilter) ([]*store.EditEvent, error) {
	result := make([]*store.EditEvent, 0)
	for _, e := range m.events {
		if e.Type != eventType {
			continue
		}
		if filter.GraphID != "" && e.GraphID != filter.GraphID {
			continue
		}
		result = append(result, e)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// --- Helpers ---

func newTestServer(t *testing.T) (*CanvasServer, *mockStore) {
	t.Helper()

	validator, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)

	ms := newMockStore()
	s := NewCanvasServer(CanvasServerDeps{
		Store:     ms,
		Validator: validator,
		Query:     query.NewEngine(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, ms
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// openGraph creates a fresh graph through the open tool and returns its ID.
func openGraph(t *testing.T, s *CanvasServer, name string) string {
	t.Helper()

	req := buildRequest("canvas.open", map[string]any{"name": name})
	result, err := s.handleOpen(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	graphID, _ := out["graph_id"].(string)
	require.NotEmpty(t, graphID)
	return graphID
}

// addStep adds a step through the edit tool and returns the assigned ID.
func addStep(t *testing.T, s *CanvasServer, graphID, label string, nodeType schema.StepType) string {
	t.Helper()

	req := buildRequest("canvas.edit", map[string]any{
		"graph_id": graphID,
		"op":       "add_step",
		"step":     map[string]any{"label": label, "node_type": string(nodeType)},
		"position": map[string]any{"x": 100, "y": 0},
	})
	result, err := s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	stepID, _ := out["step_id"].(string)
	require.NotEmpty(t, stepID)
	return stepID
}

func connectSteps(t *testing.T, s *CanvasServer, graphID, source, target string) {
	t.Helper()

	req := buildRequest("canvas.connect", map[string]any{
		"graph_id": graphID,
		"op":       "connect",
		"edge":     map[string]any{"source": source, "target": target},
	})
	result, err := s.handleConnect(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
}

// --- Open / save / close ---

func TestOpenToolCreatesGraph(t *testing.T) {
	s, ms := newTestServer(t)

	req := buildRequest("canvas.open", map[string]any{"name": "Release pipeline"})
	result, err := s.handleOpen(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["created"])
	assert.Equal(t, "Release pipeline", out["name"])
	assert.Equal(t, float64(1), out["step_count"], "a new canvas starts with an entry step")

	graphID := out["graph_id"].(string)
	_, open := s.canvases.Get(graphID)
	assert.True(t, open)

	// Opening writes a journal entry.
	require.NotEmpty(t, ms.events)
	assert.Equal(t, schema.EventGraphOpened, ms.events[0].Type)
}

func TestOpenToolExistingGraph(t *testing.T) {
	s, ms := newTestServer(t)
	ms.graphs["g1"] = &store.GraphRecord{
		ID:   "g1",
		Name: "Stored",
		Bundle: &schema.GraphBundle{
			ID:   "g1",
			Name: "Stored",
			Steps: []schema.Step{
				{ID: "a", Label: "Start", Type: schema.StepTypeEntry},
				{ID: "b", Label: "Build", Type: schema.StepTypeToolCall},
			},
			Edges:     []schema.EdgeConnection{{Source: "a", Target: "b"}},
			Positions: schema.Positions{"a": {}, "b": {X: 200}},
		},
	}

	req := buildRequest("canvas.open", map[string]any{"graph_id": "g1"})
	result, err := s.handleOpen(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, false, out["created"])
	assert.Equal(t, float64(2), out["step_count"])
	assert.Equal(t, float64(1), out["edge_count"])
	assert.Equal(t, float64(2), out["layers"])
}

func TestOpenToolMissingGraph(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("canvas.open", map[string]any{"graph_id": "nope"})
	result, err := s.handleOpen(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSaveTool(t *testing.T) {
	s, ms := newTestServer(t)
	graphID := openGraph(t, s, "Save me")
	addStep(t, s, graphID, "Lint", schema.StepTypeToolCall)

	req := buildRequest("canvas.save", map[string]any{"graph_id": graphID})
	result, err := s.handleSave(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, ms.saved, 1)
	assert.Equal(t, graphID, ms.saved[0].ID)
	assert.Len(t, ms.saved[0].Bundle.Steps, 2)

	ed, _ := s.canvases.Get(graphID)
	assert.False(t, ed.Dirty())
}

func TestSaveToolNotOpen(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("canvas.save", map[string]any{"graph_id": "closed"})
	result, err := s.handleSave(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCloseToolSavesDirtyGraph(t *testing.T) {
	s, ms := newTestServer(t)
	graphID := openGraph(t, s, "Closing")
	addStep(t, s, graphID, "Lint", schema.StepTypeToolCall)

	req := buildRequest("canvas.close", map[string]any{"graph_id": graphID})
	result, err := s.handleClose(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["saved"])

	require.Len(t, ms.saved, 1)
	_, open := s.canvases.Get(graphID)
	assert.False(t, open)
}

func TestCloseToolDiscard(t *testing.T) {
	s, ms := newTestServer(t)
	graphID := openGraph(t, s, "Scratch")
	addStep(t, s, graphID, "Lint", schema.StepTypeToolCall)

	req := buildRequest("canvas.close", map[string]any{"graph_id": graphID, "save": "false"})
	result, err := s.handleClose(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Empty(t, ms.saved)
	_, open := s.canvases.Get(graphID)
	assert.False(t, open)
}

// --- Edit ---

func TestEditToolAddStep(t *testing.T) {
	s, ms := newTestServer(t)
	graphID := openGraph(t, s, "Editing")

	stepID := addStep(t, s, graphID, "Deploy", schema.StepTypeShellCommand)

	ed, _ := s.canvases.Get(graphID)
	bundle := ed.Bundle()
	require.Len(t, bundle.Steps, 2)
	assert.Equal(t, stepID, bundle.Steps[1].ID)
	assert.Equal(t, schema.StepTypeShellCommand, bundle.Steps[1].Type)

	// add happens after graph_opened in the journal
	last := ms.events[len(ms.events)-1]
	assert.Equal(t, schema.EventStepAdded, last.Type)
	assert.Equal(t, stepID, last.NodeID)
}

func TestEditToolAddStepUnknownType(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Editing")

	req := buildRequest("canvas.edit", map[string]any{
		"graph_id": graphID,
		"op":       "add_step",
		"step":     map[string]any{"label": "Bad", "node_type": "teleport"},
	})
	result, err := s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestEditToolDeleteStep(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Editing")
	stepID := addStep(t, s, graphID, "Doomed", schema.StepTypeToolCall)

	req := buildRequest("canvas.edit", map[string]any{
		"graph_id": graphID,
		"op":       "delete_step",
		"step_id":  stepID,
	})
	result, err := s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	ed, _ := s.canvases.Get(graphID)
	assert.Len(t, ed.Bundle().Steps, 1)
}

func TestEditToolSetFields(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Editing")
	stepID := addStep(t, s, graphID, "Gate", schema.StepTypeToolCall)

	for _, tc := range []struct {
		op    string
		value string
	}{
		{"set_label", "Ship gate"},
		{"set_type", "decision"},
		{"set_condition", "inputs.approved == true"},
		{"set_description", "Holds the release until approved"},
	} {
		req := buildRequest("canvas.edit", map[string]any{
			"graph_id": graphID,
			"op":       tc.op,
			"step_id":  stepID,
			"value":    tc.value,
		})
		result, err := s.handleEdit(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, result.IsError, tc.op)
	}

	ed, _ := s.canvases.Get(graphID)
	step := ed.Bundle().FindStep(stepID)
	require.NotNil(t, step)
	assert.Equal(t, "Ship gate", step.Label)
	assert.Equal(t, schema.StepTypeDecision, step.Type)
	assert.Equal(t, "inputs.approved == true", step.Condition)
}

func TestEditToolSetTypeUnknown(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Editing")
	stepID := addStep(t, s, graphID, "Gate", schema.StepTypeToolCall)

	req := buildRequest("canvas.edit", map[string]any{
		"graph_id": graphID,
		"op":       "set_type",
		"step_id":  stepID,
		"value":    "teleport",
	})
	result, err := s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestEditToolMove(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Editing")
	stepID := addStep(t, s, graphID, "Mover", schema.StepTypeToolCall)

	req := buildRequest("canvas.edit", map[string]any{
		"graph_id": graphID,
		"op":       "move",
		"step_id":  stepID,
		"position": map[string]any{"x": 420, "y": -80},
	})
	result, err := s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	ed, _ := s.canvases.Get(graphID)
	assert.Equal(t, schema.Position{X: 420, Y: -80}, ed.Bundle().Positions[stepID])
}

func TestEditToolNotes(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Editing")

	req := buildRequest("canvas.edit", map[string]any{
		"graph_id": graphID,
		"op":       "add_note",
		"note":     map[string]any{"content": "remember the rollback plan", "appears_with_step": 1},
		"position": map[string]any{"x": 10, "y": 10},
	})
	result, err := s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	noteID := out["note_id"].(string)

	req = buildRequest("canvas.edit", map[string]any{
		"graph_id": graphID,
		"op":       "edit_note",
		"note_id":  noteID,
		"content":  "rollback plan lives in the runbook",
	})
	result, err = s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	ed, _ := s.canvases.Get(graphID)
	note := ed.Bundle().FindNote(noteID)
	require.NotNil(t, note)
	assert.Equal(t, "rollback plan lives in the runbook", note.Content)

	req = buildRequest("canvas.edit", map[string]any{
		"graph_id": graphID,
		"op":       "delete_note",
		"note_id":  noteID,
	})
	result, err = s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Empty(t, ed.Bundle().Notes)
}

func TestEditToolMissingParams(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Editing")

	// Missing op.
	req := buildRequest("canvas.edit", map[string]any{"graph_id": graphID})
	result, err := s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// Missing step_id for delete.
	req = buildRequest("canvas.edit", map[string]any{"graph_id": graphID, "op": "delete_step"})
	result, err = s.handleEdit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Connect ---

func TestConnectTool(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Wiring")
	a := addStep(t, s, graphID, "Build", schema.StepTypeToolCall)
	b := addStep(t, s, graphID, "Test", schema.StepTypeToolCall)

	connectSteps(t, s, graphID, a, b)

	ed, _ := s.canvases.Get(graphID)
	require.Len(t, ed.Bundle().Edges, 1)
	assert.Equal(t, a, ed.Bundle().Edges[0].Source)

	// Flip reverses direction.
	req := buildRequest("canvas.connect", map[string]any{
		"graph_id": graphID,
		"op":       "flip",
		"edge":     map[string]any{"source": a, "target": b},
	})
	result, err := s.handleConnect(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, b, ed.Bundle().Edges[0].Source)

	// Disconnect removes it.
	req = buildRequest("canvas.connect", map[string]any{
		"graph_id": graphID,
		"op":       "disconnect",
		"edge":     map[string]any{"source": b, "target": a},
	})
	result, err = s.handleConnect(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Empty(t, ed.Bundle().Edges)
}

func TestConnectToolUnknownEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Wiring")

	req := buildRequest("canvas.connect", map[string]any{
		"graph_id": graphID,
		"op":       "connect",
		"edge":     map[string]any{"source": "ghost", "target": "phantom"},
	})
	result, err := s.handleConnect(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Group ---

func TestGroupTool(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Grouping")
	a := addStep(t, s, graphID, "Build", schema.StepTypeToolCall)
	b := addStep(t, s, graphID, "Test", schema.StepTypeToolCall)

	req := buildRequest("canvas.group", map[string]any{
		"graph_id": graphID,
		"op":       "group",
		"node_ids": []any{a, b},
	})
	result, err := s.handleGroup(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	containerID := out["container_id"].(string)
	require.NotEmpty(t, containerID)

	req = buildRequest("canvas.group", map[string]any{
		"graph_id":     graphID,
		"op":           "toggle_collapse",
		"container_id": containerID,
	})
	result, err = s.handleGroup(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	req = buildRequest("canvas.group", map[string]any{
		"graph_id":     graphID,
		"op":           "ungroup",
		"container_id": containerID,
	})
	result, err = s.handleGroup(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	ed, _ := s.canvases.Get(graphID)
	assert.Empty(t, ed.Membership())
}

func TestGroupToolTooFewNodes(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Grouping")
	a := addStep(t, s, graphID, "Lonely", schema.StepTypeToolCall)

	req := buildRequest("canvas.group", map[string]any{
		"graph_id": graphID,
		"op":       "group",
		"node_ids": []any{a},
	})
	result, err := s.handleGroup(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Stepper ---

func TestStepTool(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Stepping")

	ed, _ := s.canvases.Get(graphID)
	entryID := ed.Bundle().Steps[0].ID
	b := addStep(t, s, graphID, "Build", schema.StepTypeToolCall)
	connectSteps(t, s, graphID, entryID, b)

	req := buildRequest("canvas.step", map[string]any{"graph_id": graphID, "op": "reset"})
	result, err := s.handleStep(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var view map[string]any
	unmarshalResult(t, result, &view)
	assert.Equal(t, float64(1), view["depth"])
	assert.Equal(t, float64(2), view["layers"])

	req = buildRequest("canvas.step", map[string]any{"graph_id": graphID, "op": "advance"})
	result, err = s.handleStep(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &view)
	assert.Equal(t, float64(2), view["depth"])
	assert.Len(t, view["node_ids"], 2)

	req = buildRequest("canvas.step", map[string]any{"graph_id": graphID, "op": "retreat"})
	result, err = s.handleStep(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &view)
	assert.Equal(t, float64(1), view["depth"])
	assert.Len(t, view["node_ids"], 1)
}

// --- History ---

func TestHistoryTool(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "History")
	addStep(t, s, graphID, "Undone", schema.StepTypeToolCall)

	req := buildRequest("canvas.history", map[string]any{"graph_id": graphID, "op": "undo"})
	result, err := s.handleHistory(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["applied"])
	assert.Equal(t, true, out["can_redo"])

	ed, _ := s.canvases.Get(graphID)
	assert.Len(t, ed.Bundle().Steps, 1)

	req = buildRequest("canvas.history", map[string]any{"graph_id": graphID, "op": "redo"})
	result, err = s.handleHistory(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["applied"])
	assert.Len(t, ed.Bundle().Steps, 2)
}

func TestHistoryToolNotOpen(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("canvas.history", map[string]any{"graph_id": "closed", "op": "undo"})
	result, err := s.handleHistory(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Templates ---

func sampleFragmentMap() map[string]any {
	return map[string]any{
		"steps": []any{
			map[string]any{"id": "f1", "label": "Fetch", "nodeType": "tool-call"},
			map[string]any{"id": "f2", "label": "Parse", "nodeType": "tool-call"},
		},
		"edges": []any{
			map[string]any{"source": "f1", "target": "f2"},
		},
		"positions": map[string]any{
			"f1": map[string]any{"x": 0, "y": 0},
			"f2": map[string]any{"x": 200, "y": 0},
		},
	}
}

func TestTemplateDefineAndVersionIncrement(t *testing.T) {
	s, ms := newTestServer(t)

	for i, want := range []string{"v1", "v2"} {
		req := buildRequest("canvas.template", map[string]any{
			"op":       "define",
			"name":     "etl",
			"fragment": sampleFragmentMap(),
		})
		result, err := s.handleTemplate(context.Background(), req)
		require.NoError(t, err)
		require.False(t, result.IsError, extractText(t, result))

		require.Len(t, ms.templates, i+1)
		assert.Equal(t, want, ms.templates[i].Version)
	}
}

func TestTemplateDefineInvalidFragment(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("canvas.template", map[string]any{
		"op":   "define",
		"name": "broken",
		"fragment": map[string]any{
			"steps":     []any{},
			"positions": map[string]any{},
		},
	})
	result, err := s.handleTemplate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTemplateMerge(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Merging")

	req := buildRequest("canvas.template", map[string]any{
		"op":       "define",
		"name":     "etl",
		"fragment": sampleFragmentMap(),
	})
	result, err := s.handleTemplate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	req = buildRequest("canvas.template", map[string]any{
		"op":       "merge",
		"name":     "etl",
		"graph_id": graphID,
		"anchor":   map[string]any{"x": 500, "y": 100},
	})
	result, err = s.handleTemplate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "v1", out["version"])
	assert.Len(t, out["step_ids"], 2)

	ed, _ := s.canvases.Get(graphID)
	bundle := ed.Bundle()
	assert.Len(t, bundle.Steps, 3)
	assert.Len(t, bundle.Edges, 1)

	// Merged steps get fresh IDs; the fragment IDs must not leak in.
	assert.Nil(t, bundle.FindStep("f1"))
}

func TestTemplateMergeLatestVersion(t *testing.T) {
	s, ms := newTestServer(t)
	graphID := openGraph(t, s, "Merging")

	frag := &schema.Fragment{
		Steps:     []schema.Step{{ID: "x", Label: "X", Type: schema.StepTypeToolCall}},
		Positions: schema.Positions{"x": {}},
	}
	ms.templates = []*store.Template{
		{Name: "etl", Version: "v1", Fragment: frag},
		{Name: "etl", Version: "v3", Fragment: frag},
		{Name: "etl", Version: "v2", Fragment: frag},
	}

	req := buildRequest("canvas.template", map[string]any{
		"op":       "merge",
		"name":     "etl",
		"graph_id": graphID,
	})
	result, err := s.handleTemplate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "v3", out["version"])
}

func TestTemplateDelete(t *testing.T) {
	s, ms := newTestServer(t)
	ms.templates = []*store.Template{{Name: "etl", Version: "v1"}}

	req := buildRequest("canvas.template", map[string]any{
		"op":      "delete",
		"name":    "etl",
		"version": "v1",
	})
	result, err := s.handleTemplate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Empty(t, ms.templates)
}

// --- Layout ---

func TestLayoutTool(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Layout")

	ed, _ := s.canvases.Get(graphID)
	entryID := ed.Bundle().Steps[0].ID
	b := addStep(t, s, graphID, "Build", schema.StepTypeToolCall)
	connectSteps(t, s, graphID, entryID, b)

	req := buildRequest("canvas.layout", map[string]any{"graph_id": graphID})
	result, err := s.handleLayout(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, float64(2), out["placed"])

	bundle := ed.Bundle()
	assert.Less(t, bundle.Positions[entryID].X, bundle.Positions[b].X)
}

// --- Query ---

func TestQueryTool(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Query")
	addStep(t, s, graphID, "Build", schema.StepTypeToolCall)

	req := buildRequest("canvas.query", map[string]any{
		"graph_id":   graphID,
		"expression": ".steps | length",
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, float64(2), out["result"])
}

func TestQueryToolBadExpression(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Query")

	req := buildRequest("canvas.query", map[string]any{
		"graph_id":   graphID,
		"expression": ".steps[ |",
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Validate ---

func TestValidateToolCleanGraph(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Valid")

	req := buildRequest("canvas.validate", map[string]any{"graph_id": graphID})
	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["valid"])
}

func TestValidateToolReportsIssues(t *testing.T) {
	s, ms := newTestServer(t)
	ms.graphs["bad"] = &store.GraphRecord{
		ID: "bad",
		Bundle: &schema.GraphBundle{
			ID: "bad",
			Steps: []schema.Step{
				{ID: "dup", Label: "One", Type: schema.StepTypeEntry},
				{ID: "dup", Label: "Two", Type: schema.StepTypeToolCall},
			},
			Edges:     []schema.EdgeConnection{},
			Positions: schema.Positions{},
		},
	}

	req := buildRequest("canvas.validate", map[string]any{"graph_id": "bad"})
	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, "validation findings are a result, not a tool error")

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, false, out["valid"])
	assert.NotEmpty(t, out["details"])
}

// --- Diagram ---

func TestDiagramToolMermaid(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Diagram")

	ed, _ := s.canvases.Get(graphID)
	entryID := ed.Bundle().Steps[0].ID
	b := addStep(t, s, graphID, "Build", schema.StepTypeToolCall)
	connectSteps(t, s, graphID, entryID, b)

	req := buildRequest("canvas.diagram", map[string]any{"graph_id": graphID, "format": "mermaid"})
	result, err := s.handleDiagram(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "graph LR")
	assert.Contains(t, text, "Build")
}

func TestDiagramToolASCII(t *testing.T) {
	s, _ := newTestServer(t)
	graphID := openGraph(t, s, "Diagram")

	req := buildRequest("canvas.diagram", map[string]any{"graph_id": graphID, "format": "ascii"})
	result, err := s.handleDiagram(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "[START]")
}

// --- List ---

func TestListGraphs(t *testing.T) {
	s, ms := newTestServer(t)
	ms.graphs["g1"] = &store.GraphRecord{ID: "g1", Name: "One", Bundle: &schema.GraphBundle{ID: "g1"}}
	ms.graphs["g2"] = &store.GraphRecord{ID: "g2", Name: "Two", Bundle: &schema.GraphBundle{ID: "g2"}}

	req := buildRequest("canvas.list", map[string]any{"resource": "graphs"})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Graphs []store.GraphSummary `json:"graphs"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Graphs, 2)
}

func TestListEventsRequiresFilter(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("canvas.list", map[string]any{"resource": "events"})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListEventsByGraph(t *testing.T) {
	s, ms := newTestServer(t)
	graphID := openGraph(t, s, "Journal")
	addStep(t, s, graphID, "Build", schema.StepTypeToolCall)
	require.NotEmpty(t, ms.events)

	req := buildRequest("canvas.list", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"graph_id": graphID},
	})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Events []store.EditEvent `json:"events"`
	}
	unmarshalResult(t, result, &out)
	require.NotEmpty(t, out.Events)
	assert.Equal(t, schema.EventGraphOpened, out.Events[0].Type)
}

func TestListUnknownResource(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("canvas.list", map[string]any{"resource": "invalid"})
	result, err := s.handleList(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestVersionNum(t *testing.T) {
	assert.Equal(t, 1, versionNum("v1"))
	assert.Equal(t, 42, versionNum("v42"))
	assert.Equal(t, 0, versionNum("invalid"))
	assert.Equal(t, 3, versionNum("3"))
}
