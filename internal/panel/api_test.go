package panel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GGPrompts/flowcanvas/internal/engine"
	"github.com/GGPrompts/flowcanvas/internal/session"
	"github.com/GGPrompts/flowcanvas/internal/store"
	"github.com/GGPrompts/flowcanvas/internal/streaming"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

type mockStore struct {
	store.Store

	graphs    map[string]*store.GraphRecord
	templates []*store.Template
	events    []*store.EditEvent
	renamed   map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{
		graphs:  make(map[string]*store.GraphRecord),
		renamed: make(map[string]string),
	}
}

func (m *mockStore) GetGraph(_ context.Context, id string) (*store.GraphRecord, error) {
	if rec, ok := m.graphs[id]; ok {
		return rec, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "graph %q not found", id)
}

func (m *mockStore) ListGraphs(_ context.Context, _ store.GraphFilter) ([]*store.GraphSummary, error) {
	result := make([]*store.GraphSummary, 0)
	for _, rec := range m.graphs {
		result = append(result, &store.GraphSummary{ID: rec.ID, Name: rec.Name})
	}
	return result, nil
}

func (m *mockStore) RenameGraph(_ context.Context, id, name string) error {
	if _, ok := m.graphs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "graph %q not found", id)
	}
	m.renamed[id] = name
	return nil
}

func (m *mockStore) DeleteGraph(_ context.Context, id string) error {
	if _, ok := m.graphs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "graph %q not found", id)
	}
	delete(m.graphs, id)
	return nil
}

func (m *mockStore) ListTemplates(_ context.Context, _ store.TemplateFilter) ([]*store.Template, error) {
	return m.templates, nil
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

func (m *mockStore) GetEditEvents(_ context.Context, graphID string, since int64) ([]*store.EditEvent, error) {
	result := make([]*store.EditEvent, 0)
	for _, e := range m.events {
		if e.GraphID == graphID && e.Sequence > since {
			result = append(result, e)
		}
	}
	return result, nil
}

func newTestPanel(t *testing.T) (*PanelServer, *mockStore, *session.Registry) {
	t.Helper()

	ms := newMockStore()
	canvases := session.NewRegistry()
	s := NewPanelServer(PanelDeps{
		Store:    ms,
		Canvases: canvases,
		Hub:      streaming.NewMemoryHub(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, ms, canvases
}

func openCanvas(t *testing.T, canvases *session.Registry, id, name string) *engine.Editor {
	t.Helper()

	bundle := &schema.GraphBundle{
		ID:   id,
		Name: name,
		Steps: []schema.Step{
			{ID: "a", Label: "Start", Type: schema.StepTypeEntry},
		},
		Positions: schema.Positions{"a": {}},
	}
	return canvases.Open(id, engine.NewEditor(bundle, engine.EditorDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}))
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

func TestListGraphs(t *testing.T) {
	s, ms, _ := newTestPanel(t)
	ms.graphs["g1"] = &store.GraphRecord{ID: "g1", Name: "One", Bundle: &schema.GraphBundle{ID: "g1"}}
	ms.graphs["g2"] = &store.GraphRecord{ID: "g2", Name: "Two", Bundle: &schema.GraphBundle{ID: "g2"}}

	rr, out := doJSON(t, s.Handler(), http.MethodGet, "/api/graphs", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, out["graphs"], 2)
}

func TestGetGraphPrefersLiveSession(t *testing.T) {
	s, ms, canvases := newTestPanel(t)
	ms.graphs["g1"] = &store.GraphRecord{
		ID:     "g1",
		Name:   "Stale",
		Bundle: &schema.GraphBundle{ID: "g1", Name: "Stale", Positions: schema.Positions{}},
	}
	ed := openCanvas(t, canvases, "g1", "Fresh")
	ed.SetStepLabel("a", "Kickoff")

	rr, out := doJSON(t, s.Handler(), http.MethodGet, "/api/graphs/g1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, out["live"])
	assert.Equal(t, true, out["dirty"])

	graph := out["graph"].(map[string]any)
	assert.Equal(t, "Fresh", graph["name"])
}

func TestGetGraphStored(t *testing.T) {
	s, ms, _ := newTestPanel(t)
	ms.graphs["g1"] = &store.GraphRecord{
		ID:     "g1",
		Name:   "Stored",
		Bundle: &schema.GraphBundle{ID: "g1", Name: "Stored", Positions: schema.Positions{}},
	}

	rr, out := doJSON(t, s.Handler(), http.MethodGet, "/api/graphs/g1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, out["live"])
}

func TestGetGraphNotFound(t *testing.T) {
	s, _, _ := newTestPanel(t)

	rr, _ := doJSON(t, s.Handler(), http.MethodGet, "/api/graphs/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGraphViewRequiresOpenSession(t *testing.T) {
	s, _, canvases := newTestPanel(t)

	rr, _ := doJSON(t, s.Handler(), http.MethodGet, "/api/graphs/g1/view", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	openCanvas(t, canvases, "g1", "Open")
	rr, out := doJSON(t, s.Handler(), http.MethodGet, "/api/graphs/g1/view", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, out["node_ids"], 1)
}

func TestRenameGraphUpdatesLiveSession(t *testing.T) {
	s, ms, canvases := newTestPanel(t)
	ms.graphs["g1"] = &store.GraphRecord{ID: "g1", Name: "Old", Bundle: &schema.GraphBundle{ID: "g1"}}
	ed := openCanvas(t, canvases, "g1", "Old")

	rr, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/graphs/g1/rename", `{"name":"New"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "New", ms.renamed["g1"])
	assert.Equal(t, "New", ed.Bundle().Name)
}

func TestRenameGraphRequiresName(t *testing.T) {
	s, ms, _ := newTestPanel(t)
	ms.graphs["g1"] = &store.GraphRecord{ID: "g1", Bundle: &schema.GraphBundle{ID: "g1"}}

	rr, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/graphs/g1/rename", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteGraph(t *testing.T) {
	s, ms, _ := newTestPanel(t)
	ms.graphs["g1"] = &store.GraphRecord{ID: "g1", Bundle: &schema.GraphBundle{ID: "g1"}}

	rr, _ := doJSON(t, s.Handler(), http.MethodDelete, "/api/graphs/g1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, ms.graphs)

	rr, _ = doJSON(t, s.Handler(), http.MethodDelete, "/api/graphs/g1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteTemplate(t *testing.T) {
	s, ms, _ := newTestPanel(t)
	ms.templates = []*store.Template{{Name: "etl", Version: "v1"}}

	rr, _ := doJSON(t, s.Handler(), http.MethodDelete, "/api/templates/etl/v1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, ms.templates)
}

func TestGraphEventsSince(t *testing.T) {
	s, ms, _ := newTestPanel(t)
	ms.events = []*store.EditEvent{
		{GraphID: "g1", Type: schema.EventStepAdded, Sequence: 1},
		{GraphID: "g1", Type: schema.EventStepMoved, Sequence: 2},
		{GraphID: "g2", Type: schema.EventStepAdded, Sequence: 1},
	}

	rr, out := doJSON(t, s.Handler(), http.MethodGet, "/api/graphs/g1/events?since=1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, out["events"], 1)
}

func TestSessions(t *testing.T) {
	s, _, canvases := newTestPanel(t)
	ed := openCanvas(t, canvases, "g1", "Editing")
	ed.SetStepLabel("a", "Kickoff")

	rr, out := doJSON(t, s.Handler(), http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	sessions := out["sessions"].([]any)
	require.Len(t, sessions, 1)
	info := sessions[0].(map[string]any)
	assert.Equal(t, "g1", info["graph_id"])
	assert.Equal(t, true, info["dirty"])
}
