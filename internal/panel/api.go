package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/GGPrompts/flowcanvas/internal/store"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// handleListGraphs lists stored graphs. Supports ?name=, ?limit=, ?offset=.
func (s *PanelServer) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	filter := store.GraphFilter{
		NameLike: r.URL.Query().Get("name"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}

	graphs, err := s.deps.Store.ListGraphs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list graphs: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"graphs": graphs})
}

// handleGetGraph returns a graph bundle. A live editing session takes
// precedence over the stored copy so the panel always shows current state.
func (s *PanelServer) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	graphID := r.PathValue("id")

	if ed, ok := s.deps.Canvases.Get(graphID); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"graph": ed.Bundle(),
			"live":  true,
			"dirty": ed.Dirty(),
		})
		return
	}

	rec, err := s.deps.Store.GetGraph(r.Context(), graphID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"graph": rec.Bundle,
		"live":  false,
	})
}

// handleGraphView returns the visible view of an open session: node IDs at
// or below the reveal depth, their edges and notes.
func (s *PanelServer) handleGraphView(w http.ResponseWriter, r *http.Request) {
	graphID := r.PathValue("id")

	ed, ok := s.deps.Canvases.Get(graphID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("graph %q is not open", graphID))
		return
	}
	writeJSON(w, http.StatusOK, ed.Visible())
}

// handleGraphEvents returns the edit journal for a graph. Supports ?since=
// (sequence number) for incremental reads.
func (s *PanelServer) handleGraphEvents(w http.ResponseWriter, r *http.Request) {
	graphID := r.PathValue("id")
	since := int64(queryInt(r, "since", 0))

	events, err := s.deps.Store.GetEditEvents(r.Context(), graphID, since)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleRenameGraph renames a stored graph and any live session over it.
func (s *PanelServer) handleRenameGraph(w http.ResponseWriter, r *http.Request) {
	graphID := r.PathValue("id")

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.deps.Store.RenameGraph(r.Context(), graphID, body.Name); err != nil {
		writeStoreError(w, err)
		return
	}
	if ed, ok := s.deps.Canvases.Get(graphID); ok {
		ed.Rename(body.Name)
	}

	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": graphID, "name": body.Name})
}

// handleDeleteGraph deletes a stored graph. Open sessions are left alone;
// closing one later recreates the record if the caller saves.
func (s *PanelServer) handleDeleteGraph(w http.ResponseWriter, r *http.Request) {
	graphID := r.PathValue("id")

	if err := s.deps.Store.DeleteGraph(r.Context(), graphID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": graphID})
}

// handleListTemplates lists stored templates. Supports ?name=.
func (s *PanelServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	filter := store.TemplateFilter{
		Name:  r.URL.Query().Get("name"),
		Limit: queryInt(r, "limit", 50),
	}

	templates, err := s.deps.Store.ListTemplates(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list templates: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// handleDeleteTemplate deletes a specific template version.
func (s *PanelServer) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version := r.PathValue("version")

	if err := s.deps.Store.DeleteTemplate(r.Context(), name, version); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "name": name, "version": version})
}

// sessionInfo is the listing view of one open editing session.
type sessionInfo struct {
	GraphID string `json:"graph_id"`
	Name    string `json:"name"`
	Dirty   bool   `json:"dirty"`
	Steps   int    `json:"steps"`
	Depth   int    `json:"depth"`
	Layers  int    `json:"layers"`
	SeenAt  string `json:"seen_at"`
}

// handleSessions lists the graphs currently open for editing.
func (s *PanelServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)

	infos := make([]sessionInfo, 0)
	for _, graphID := range s.deps.Canvases.OpenIDs() {
		ed, ok := s.deps.Canvases.Get(graphID)
		if !ok {
			continue
		}
		bundle := ed.Bundle()
		view := ed.Visible()
		infos = append(infos, sessionInfo{
			GraphID: graphID,
			Name:    bundle.Name,
			Dirty:   ed.Dirty(),
			Steps:   len(bundle.Steps),
			Depth:   view.Depth,
			Layers:  view.Layers,
			SeenAt:  now,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

// writeStoreError maps a store error to an HTTP status.
func writeStoreError(w http.ResponseWriter, err error) {
	var cerr *schema.CanvasError
	if errors.As(err, &cerr) && cerr.Code == schema.ErrCodeNotFound {
		writeError(w, http.StatusNotFound, cerr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return n
	}
	return def
}
