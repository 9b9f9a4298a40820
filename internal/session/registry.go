// Package session tracks the canvases currently open for editing. Each open
// canvas is one Editor instance; the registry hands the same instance to
// every caller so edits, history, and visibility state stay coherent.
package session

import (
	"sync"

	"github.com/GGPrompts/flowcanvas/internal/autosave"
	"github.com/GGPrompts/flowcanvas/internal/engine"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// Registry maps graph IDs to open editors.
type Registry struct {
	mu      sync.RWMutex
	editors map[string]*engine.Editor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{editors: make(map[string]*engine.Editor)}
}

// Open registers an editor for a graph ID. If the canvas is already open,
// the existing editor is returned and the new one discarded.
func (r *Registry) Open(graphID string, editor *engine.Editor) *engine.Editor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.editors[graphID]; ok {
		return existing
	}
	r.editors[graphID] = editor
	return editor
}

// Get returns the open editor for a graph ID, if any.
func (r *Registry) Get(graphID string) (*engine.Editor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ed, ok := r.editors[graphID]
	return ed, ok
}

// Close removes a canvas from the registry. The last bundle state is
// returned so the caller can persist it.
func (r *Registry) Close(graphID string) (*schema.GraphBundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ed, ok := r.editors[graphID]
	if !ok {
		return nil, false
	}
	delete(r.editors, graphID)
	return ed.Bundle(), true
}

// OpenIDs lists the graph IDs currently open.
func (r *Registry) OpenIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.editors))
	for id := range r.editors {
		ids = append(ids, id)
	}
	return ids
}

// DirtySnapshots returns a snapshot of every open canvas with unsaved edits.
func (r *Registry) DirtySnapshots() []autosave.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []autosave.Snapshot
	for id, ed := range r.editors {
		if !ed.Dirty() {
			continue
		}
		bundle := ed.Bundle()
		out = append(out, autosave.Snapshot{
			GraphID: id,
			Name:    bundle.Name,
			Bundle:  bundle,
		})
	}
	return out
}

// MarkSaved clears the dirty flag on an open canvas after a successful save.
func (r *Registry) MarkSaved(graphID string) {
	r.mu.RLock()
	ed, ok := r.editors[graphID]
	r.mu.RUnlock()
	if ok {
		ed.MarkSaved()
	}
}

var _ autosave.Source = (*Registry)(nil)
