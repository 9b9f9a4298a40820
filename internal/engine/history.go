package engine

import "github.com/GGPrompts/flowcanvas/pkg/schema"

// historyLimit bounds the undo stack. Older snapshots are dropped first.
const historyLimit = 50

// History is the bounded snapshot stack over the whole graph model: an
// append-only list plus a cursor. Snapshots are deep copies in both
// directions, so entries never alias the live bundle.
//
// History is not safe for concurrent use; the Editor serializes access.
type History struct {
	entries   []*schema.GraphBundle
	cursor    int // index of the current entry, -1 when empty
	restoring bool
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{cursor: -1}
}

// Push records a snapshot of the bundle as the new current state. Any redo
// branch beyond the cursor is discarded. While a restore is in progress Push
// is a silent no-op: applying a snapshot back onto the model must not record
// new forward states.
func (h *History) Push(bundle *schema.GraphBundle) {
	if h.restoring || bundle == nil {
		return
	}

	// Drop the stale redo branch.
	h.entries = h.entries[:h.cursor+1]
	h.entries = append(h.entries, bundle.Clone())
	h.cursor = len(h.entries) - 1

	if len(h.entries) > historyLimit {
		drop := len(h.entries) - historyLimit
		h.entries = h.entries[drop:]
		h.cursor -= drop
	}
}

// Undo moves the cursor back one entry and returns a deep copy of the
// snapshot there, or nil when already at the oldest entry. A nil result means
// "nothing to do", not an error.
func (h *History) Undo() *schema.GraphBundle {
	if h.cursor <= 0 {
		return nil
	}
	h.cursor--
	return h.entries[h.cursor].Clone()
}

// Redo moves the cursor forward one entry and returns a deep copy of the
// snapshot there, or nil when already at the newest entry.
func (h *History) Redo() *schema.GraphBundle {
	if h.cursor >= len(h.entries)-1 {
		return nil
	}
	h.cursor++
	return h.entries[h.cursor].Clone()
}

// CanUndo reports whether an older snapshot exists.
func (h *History) CanUndo() bool { return h.cursor > 0 }

// CanRedo reports whether a newer snapshot exists.
func (h *History) CanRedo() bool { return h.cursor < len(h.entries)-1 }

// Len returns the number of retained snapshots.
func (h *History) Len() int { return len(h.entries) }

// BeginRestore enters the restore scope: until EndRestore, Push calls are
// ignored. All mutation entry points hold this scope while a snapshot is
// being applied back onto the live model.
func (h *History) BeginRestore() { h.restoring = true }

// EndRestore leaves the restore scope.
func (h *History) EndRestore() { h.restoring = false }

// Restoring reports whether a restore is in progress.
func (h *History) Restoring() bool { return h.restoring }
