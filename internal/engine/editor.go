package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GGPrompts/flowcanvas/internal/streaming"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// EditorDeps holds the collaborators for creating an Editor.
type EditorDeps struct {
	Hub    streaming.EventHub
	Focus  FocusRequester
	Logger *slog.Logger
}

// Editor owns one live GraphBundle and every mutation over it: it keeps the
// depth partition current, drives the stepper, records history snapshots via
// the commit-then-snapshot protocol, and publishes editor events.
//
// Mutations are discrete user-level operations; the mutex only serializes the
// MCP, panel, and autosave goroutines; each operation is still atomic.
type Editor struct {
	mu sync.Mutex

	bundle  *schema.GraphBundle
	history *History
	grouper *Grouper
	stepper *Stepper
	groups  []DepthGroup

	hub    streaming.EventHub
	logger *slog.Logger

	dirty           bool // unsaved changes since last store write
	snapshotPending bool // a mutation happened; Flush owes one snapshot
}

// NewEditor creates an Editor over the given bundle and records the opening
// state as the first history entry.
func NewEditor(bundle *schema.GraphBundle, deps EditorDeps) *Editor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if bundle.Positions == nil {
		bundle.Positions = make(schema.Positions)
	}
	bundle.SyncNotePositions()

	ed := &Editor{
		bundle:  bundle,
		history: NewHistory(),
		grouper: NewGrouper(),
		hub:     deps.Hub,
		logger:  logger.With(slog.String("graph_id", bundle.ID)),
	}
	ed.groups = Partition(bundle.Steps, bundle.Edges)
	ed.stepper = NewStepper(ed.groups, deps.Focus)
	ed.history.Push(bundle)
	return ed
}

// GraphID returns the bundle identifier.
func (ed *Editor) GraphID() string {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.bundle.ID
}

// Bundle returns a deep copy of the live bundle (for save/export).
func (ed *Editor) Bundle() *schema.GraphBundle {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.bundle.SyncNotePositions()
	return ed.bundle.Clone()
}

// Dirty reports whether the bundle changed since the last MarkSaved.
func (ed *Editor) Dirty() bool {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.dirty
}

// MarkSaved clears the dirty flag after a successful store write.
func (ed *Editor) MarkSaved() {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.dirty = false
}

// Rename sets the bundle name. Renames don't create history entries; the
// name is identity metadata, not canvas content.
func (ed *Editor) Rename(name string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	if ed.bundle.Name == name {
		return
	}
	ed.bundle.Name = name
	ed.dirty = true
	ed.publish(schema.EventGraphNamed, "", name)
}

// --- Step mutations ---

// AddStep appends a step at the given position. Steps with an empty ID, a
// duplicate ID, or an unknown type are rejected.
func (ed *Editor) AddStep(step schema.Step, pos schema.Position) error {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if step.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step has empty ID")
	}
	if !schema.ValidStepType(step.Type) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown step type: %s", step.Type).WithNode(step.ID)
	}
	if ed.bundle.HasID(step.ID) {
		return schema.NewErrorf(schema.ErrCodeConflict, "node ID already in use: %s", step.ID).WithNode(step.ID)
	}

	ed.bundle.Steps = append(ed.bundle.Steps, step)
	ed.bundle.Positions[step.ID] = pos
	ed.afterTopologyChange()
	ed.publish(schema.EventStepAdded, step.ID, nil)
	return nil
}

// DeleteStep removes a step, cascading to its incident edges, its position
// entry, and its grouping membership. Unknown IDs are a no-op.
func (ed *Editor) DeleteStep(id string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	found := false
	for i := range ed.bundle.Steps {
		if ed.bundle.Steps[i].ID == id {
			ed.bundle.Steps = append(ed.bundle.Steps[:i], ed.bundle.Steps[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}

	kept := ed.bundle.Edges[:0]
	for _, e := range ed.bundle.Edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	ed.bundle.Edges = kept
	delete(ed.bundle.Positions, id)
	ed.grouper.Forget(id)

	ed.afterTopologyChange()
	ed.publish(schema.EventStepDeleted, id, nil)
}

// SetStepLabel commits a completed label edit. Text edits reach the editor
// once per finished edit, never per keystroke.
func (ed *Editor) SetStepLabel(id, label string) {
	ed.editStep(id, func(s *schema.Step) { s.Label = label })
}

// SetStepDescription commits a completed description edit.
func (ed *Editor) SetStepDescription(id, description string) {
	ed.editStep(id, func(s *schema.Step) { s.Description = description })
}

// SetStepType changes a step's type tag. Unknown types are a no-op.
func (ed *Editor) SetStepType(id string, t schema.StepType) {
	if !schema.ValidStepType(t) {
		return
	}
	ed.editStep(id, func(s *schema.Step) { s.Type = t })
}

// SetStepCondition commits a decision step's branch expression.
func (ed *Editor) SetStepCondition(id, condition string) {
	ed.editStep(id, func(s *schema.Step) { s.Condition = condition })
}

func (ed *Editor) editStep(id string, apply func(*schema.Step)) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	step := ed.bundle.FindStep(id)
	if step == nil {
		return
	}
	apply(step)
	ed.markMutation()
	ed.publish(schema.EventStepEdited, id, nil)
}

// MoveNode records a drag-end position for any node (step, note, container).
func (ed *Editor) MoveNode(id string, pos schema.Position) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if !ed.bundle.HasID(id) {
		return
	}
	ed.bundle.Positions[id] = pos
	if note := ed.bundle.FindNote(id); note != nil {
		note.Position = pos
	}
	ed.markMutation()
	ed.publish(schema.EventStepMoved, id, pos)
}

// --- Edge mutations ---

// Connect adds a directed edge. Both endpoints must exist; duplicate
// connections (same endpoints and handles) are rejected.
func (ed *Editor) Connect(edge schema.EdgeConnection) error {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if ed.bundle.FindStep(edge.Source) == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "edge source not found: %s", edge.Source)
	}
	if ed.bundle.FindStep(edge.Target) == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "edge target not found: %s", edge.Target)
	}
	for _, existing := range ed.bundle.Edges {
		if existing.Same(edge) {
			return schema.NewError(schema.ErrCodeConflict, "edge already exists")
		}
	}

	ed.bundle.Edges = append(ed.bundle.Edges, edge)
	ed.afterTopologyChange()
	ed.publish(schema.EventEdgeConnected, edge.Source, edge)
	return nil
}

// Disconnect removes the edge matching the given endpoints and handles.
// Missing edges are a no-op.
func (ed *Editor) Disconnect(edge schema.EdgeConnection) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	for i, existing := range ed.bundle.Edges {
		if existing.Same(edge) {
			ed.bundle.Edges = append(ed.bundle.Edges[:i], ed.bundle.Edges[i+1:]...)
			ed.afterTopologyChange()
			ed.publish(schema.EventEdgeDisconnected, edge.Source, edge)
			return
		}
	}
}

// Reconnect moves an existing edge to new endpoints or handles, keeping its
// label.
func (ed *Editor) Reconnect(old, updated schema.EdgeConnection) error {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if ed.bundle.FindStep(updated.Source) == nil || ed.bundle.FindStep(updated.Target) == nil {
		return schema.NewError(schema.ErrCodeNotFound, "reconnect endpoint not found")
	}
	for i, existing := range ed.bundle.Edges {
		if existing.Same(old) {
			updated.Label = existing.Label
			ed.bundle.Edges[i] = updated
			ed.afterTopologyChange()
			ed.publish(schema.EventEdgeReconnected, updated.Source, updated)
			return nil
		}
	}
	return schema.NewError(schema.ErrCodeNotFound, "edge not found")
}

// FlipEdge reverses an edge's direction, swapping endpoints and handles.
func (ed *Editor) FlipEdge(edge schema.EdgeConnection) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	for i, existing := range ed.bundle.Edges {
		if existing.Same(edge) {
			flipped := existing
			flipped.Source, flipped.Target = existing.Target, existing.Source
			flipped.SourceHandle, flipped.TargetHandle = existing.TargetHandle, existing.SourceHandle
			ed.bundle.Edges[i] = flipped
			ed.afterTopologyChange()
			ed.publish(schema.EventEdgeFlipped, flipped.Source, flipped)
			return
		}
	}
}

// SetEdgeLabel commits a completed edge label edit.
func (ed *Editor) SetEdgeLabel(edge schema.EdgeConnection, label string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	for i, existing := range ed.bundle.Edges {
		if existing.Same(edge) {
			ed.bundle.Edges[i].Label = label
			ed.markMutation()
			ed.publish(schema.EventEdgeReconnected, edge.Source, ed.bundle.Edges[i])
			return
		}
	}
}

// --- Note mutations ---

// AddNote adds a free-floating annotation at the given position.
func (ed *Editor) AddNote(note schema.Note) error {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if note.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "note has empty ID")
	}
	if ed.bundle.HasID(note.ID) {
		return schema.NewErrorf(schema.ErrCodeConflict, "node ID already in use: %s", note.ID).WithNode(note.ID)
	}
	if note.AppearsWithStep < 1 {
		note.AppearsWithStep = 1
	}

	ed.bundle.Notes = append(ed.bundle.Notes, note)
	ed.bundle.Positions[note.ID] = note.Position
	ed.markMutation()
	ed.publish(schema.EventNoteAdded, note.ID, nil)
	return nil
}

// EditNote commits a completed note content/size/layer edit.
func (ed *Editor) EditNote(id string, apply func(*schema.Note)) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	note := ed.bundle.FindNote(id)
	if note == nil {
		return
	}
	apply(note)
	ed.bundle.Positions[id] = note.Position
	ed.markMutation()
	ed.publish(schema.EventNoteEdited, id, nil)
}

// DeleteNote removes a note and its position entry. Unknown IDs are a no-op.
func (ed *Editor) DeleteNote(id string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	for i := range ed.bundle.Notes {
		if ed.bundle.Notes[i].ID == id {
			ed.bundle.Notes = append(ed.bundle.Notes[:i], ed.bundle.Notes[i+1:]...)
			delete(ed.bundle.Positions, id)
			ed.markMutation()
			ed.publish(schema.EventNoteDeleted, id, nil)
			return
		}
	}
}

// --- Grouping ---

// Group converts the selected nodes into a collapsible container and returns
// its ID, or "" when fewer than two nodes resolve.
func (ed *Editor) Group(selectedIDs []string) string {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	containerID := ed.grouper.Group(ed.bundle, selectedIDs)
	if containerID == "" {
		return ""
	}
	ed.afterTopologyChange()
	ed.publish(schema.EventGroupCreated, containerID, selectedIDs)
	return containerID
}

// Ungroup dissolves a container, restoring absolute child positions.
func (ed *Editor) Ungroup(containerID string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if !ed.grouper.Ungroup(ed.bundle, containerID) {
		return
	}
	ed.afterTopologyChange()
	ed.publish(schema.EventGroupDissolved, containerID, nil)
}

// ToggleCollapse flips a container's collapsed state.
func (ed *Editor) ToggleCollapse(containerID string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if !ed.grouper.ToggleCollapse(containerID) {
		return
	}
	ed.markMutation()
	ed.publish(schema.EventGroupToggled, containerID, ed.grouper.IsCollapsed(containerID))
}

// Membership returns the child-to-container map for the open canvas.
func (ed *Editor) Membership() map[string]string {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.grouper.Membership()
}

// --- Merge ---

// MergeFragment splices a fragment into the live graph with fresh IDs and
// reveals every layer so the merged nodes are immediately visible.
func (ed *Editor) MergeFragment(frag *schema.Fragment, anchor *schema.Position) MergeResult {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	result := Instantiate(ed.bundle, frag, anchor)
	ed.afterTopologyChange()
	ed.stepper.ShowAll()
	ed.publish(schema.EventFragmentMerged, "", result.StepIDs)
	return result
}

// --- Layout ---

// ApplyLayout overwrites the position map with an auto-layout result and
// clears edge connection handles (the layout collaborator owns attachment
// sides after a layout pass).
func (ed *Editor) ApplyLayout(positions schema.Positions) {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	for id, pos := range positions {
		if !ed.bundle.HasID(id) {
			continue
		}
		ed.bundle.Positions[id] = pos
		if note := ed.bundle.FindNote(id); note != nil {
			note.Position = pos
		}
	}
	for i := range ed.bundle.Edges {
		ed.bundle.Edges[i].SourceHandle = ""
		ed.bundle.Edges[i].TargetHandle = ""
	}
	ed.markMutation()
	ed.publish(schema.EventLayoutApplied, "", nil)
}

// --- Stepper ---

// Advance reveals the next depth layer and returns the newly visible IDs.
func (ed *Editor) Advance() []string {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	revealed := ed.stepper.Advance()
	ed.publish(schema.EventDepthAdvanced, "", ed.stepper.CurrentDepth())
	return revealed
}

// Retreat hides the deepest revealed layer.
func (ed *Editor) Retreat() {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.stepper.Retreat()
	ed.publish(schema.EventDepthRetreat, "", ed.stepper.CurrentDepth())
}

// ShowAll reveals every layer.
func (ed *Editor) ShowAll() {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.stepper.ShowAll()
	ed.publish(schema.EventDepthShowAll, "", ed.stepper.CurrentDepth())
}

// ResetDepth returns to the first layer.
func (ed *Editor) ResetDepth() {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.stepper.Reset()
	ed.publish(schema.EventDepthReset, "", ed.stepper.CurrentDepth())
}

// CurrentDepth returns the number of revealed layers.
func (ed *Editor) CurrentDepth() int {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.stepper.CurrentDepth()
}

// DepthGroups returns a copy of the current partition.
func (ed *Editor) DepthGroups() []DepthGroup {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	out := make([]DepthGroup, len(ed.groups))
	for i, g := range ed.groups {
		out[i] = append(DepthGroup(nil), g...)
	}
	return out
}

// VisibleView is the rendering collaborator's input: the node IDs, edges, and
// notes currently visible after stepping and collapse filtering.
type VisibleView struct {
	NodeIDs []string                `json:"node_ids"`
	Edges   []schema.EdgeConnection `json:"edges"`
	Notes   []schema.Note           `json:"notes"`
	Depth   int                     `json:"depth"`
	Layers  int                     `json:"layers"`
}

// Visible derives the current visible sets: stepper visibility intersected
// with collapse hiding. An edge is visible iff both endpoints are. Steps
// absent from every depth group (disconnected components, merged fragments,
// group containers) are revealed together with the last layer.
func (ed *Editor) Visible() VisibleView {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	hidden := ed.grouper.HiddenNodes()
	stepVisible := ed.stepper.VisibleNodeIDs()

	allRevealed := ed.stepper.CurrentDepth() >= ed.stepper.GroupCount()
	partitioned := make(map[string]bool)
	for _, g := range ed.groups {
		for _, id := range g {
			partitioned[id] = true
		}
	}

	view := VisibleView{
		Depth:  ed.stepper.CurrentDepth(),
		Layers: ed.stepper.GroupCount(),
	}
	for _, s := range ed.bundle.Steps {
		if hidden[s.ID] {
			continue
		}
		if stepVisible[s.ID] || (allRevealed && !partitioned[s.ID]) {
			view.NodeIDs = append(view.NodeIDs, s.ID)
		}
	}
	visible := make(map[string]bool, len(view.NodeIDs))
	for _, id := range view.NodeIDs {
		visible[id] = true
	}
	for _, e := range ed.bundle.Edges {
		if visible[e.Source] && visible[e.Target] {
			view.Edges = append(view.Edges, e)
		}
	}
	for _, n := range ed.stepper.VisibleNotes(ed.bundle.Notes) {
		if !hidden[n.ID] {
			view.Notes = append(view.Notes, n)
		}
	}
	return view
}

// --- History ---

// Undo replaces the live bundle with the previous snapshot. Returns false at
// the history boundary.
func (ed *Editor) Undo() bool {
	return ed.replay(schema.EventHistoryUndo, func() *schema.GraphBundle { return ed.history.Undo() })
}

// Redo replaces the live bundle with the next snapshot. Returns false at the
// history boundary.
func (ed *Editor) Redo() bool {
	return ed.replay(schema.EventHistoryRedo, func() *schema.GraphBundle { return ed.history.Redo() })
}

func (ed *Editor) replay(event string, move func() *schema.GraphBundle) bool {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	snapshot := move()
	if snapshot == nil {
		return false
	}

	// Applying a snapshot back onto the model must not record new history
	// or fire the deferred snapshot.
	ed.history.BeginRestore()
	defer ed.history.EndRestore()

	ed.bundle = snapshot
	ed.grouper.Prune(ed.bundle)
	ed.groups = Partition(ed.bundle.Steps, ed.bundle.Edges)
	ed.stepper.SetGroups(ed.groups)
	ed.snapshotPending = false
	ed.dirty = true
	ed.publish(event, "", nil)
	return true
}

// Flush takes the deferred history snapshot owed by mutations since the last
// flush. The driving surface calls it at the end of each user event, so state
// slices updated independently within one action land in a single snapshot of
// the post-update state. Suppressed while a restore replay is in progress.
func (ed *Editor) Flush() {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	if !ed.snapshotPending || ed.history.Restoring() {
		return
	}
	ed.bundle.SyncNotePositions()
	ed.history.Push(ed.bundle)
	ed.snapshotPending = false
	ed.publish(schema.EventHistorySnapshot, "", nil)
}

// CanUndo reports whether an undo step exists.
func (ed *Editor) CanUndo() bool {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.history.CanUndo()
}

// CanRedo reports whether a redo step exists.
func (ed *Editor) CanRedo() bool {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return ed.history.CanRedo()
}

// --- internals ---

// afterTopologyChange recomputes the partition, re-clamps the stepper, and
// marks the mutation for snapshot. Called whenever steps or edges changed.
func (ed *Editor) afterTopologyChange() {
	ed.groups = Partition(ed.bundle.Steps, ed.bundle.Edges)
	ed.stepper.SetGroups(ed.groups)
	ed.markMutation()
}

// markMutation flags the document dirty and owes the next Flush a snapshot.
func (ed *Editor) markMutation() {
	ed.dirty = true
	ed.snapshotPending = true
}

func (ed *Editor) publish(eventType, nodeID string, payload any) {
	if ed.hub == nil {
		return
	}
	err := ed.hub.Publish(context.Background(), streaming.EditorEvent{
		GraphID:   ed.bundle.ID,
		NodeID:    nodeID,
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		ed.logger.Warn("event publish failed", slog.String("event", eventType), slog.String("error", err.Error()))
	}
}
