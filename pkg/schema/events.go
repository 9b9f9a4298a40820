package schema

// Event type constants for the editor event stream.
const (
	EventGraphOpened = "graph_opened"
	EventGraphSaved  = "graph_saved"
	EventGraphNamed  = "graph_named"

	EventStepAdded   = "step_added"
	EventStepEdited  = "step_edited"
	EventStepMoved   = "step_moved"
	EventStepDeleted = "step_deleted"

	EventEdgeConnected    = "edge_connected"
	EventEdgeReconnected  = "edge_reconnected"
	EventEdgeFlipped      = "edge_flipped"
	EventEdgeDisconnected = "edge_disconnected"

	EventNoteAdded   = "note_added"
	EventNoteEdited  = "note_edited"
	EventNoteDeleted = "note_deleted"

	EventGroupCreated   = "group_created"
	EventGroupToggled   = "group_toggled"
	EventGroupDissolved = "group_dissolved"

	EventDepthAdvanced = "depth_advanced"
	EventDepthRetreat  = "depth_retreat"
	EventDepthShowAll  = "depth_show_all"
	EventDepthReset    = "depth_reset"

	EventHistoryUndo     = "history_undo"
	EventHistoryRedo     = "history_redo"
	EventHistorySnapshot = "history_snapshot"

	EventFragmentMerged = "fragment_merged"
	EventLayoutApplied  = "layout_applied"
)
