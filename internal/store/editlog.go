package store

import (
	"context"
	"fmt"
	"time"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// EditLog provides edit-journal operations on top of a LibSQLStore.
type EditLog struct {
	store *LibSQLStore
}

// NewEditLog wraps a LibSQLStore to provide edit-journal operations.
func NewEditLog(s *LibSQLStore) *EditLog {
	return &EditLog{store: s}
}

// Append appends an edit event with a monotonically increasing per-graph
// sequence. Uses a write-intent statement so the sequence read and the insert
// cannot interleave with a concurrent appender.
func (el *EditLog) Append(ctx context.Context, event *EditEvent) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode, BeginTx alone may start a deferred transaction. Execute a
	// write-intent statement to force write-lock acquisition up front.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM edit_events WHERE graph_id = ?`, event.GraphID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO edit_events (graph_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.GraphID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload),
		event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert edit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit edit event: %w", err)
	}
	return nil
}

// Events returns edit events for a graph with sequence > since, ordered by
// sequence ASC.
func (el *EditLog) Events(ctx context.Context, graphID string, since int64) ([]*EditEvent, error) {
	return el.store.GetEditEvents(ctx, graphID, since)
}

// EventsByType returns edit events of a specific type matching the filter.
func (el *EditLog) EventsByType(ctx context.Context, eventType string, filter EditEventFilter) ([]*EditEvent, error) {
	return el.store.GetEditEventsByType(ctx, eventType, filter)
}

// Activity replays a graph's edit journal and returns the per-node activity
// view (edit counts, last edit kind, whether the node was later deleted).
// Returns an error if sequence gaps are detected.
func (el *EditLog) Activity(ctx context.Context, graphID string) (map[string]*NodeActivity, error) {
	events, err := el.store.GetEditEvents(ctx, graphID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	if len(events) == 0 {
		return make(map[string]*NodeActivity), nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in graph %s: expected %d, got %d", graphID, expected, e.Sequence)
		}
	}

	activity := make(map[string]*NodeActivity)

	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		a, ok := activity[e.NodeID]
		if !ok {
			a = &NodeActivity{GraphID: graphID, NodeID: e.NodeID}
			activity[e.NodeID] = a
		}

		a.Edits++
		a.LastType = e.Type
		a.LastTouched = e.Timestamp

		switch e.Type {
		case schema.EventStepDeleted, schema.EventNoteDeleted:
			a.Deleted = true
		default:
			// A deleted node that shows up again was restored by an undo.
			a.Deleted = false
		}
	}

	return activity, nil
}
