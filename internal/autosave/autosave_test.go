package autosave

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GGPrompts/flowcanvas/internal/store"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// mockSource satisfies Source for autosave tests.
type mockSource struct {
	mu    sync.Mutex
	dirty map[string]Snapshot
	saved []string
}

func newMockSource() *mockSource {
	return &mockSource{dirty: make(map[string]Snapshot)}
}

func (m *mockSource) markDirty(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty[snap.GraphID] = snap
}

func (m *mockSource) DirtySnapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.dirty))
	for _, s := range m.dirty {
		out = append(out, s)
	}
	return out
}

func (m *mockSource) MarkSaved(graphID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dirty, graphID)
	m.saved = append(m.saved, graphID)
}

// mockSaver satisfies Saver and records saved graphs.
type mockSaver struct {
	mu      sync.Mutex
	records []*store.GraphRecord
	fail    bool
}

func (m *mockSaver) SaveGraph(_ context.Context, rec *store.GraphRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockSaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snapshotFor(id string) Snapshot {
	return Snapshot{
		GraphID: id,
		Name:    "canvas " + id,
		Bundle: &schema.GraphBundle{
			ID:    id,
			Steps: []schema.Step{{ID: "entry", Label: "Start", Type: schema.StepTypeEntry}},
			Positions: schema.Positions{
				"entry": {X: 0, Y: 0},
			},
		},
	}
}

func TestFlush_SavesDirtyAndMarksClean(t *testing.T) {
	source := newMockSource()
	saver := &mockSaver{}
	a := New(source, saver, "* * * * *", testLogger())

	source.markDirty(snapshotFor("g1"))
	source.markDirty(snapshotFor("g2"))

	a.Flush(context.Background())

	assert.Equal(t, 2, saver.count())
	assert.Empty(t, source.DirtySnapshots())
	assert.ElementsMatch(t, []string{"g1", "g2"}, source.saved)
}

func TestFlush_FailureKeepsDirty(t *testing.T) {
	source := newMockSource()
	saver := &mockSaver{fail: true}
	a := New(source, saver, "* * * * *", testLogger())

	source.markDirty(snapshotFor("g1"))
	a.Flush(context.Background())

	// Save failed, so the canvas stays dirty for the next pass.
	assert.Len(t, source.DirtySnapshots(), 1)
	assert.Empty(t, source.saved)
}

func TestFlush_NothingDirty(t *testing.T) {
	source := newMockSource()
	saver := &mockSaver{}
	a := New(source, saver, "* * * * *", testLogger())

	a.Flush(context.Background())
	assert.Zero(t, saver.count())
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	a := New(newMockSource(), &mockSaver{}, "not a cron line", testLogger())
	err := a.Start(context.Background())
	require.Error(t, err)
}

func TestStart_RejectsDoubleStart(t *testing.T) {
	a := New(newMockSource(), &mockSaver{}, "* * * * *", testLogger())

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	err := a.Start(context.Background())
	require.Error(t, err)
}

func TestStop_FlushesBeforeExit(t *testing.T) {
	source := newMockSource()
	saver := &mockSaver{}
	a := New(source, saver, "* * * * *", testLogger())

	require.NoError(t, a.Start(context.Background()))
	source.markDirty(snapshotFor("g1"))

	require.NoError(t, a.Stop())
	assert.Equal(t, 1, saver.count())

	// Stop is idempotent.
	require.NoError(t, a.Stop())
}
