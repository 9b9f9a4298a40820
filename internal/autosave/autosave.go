// Package autosave periodically persists open canvases that have unsaved
// edits, on a cron schedule.
package autosave

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GGPrompts/flowcanvas/internal/store"
	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// Snapshot is one dirty canvas handed over for persistence.
type Snapshot struct {
	GraphID string
	Name    string
	Bundle  *schema.GraphBundle
}

// Source yields the canvases with unsaved edits. Satisfied by the session
// registry.
type Source interface {
	DirtySnapshots() []Snapshot
	MarkSaved(graphID string)
}

// Saver persists a canvas. Satisfied by store.Store.
type Saver interface {
	SaveGraph(ctx context.Context, rec *store.GraphRecord) error
}

// Autosaver flushes dirty canvases to the store on a cron schedule.
type Autosaver struct {
	source Source
	saver  Saver
	parser cron.Parser
	spec   string
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // graph IDs currently being saved (dedup)
}

// New creates an Autosaver. spec is a standard five-field cron expression.
func New(source Source, saver Saver, spec string, logger *slog.Logger) *Autosaver {
	return &Autosaver{
		source:   source,
		saver:    saver,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		spec:     spec,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background flush loop.
func (a *Autosaver) Start(ctx context.Context) error {
	schedule, err := a.parser.Parse(a.spec)
	if err != nil {
		return fmt.Errorf("parse autosave schedule %q: %w", a.spec, err)
	}

	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return fmt.Errorf("autosaver already started")
	}
	saveCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.loop(saveCtx, schedule)
	a.logger.Info("autosave started", slog.String("schedule", a.spec))
	return nil
}

func (a *Autosaver) loop(ctx context.Context, schedule cron.Schedule) {
	defer close(a.done)

	next := schedule.Next(time.Now().UTC())
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// One final flush so a clean shutdown loses nothing.
			a.Flush(context.Background())
			return
		case now := <-ticker.C:
			if now.UTC().Before(next) {
				continue
			}
			a.Flush(ctx)
			next = schedule.Next(now.UTC())
		}
	}
}

// Flush persists every dirty canvas once. Safe to call concurrently with the
// background loop; a canvas already mid-save is skipped.
func (a *Autosaver) Flush(ctx context.Context) {
	for _, snap := range a.source.DirtySnapshots() {
		if !a.tryAcquire(snap.GraphID) {
			continue
		}
		if err := a.save(ctx, snap); err != nil {
			a.logger.Error("autosave failed",
				slog.String("graph_id", snap.GraphID),
				slog.String("error", err.Error()),
			)
		} else {
			a.source.MarkSaved(snap.GraphID)
		}
		a.release(snap.GraphID)
	}
}

func (a *Autosaver) save(ctx context.Context, snap Snapshot) error {
	a.logger.Info("autosaving canvas",
		slog.String("graph_id", snap.GraphID),
		slog.String("name", snap.Name),
	)
	return a.saver.SaveGraph(ctx, &store.GraphRecord{
		ID:     snap.GraphID,
		Name:   snap.Name,
		Bundle: snap.Bundle,
	})
}

// tryAcquire returns true and marks the graph in-flight if it is not already
// being saved.
func (a *Autosaver) tryAcquire(graphID string) bool {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	if _, ok := a.inflight[graphID]; ok {
		return false
	}
	a.inflight[graphID] = struct{}{}
	return true
}

func (a *Autosaver) release(graphID string) {
	a.inflightMu.Lock()
	defer a.inflightMu.Unlock()
	delete(a.inflight, graphID)
}

// Stop shuts the loop down after a final flush.
func (a *Autosaver) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel == nil {
		return nil
	}

	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil

	a.logger.Info("autosave stopped")
	return nil
}
