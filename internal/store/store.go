package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Graphs
	SaveGraph(ctx context.Context, rec *GraphRecord) error
	GetGraph(ctx context.Context, id string) (*GraphRecord, error)
	RenameGraph(ctx context.Context, id string, name string) error
	ListGraphs(ctx context.Context, filter GraphFilter) ([]*GraphSummary, error)
	DeleteGraph(ctx context.Context, id string) error

	// Templates (reusable fragments merged into live graphs)
	StoreTemplate(ctx context.Context, tpl *Template) error
	GetTemplate(ctx context.Context, name string, version string) (*Template, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*Template, error)
	DeleteTemplate(ctx context.Context, name string, version string) error

	// Edit journal (append-only)
	AppendEditEvent(ctx context.Context, event *EditEvent) error
	GetEditEvents(ctx context.Context, graphID string, since int64) ([]*EditEvent, error)
	GetEditEventsByType(ctx context.Context, eventType string, filter EditEventFilter) ([]*EditEvent, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
