package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/GGPrompts/flowcanvas/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. edit journal).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Graphs ---

func (s *LibSQLStore) SaveGraph(ctx context.Context, rec *GraphRecord) error {
	if rec == nil || rec.Bundle == nil {
		return schema.NewError(schema.ErrCodeStore, "graph record has no bundle")
	}
	bundle, err := json.Marshal(rec.Bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graphs (id, name, bundle, step_count, edge_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, bundle=excluded.bundle,
		   step_count=excluded.step_count, edge_count=excluded.edge_count,
		   updated_at=CURRENT_TIMESTAMP`,
		rec.ID, rec.Name, string(bundle),
		len(rec.Bundle.Steps), len(rec.Bundle.Edges), timeOrNow(rec.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetGraph(ctx context.Context, id string) (*GraphRecord, error) {
	rec := &GraphRecord{}
	var bundleJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, bundle, created_at, updated_at FROM graphs WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &bundleJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("graph", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bundleJSON), &rec.Bundle); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	rec.Bundle.SyncNotePositions()
	return rec, nil
}

func (s *LibSQLStore) RenameGraph(ctx context.Context, id string, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE graphs SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, name, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "graph", id)
}

func (s *LibSQLStore) ListGraphs(ctx context.Context, filter GraphFilter) ([]*GraphSummary, error) {
	var where []string
	var args []any

	if filter.NameLike != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+filter.NameLike+"%")
	}

	query := `SELECT id, name, step_count, edge_count, created_at, updated_at FROM graphs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*GraphSummary
	for rows.Next() {
		g := &GraphSummary{}
		if err := rows.Scan(&g.ID, &g.Name, &g.StepCount, &g.EdgeCount, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, g)
	}
	return summaries, rows.Err()
}

func (s *LibSQLStore) DeleteGraph(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "graph", id)
}

// --- Templates ---

func (s *LibSQLStore) StoreTemplate(ctx context.Context, tpl *Template) error {
	if tpl == nil || tpl.Fragment == nil {
		return schema.NewError(schema.ErrCodeStore, "template has no fragment")
	}
	frag, err := json.Marshal(tpl.Fragment)
	if err != nil {
		return fmt.Errorf("marshal template fragment: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graph_templates (name, version, description, fragment, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name, version) DO UPDATE SET
		   description=excluded.description, fragment=excluded.fragment,
		   updated_at=CURRENT_TIMESTAMP`,
		tpl.Name, tpl.Version, nullStr(tpl.Description), string(frag), timeOrNow(tpl.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetTemplate(ctx context.Context, name string, version string) (*Template, error) {
	t := &Template{}
	var desc sql.NullString
	var fragJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, version, description, fragment, created_at, updated_at
		 FROM graph_templates WHERE name = ? AND version = ?`, name, version,
	).Scan(&t.Name, &t.Version, &desc, &fragJSON, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("template", name+":"+version)
	}
	if err != nil {
		return nil, err
	}
	t.Description = desc.String
	if err := json.Unmarshal([]byte(fragJSON), &t.Fragment); err != nil {
		return nil, fmt.Errorf("unmarshal template fragment: %w", err)
	}
	return t, nil
}

func (s *LibSQLStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*Template, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := `SELECT name, version, description, fragment, created_at, updated_at FROM graph_templates`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, version DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t := &Template{}
		var desc sql.NullString
		var fragJSON string
		if err := rows.Scan(&t.Name, &t.Version, &desc, &fragJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Description = desc.String
		if err := json.Unmarshal([]byte(fragJSON), &t.Fragment); err != nil {
			return nil, fmt.Errorf("unmarshal template fragment: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (s *LibSQLStore) DeleteTemplate(ctx context.Context, name string, version string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM graph_templates WHERE name = ? AND version = ?`, name, version,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "template", name+":"+version)
}

// --- Edit journal ---

func (s *LibSQLStore) AppendEditEvent(ctx context.Context, event *EditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Next sequence number for this graph.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM edit_events WHERE graph_id = ?`, event.GraphID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO edit_events (graph_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.GraphID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload),
		timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert edit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit edit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEditEvents(ctx context.Context, graphID string, since int64) ([]*EditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_id, node_id, event_type, payload, timestamp, sequence
		 FROM edit_events WHERE graph_id = ? AND sequence > ? ORDER BY sequence ASC`,
		graphID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEditEvents(rows)
}

func (s *LibSQLStore) GetEditEventsByType(ctx context.Context, eventType string, filter EditEventFilter) ([]*EditEvent, error) {
	var where []string
	var args []any

	where = append(where, "event_type = ?")
	args = append(args, eventType)

	if filter.GraphID != "" {
		where = append(where, "graph_id = ?")
		args = append(args, filter.GraphID)
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, graph_id, node_id, event_type, payload, timestamp, sequence FROM edit_events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEditEvents(rows)
}

func scanEditEvents(rows *sql.Rows) ([]*EditEvent, error) {
	var events []*EditEvent
	for rows.Next() {
		e := &EditEvent{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.GraphID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.CanvasError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

var _ Store = (*LibSQLStore)(nil)
