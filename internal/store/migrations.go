package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed migrations/001_initial_schema.sql
var initialSchemaSQL string

type migration struct {
	version int
	name    string
	script  string
}

// Ordered by version; Migrate applies everything past the recorded version.
var allMigrations = []migration{
	{version: 1, name: "initial_schema", script: initialSchemaSQL},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	const versionTable = `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&applied); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range allMigrations {
		if m.version <= applied {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs one migration script inside a transaction and records
// its version on success.
func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqlStatements(m.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}

// sqlStatements splits a script on semicolons, dropping comment-only chunks.
func sqlStatements(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" || commentOnly(chunk) {
			continue
		}
		out = append(out, chunk)
	}
	return out
}

func commentOnly(chunk string) bool {
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
