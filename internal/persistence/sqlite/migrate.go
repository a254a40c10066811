// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one forward-only schema step. Version numbers are local to the
// module that owns them and tracked in the schema_versions table.
type Migration struct {
	Version int
	SQL     string
}

// Migrate applies every migration of module whose version is newer than the
// recorded one, all inside a single transaction. Several stores share one
// database file, so versions are tracked per module instead of through
// PRAGMA user_version.
func Migrate(ctx context.Context, db *sql.DB, module string, migrations []Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: migrate %s: begin: %w", module, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_versions (
		module TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("sqlite: migrate %s: bootstrap: %w", module, err)
	}

	var current int
	err = tx.QueryRowContext(ctx, "SELECT version FROM schema_versions WHERE module = ?", module).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("sqlite: migrate %s: read version: %w", module, err)
	}

	latest := current
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("sqlite: migrate %s to v%d: %w", module, m.Version, err)
		}
		if m.Version > latest {
			latest = m.Version
		}
	}

	if latest == current {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO schema_versions (module, version) VALUES (?, ?)
	ON CONFLICT(module) DO UPDATE SET version = excluded.version`, module, latest); err != nil {
		return fmt.Errorf("sqlite: migrate %s: record version: %w", module, err)
	}

	return tx.Commit()
}
