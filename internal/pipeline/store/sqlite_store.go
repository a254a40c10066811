// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/rs/zerolog"
)

var migrations = []sqlite.Migration{
	{Version: 1, SQL: `
	CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		pipeline_type TEXT NOT NULL,
		config TEXT NOT NULL,
		time_created INTEGER NOT NULL,
		time_updated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pipeline_editors (
		pipeline_id TEXT NOT NULL REFERENCES pipelines(id),
		editor_id TEXT NOT NULL,
		PRIMARY KEY (pipeline_id, editor_id)
	);
	CREATE INDEX IF NOT EXISTS idx_pipeline_editors_editor ON pipeline_editors(editor_id);

	CREATE TABLE IF NOT EXISTS pipeline_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id TEXT NOT NULL,
		editor_user_id TEXT,
		snapshot TEXT NOT NULL,
		time_created INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pipeline_history_pipeline ON pipeline_history(pipeline_id, seq);
	`},
}

const selectDefinitions = `
SELECT p.id, p.owner_user_id, p.pipeline_type, p.config, p.time_created, p.time_updated,
	json_group_array(e.editor_id) FILTER (WHERE e.editor_id IS NOT NULL)
FROM pipelines p
LEFT JOIN pipeline_editors e ON e.pipeline_id = p.id
`

const upsertPipeline = `
INSERT INTO pipelines (id, owner_user_id, pipeline_type, config, time_created, time_updated)
VALUES (?1, ?2, ?3, ?4, ?5, ?5)
ON CONFLICT (id) DO UPDATE SET
	owner_user_id = excluded.owner_user_id,
	pipeline_type = excluded.pipeline_type,
	config = excluded.config,
	time_updated = excluded.time_updated
RETURNING id, owner_user_id, pipeline_type, config, time_created, time_updated
`

// SqliteStore is the durable Store.
type SqliteStore struct {
	db     *sql.DB
	clock  clock.Clock
	logger zerolog.Logger
}

// Option configures a SqliteStore.
type Option func(*SqliteStore)

// WithClock overrides the time source for row and history timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *SqliteStore) { s.clock = c }
}

// NewSqliteStore migrates the pipeline tables on db.
func NewSqliteStore(ctx context.Context, db *sql.DB, opts ...Option) (*SqliteStore, error) {
	if err := sqlite.Migrate(ctx, db, "pipelines", migrations); err != nil {
		return nil, err
	}
	s := &SqliteStore{
		db:     db,
		clock:  clock.Real(),
		logger: log.WithComponent("pipeline.store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner, withEditors bool) (*model.Definition, error) {
	var (
		def              model.Definition
		typ, cfg         string
		created, updated int64
		editors          sql.NullString
	)
	dest := []any{&def.ID, &def.OwnerUserID, &typ, &cfg, &created, &updated}
	if withEditors {
		dest = append(dest, &editors)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	def.Type = model.PipelineType(typ)
	def.Options = json.RawMessage(cfg)
	def.TimeCreated = time.UnixMilli(created).UTC()
	def.TimeUpdated = time.UnixMilli(updated).UTC()
	def.EditorUserIDs = []string{}
	if editors.Valid && editors.String != "" {
		if err := json.Unmarshal([]byte(editors.String), &def.EditorUserIDs); err != nil {
			return nil, fmt.Errorf("decode editors of %s: %w", def.ID, err)
		}
		slices.Sort(def.EditorUserIDs)
	}
	return &def, nil
}

func (s *SqliteStore) LoadDefinitions(ctx context.Context) ([]model.Definition, error) {
	rows, err := s.db.QueryContext(ctx, selectDefinitions+` GROUP BY p.id ORDER BY p.time_created, p.id`)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.Definition
	for rows.Next() {
		def, err := scanDefinition(rows, true)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load definitions: %w", err)
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: load definitions: %w", err)
	}
	return defs, nil
}

func (s *SqliteStore) GetDefinition(ctx context.Context, id string) (*model.Definition, error) {
	row := s.db.QueryRowContext(ctx, selectDefinitions+` WHERE p.id = ? GROUP BY p.id`, id)
	def, err := scanDefinition(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: get definition %s: %w", id, err)
	}
	return def, nil
}

func (s *SqliteStore) UpsertDefinition(ctx context.Context, def model.Definition, editorUserID string) (*model.Definition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: upsert %s: begin: %w", def.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	stored, err := s.upsertTx(ctx, tx, def, editorUserID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: upsert %s: %w", def.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pipeline: upsert %s: commit: %w", def.ID, err)
	}

	s.logger.Debug().
		Str(log.FieldEvent, "pipeline.upserted").
		Str(log.FieldPipelineID, def.ID).
		Str(log.FieldEditorID, editorUserID).
		Msg("pipeline definition written")
	return stored, nil
}

// UpdateDefinition takes the write lock before reading so no other write
// can land between the read and the write.
func (s *SqliteStore) UpdateDefinition(ctx context.Context, id, editorUserID string, update func(*model.Definition) error) (*model.Definition, error) {
	var stored *model.Definition
	err := s.inTx(ctx, "update "+id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE pipelines SET time_updated = time_updated WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}

		current, err := scanDefinition(tx.QueryRowContext(ctx, selectDefinitions+` WHERE p.id = ? GROUP BY p.id`, id), true)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := update(current); err != nil {
			return err
		}
		if current.ID != id {
			return fmt.Errorf("%w: id changed from %s to %s", model.ErrInvalidDefinition, id, current.ID)
		}
		if err := current.Validate(); err != nil {
			return err
		}
		stored, err = s.upsertTx(ctx, tx, *current, editorUserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str(log.FieldEvent, "pipeline.updated").
		Str(log.FieldPipelineID, id).
		Str(log.FieldEditorID, editorUserID).
		Msg("pipeline definition updated in place")
	return stored, nil
}

func (s *SqliteStore) UpsertDefinitions(ctx context.Context, defs []model.Definition) error {
	for _, def := range defs {
		if _, err := s.UpsertDefinition(ctx, def, ""); err != nil {
			return err
		}
	}
	return nil
}

// upsertTx appends history before any mutation, writes the row, then
// converges the editor set by diff so the pipeline never has its editors
// transiently removed.
func (s *SqliteStore) upsertTx(ctx context.Context, tx *sql.Tx, def model.Definition, editorUserID string) (*model.Definition, error) {
	now := s.clock.Now().UTC()

	if err := s.appendHistory(ctx, tx, def, editorUserID, now); err != nil {
		return nil, err
	}

	var cfg bytes.Buffer
	if err := json.Compact(&cfg, def.Options); err != nil {
		return nil, fmt.Errorf("compact options: %w", err)
	}
	row := tx.QueryRowContext(ctx, upsertPipeline, def.ID, def.OwnerUserID, string(def.Type), cfg.String(), now.UnixMilli())
	stored, err := scanDefinition(row, false)
	if err != nil {
		return nil, fmt.Errorf("write row: %w", err)
	}

	current, err := loadEditors(ctx, tx, def.ID)
	if err != nil {
		return nil, err
	}
	desired := def.Editors()

	for _, id := range current {
		if _, found := slices.BinarySearch(desired, id); found {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_editors WHERE pipeline_id = ? AND editor_id = ?`, def.ID, id); err != nil {
			return nil, fmt.Errorf("remove editor %s: %w", id, err)
		}
	}
	for _, id := range desired {
		if _, found := slices.BinarySearch(current, id); found {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO pipeline_editors (pipeline_id, editor_id) VALUES (?, ?)`, def.ID, id); err != nil {
			return nil, fmt.Errorf("add editor %s: %w", id, err)
		}
	}

	stored.EditorUserIDs = desired
	return stored, nil
}

func loadEditors(ctx context.Context, tx *sql.Tx, pipelineID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT editor_id FROM pipeline_editors WHERE pipeline_id = ? ORDER BY editor_id`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("load editors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("load editors: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SqliteStore) appendHistory(ctx context.Context, tx *sql.Tx, def model.Definition, editorUserID string, now time.Time) error {
	snapshot, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode history snapshot: %w", err)
	}
	var editor sql.NullString
	if editorUserID != "" {
		editor = sql.NullString{String: editorUserID, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipeline_history (pipeline_id, editor_user_id, snapshot, time_created) VALUES (?, ?, ?, ?)`,
		def.ID, editor, string(snapshot), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// DeleteDefinition removes editors before the pipeline row, and purges the
// pipeline's history with it.
func (s *SqliteStore) DeleteDefinition(ctx context.Context, id string) error {
	return s.inTx(ctx, "delete "+id, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM pipeline_editors WHERE pipeline_id = ?`,
			`DELETE FROM pipelines WHERE id = ?`,
			`DELETE FROM pipeline_history WHERE pipeline_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SqliteStore) DeleteAllDefinitions(ctx context.Context) error {
	return s.inTx(ctx, "delete all", func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM pipeline_editors`,
			`DELETE FROM pipelines`,
			`DELETE FROM pipeline_history`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SqliteStore) EditHistory(ctx context.Context, pipelineID string, limit int) ([]model.HistoryEntry, error) {
	entries := []model.HistoryEntry{}
	if limit <= 0 {
		return entries, nil
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT snapshot, editor_user_id, time_created FROM (
		SELECT seq, snapshot, editor_user_id, time_created
		FROM pipeline_history
		WHERE pipeline_id = ?
		ORDER BY seq DESC
		LIMIT ?
	) ORDER BY seq ASC`, pipelineID, limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: history %s: %w", pipelineID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			snapshot string
			editor   sql.NullString
			created  int64
			entry    model.HistoryEntry
		)
		if err := rows.Scan(&snapshot, &editor, &created); err != nil {
			return nil, fmt.Errorf("pipeline: history %s: %w", pipelineID, err)
		}
		if err := json.Unmarshal([]byte(snapshot), &entry.Pipeline); err != nil {
			return nil, fmt.Errorf("pipeline: history %s: decode snapshot: %w", pipelineID, err)
		}
		entry.EditorUserID = editor.String
		entry.TimeCreated = time.UnixMilli(created).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: history %s: %w", pipelineID, err)
	}
	return entries, nil
}

func (s *SqliteStore) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pipeline: %s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return fmt.Errorf("pipeline: %s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pipeline: %s: commit: %w", op, err)
	}
	return nil
}
