// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists pipeline definitions, their edit history and
// their last load summaries.
package store

import (
	"context"
	"errors"

	"github.com/omahs/zupass/internal/pipeline/model"
)

var ErrNotFound = errors.New("pipeline: not found")

// DefinitionStore is the system of record for pipeline definitions.
//
// UpsertDefinition appends a history entry for the incoming definition,
// writes the pipeline row and converges its editor set, all in one
// transaction. Readers observe either the state before or after it.
type DefinitionStore interface {
	LoadDefinitions(ctx context.Context) ([]model.Definition, error)
	// GetDefinition returns ErrNotFound for unknown ids.
	GetDefinition(ctx context.Context, id string) (*model.Definition, error)
	// UpsertDefinition returns the stored row. editorUserID may be empty.
	UpsertDefinition(ctx context.Context, def model.Definition, editorUserID string) (*model.Definition, error)
	// UpdateDefinition applies update to the current stored definition and
	// writes the result as UpsertDefinition would, all in one transaction
	// that excludes other writers. It returns ErrNotFound for unknown ids.
	UpdateDefinition(ctx context.Context, id, editorUserID string, update func(*model.Definition) error) (*model.Definition, error)
	// UpsertDefinitions upserts each definition without an editor.
	UpsertDefinitions(ctx context.Context, defs []model.Definition) error
	DeleteDefinition(ctx context.Context, id string) error
	DeleteAllDefinitions(ctx context.Context) error
}

// HistoryStore exposes the append-only edit history.
type HistoryStore interface {
	// EditHistory returns up to limit of the most recent entries, oldest
	// first. A limit <= 0 returns no entries, not the full history.
	EditHistory(ctx context.Context, pipelineID string, limit int) ([]model.HistoryEntry, error)
}

// SummaryStore keeps the last load summary per pipeline. Implementations
// need not survive a restart.
type SummaryStore interface {
	SaveLoadSummary(ctx context.Context, pipelineID string, summary *model.LoadSummary) error
	// LastLoadSummary returns nil when no run has been recorded.
	LastLoadSummary(ctx context.Context, pipelineID string) (*model.LoadSummary, error)
}

// Store combines the durable definition and history stores.
type Store interface {
	DefinitionStore
	HistoryStore
}
