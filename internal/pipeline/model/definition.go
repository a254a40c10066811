// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model defines pipeline definitions, their typed options and the
// records they produce.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrInvalidDefinition = errors.New("pipeline: invalid definition")
	ErrUnknownType       = errors.New("pipeline: unknown pipeline type")
)

// Definition is the durable configuration of one pipeline. ID never changes
// after creation. EditorUserIDs is a set; order is not significant.
type Definition struct {
	ID            string          `json:"id"`
	OwnerUserID   string          `json:"ownerUserId"`
	EditorUserIDs []string        `json:"editorUserIds"`
	Type          PipelineType    `json:"type"`
	Options       json.RawMessage `json:"options"`
	TimeCreated   time.Time       `json:"timeCreated"`
	TimeUpdated   time.Time       `json:"timeUpdated"`
}

// Validate checks identity fields and that Options decode for Type.
func (d *Definition) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if d.OwnerUserID == "" {
		errs = append(errs, errors.New("ownerUserId is required"))
	}
	if _, err := d.ParseOptions(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return nil
}

// ParseOptions decodes Options into the variant selected by Type.
func (d *Definition) ParseOptions() (Options, error) {
	return ParseOptions(d.Type, d.Options)
}

// SetOptions re-encodes opts into the definition. The variant must match Type.
func (d *Definition) SetOptions(opts Options) error {
	if opts.PipelineType() != d.Type {
		return fmt.Errorf("%w: options for %s on %s pipeline", ErrInvalidDefinition, opts.PipelineType(), d.Type)
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("pipeline: encode options: %w", err)
	}
	d.Options = raw
	return nil
}

// Editors returns EditorUserIDs deduplicated and sorted.
func (d *Definition) Editors() []string {
	return NormalizeEditors(d.EditorUserIDs)
}

// NormalizeEditors dedupes and sorts ids. A nil input yields an empty set.
func NormalizeEditors(ids []string) []string {
	out := make([]string, 0, len(ids))
	out = append(out, ids...)
	slices.Sort(out)
	return slices.Compact(out)
}

// HistoryEntry is one append-only snapshot of an incoming definition.
// EditorUserID is empty for system writes.
type HistoryEntry struct {
	Pipeline     Definition `json:"pipeline"`
	EditorUserID string     `json:"editorUserId,omitempty"`
	TimeCreated  time.Time  `json:"timeCreated"`
}

// LoadSummary describes the most recent run of a pipeline. It is not
// persisted across restarts.
type LoadSummary struct {
	LastRunStartTimestamp time.Time `json:"lastRunStartTimestamp"`
	LastRunEndTimestamp   time.Time `json:"lastRunEndTimestamp"`
	AtomsLoaded           int       `json:"atomsLoaded"`
	AutoIssued            int       `json:"autoIssued"`
	Success               bool      `json:"success"`
	Errors                []string  `json:"errors,omitempty"`
}
