// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package atoms caches the externally sourced records of each pipeline.
// Every pipeline owns an isolated partition keyed by atom id.
package atoms

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/omahs/zupass/internal/pipeline/model"
)

// Cache stores atoms per pipeline. Save upserts by atom id; Load returns an
// empty slice for pipelines never populated. Callers run at most one
// ingestion pass per pipeline at a time.
type Cache interface {
	Save(ctx context.Context, pipelineID string, atoms []model.Atom) error
	Load(ctx context.Context, pipelineID string) ([]model.Atom, error)
	// Replace swaps the whole partition for atoms.
	Replace(ctx context.Context, pipelineID string, atoms []model.Atom) error
	// Clear drops the partition.
	Clear(ctx context.Context, pipelineID string) error
}

func sortAtoms(atoms []model.Atom) {
	slices.SortFunc(atoms, func(a, b model.Atom) int { return cmp.Compare(a.ID, b.ID) })
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]map[string]model.Atom
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]map[string]model.Atom)}
}

func (m *MemoryCache) Save(_ context.Context, pipelineID string, atoms []model.Atom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(pipelineID, atoms)
	return nil
}

func (m *MemoryCache) saveLocked(pipelineID string, atoms []model.Atom) {
	part, ok := m.data[pipelineID]
	if !ok {
		part = make(map[string]model.Atom, len(atoms))
		m.data[pipelineID] = part
	}
	for _, a := range atoms {
		a.PipelineID = pipelineID
		part[a.ID] = a
	}
}

func (m *MemoryCache) Load(_ context.Context, pipelineID string) ([]model.Atom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Atom, 0, len(m.data[pipelineID]))
	for _, a := range m.data[pipelineID] {
		out = append(out, a)
	}
	sortAtoms(out)
	return out, nil
}

func (m *MemoryCache) Replace(_ context.Context, pipelineID string, atoms []model.Atom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, pipelineID)
	m.saveLocked(pipelineID, atoms)
	return nil
}

func (m *MemoryCache) Clear(_ context.Context, pipelineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, pipelineID)
	return nil
}
