// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sync"

	"github.com/omahs/zupass/internal/pipeline/model"
)

// MemorySummaryStore is a process-local SummaryStore.
type MemorySummaryStore struct {
	mu        sync.RWMutex
	summaries map[string]model.LoadSummary
}

func NewMemorySummaryStore() *MemorySummaryStore {
	return &MemorySummaryStore{summaries: make(map[string]model.LoadSummary)}
}

// SaveLoadSummary overwrites the summary for pipelineID. A nil summary
// clears it.
func (m *MemorySummaryStore) SaveLoadSummary(_ context.Context, pipelineID string, summary *model.LoadSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if summary == nil {
		delete(m.summaries, pipelineID)
		return nil
	}
	s := *summary
	s.Errors = append([]string(nil), summary.Errors...)
	m.summaries[pipelineID] = s
	return nil
}

func (m *MemorySummaryStore) LastLoadSummary(_ context.Context, pipelineID string) (*model.LoadSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[pipelineID]
	if !ok {
		return nil, nil
	}
	s.Errors = append([]string(nil), s.Errors...)
	return &s, nil
}
