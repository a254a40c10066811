// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ratelimit

import (
	"context"
	"slices"
	"sync"
	"time"
)

type bucketKey struct {
	actionType string
	actionID   string
}

// MemoryStore is an in-process Store for tests and single-node tooling.
// Not durable.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[bucketKey]Bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[bucketKey]Bucket)}
}

func (m *MemoryStore) Consume(_ context.Context, actionType, actionID string, policy Policy, now time.Time) (Bucket, error) {
	if err := policy.Validate(); err != nil {
		return Bucket{}, err
	}
	key := bucketKey{actionType, actionID}
	nowMs := now.UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.buckets[key]
	if !ok {
		b := Bucket{
			ActionType: actionType,
			ActionID:   actionID,
			Remaining:  float64(policy.StartingActions) - 1,
			LastTake:   nowMs,
		}
		m.buckets[key] = b
		return b, nil
	}

	next := refill(prev, policy, nowMs)
	m.buckets[key] = next
	return next, nil
}

func (m *MemoryStore) Prune(_ context.Context, actionType string, expiry time.Time) (int64, error) {
	cutoff := expiry.UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, b := range m.buckets {
		if k.actionType == actionType && b.LastTake <= cutoff {
			delete(m.buckets, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteUnsupported(_ context.Context, supported []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k := range m.buckets {
		if !slices.Contains(supported, k.actionType) {
			delete(m.buckets, k)
			n++
		}
	}
	return n, nil
}
