// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ratelimit

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSqliteStore(t *testing.T) *SqliteStore {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ratelimit.sqlite"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSqliteStore(context.Background(), db)
	require.NoError(t, err)
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestSqliteStore(t),
		"memory": NewMemoryStore(),
	}
}

var hourly = Policy{StartingActions: 10, MaxActions: 10, TimePeriod: time.Hour}

func TestConsume_DenialThenRefill(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

			for i := 0; i < 10; i++ {
				b, err := store.Consume(ctx, "checkin", "user-1", hourly, now)
				require.NoError(t, err)
				assert.Equal(t, float64(9-i), b.Remaining, "call %d", i+1)
				assert.True(t, b.Allowed())
			}

			b, err := store.Consume(ctx, "checkin", "user-1", hourly, now)
			require.NoError(t, err)
			assert.Equal(t, float64(-1), b.Remaining)
			assert.False(t, b.Allowed())

			// 6 minutes is exactly one timePerAction (1h / 10).
			later := now.Add(6 * time.Minute)
			b, err = store.Consume(ctx, "checkin", "user-1", hourly, later)
			require.NoError(t, err)
			assert.Equal(t, float64(0), b.Remaining)
			assert.True(t, b.Allowed())
			assert.Equal(t, later.UnixMilli(), b.LastTake)

			b, err = store.Consume(ctx, "checkin", "user-1", hourly, later)
			require.NoError(t, err)
			assert.False(t, b.Allowed(), "only one token should have been restored")
		})
	}
}

func TestConsume_RefillKeepsFractionalInterval(t *testing.T) {
	// 1000ms over 3 actions refills one token every 333.33ms.
	thirds := Policy{StartingActions: 3, MaxActions: 3, TimePeriod: time.Second}
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
			for range 3 {
				_, err := store.Consume(ctx, "checkin", "user-1", thirds, now)
				require.NoError(t, err)
			}

			b, err := store.Consume(ctx, "checkin", "user-1", thirds, now.Add(333*time.Millisecond))
			require.NoError(t, err)
			assert.False(t, b.Allowed(), "333ms is short of one token")
			assert.Equal(t, now.UnixMilli(), b.LastTake)

			b, err = store.Consume(ctx, "checkin", "user-1", thirds, now.Add(334*time.Millisecond))
			require.NoError(t, err)
			assert.True(t, b.Allowed())
			assert.Equal(t, float64(0), b.Remaining)
		})
	}
}

func TestConsume_DeniedCallKeepsLastTake(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			policy := Policy{StartingActions: 1, MaxActions: 1, TimePeriod: time.Minute}
			start := time.Unix(1_700_000_000, 0)

			b, err := store.Consume(ctx, "a", "x", policy, start)
			require.NoError(t, err)
			require.Equal(t, float64(0), b.Remaining)

			// Half an interval later: no refill, no token, last_take unchanged.
			b, err = store.Consume(ctx, "a", "x", policy, start.Add(30*time.Second))
			require.NoError(t, err)
			assert.Equal(t, float64(-1), b.Remaining)
			assert.Equal(t, start.UnixMilli(), b.LastTake)

			// The elapsed time since the original take still counts.
			b, err = store.Consume(ctx, "a", "x", policy, start.Add(60*time.Second))
			require.NoError(t, err)
			assert.True(t, b.Allowed())
		})
	}
}

func TestConsume_SpacedCallsNeverDenied(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Unix(1_700_000_000, 0)
			for i := 0; i < 50; i++ {
				b, err := store.Consume(ctx, "spaced", "u", hourly, now)
				require.NoError(t, err)
				require.True(t, b.Allowed(), "call %d denied", i)
				now = now.Add(hourly.TimePerAction())
			}
		})
	}
}

func TestConsume_RemainingBounded(t *testing.T) {
	sqliteStore := newTestSqliteStore(t)
	memStore := NewMemoryStore()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	policy := Policy{StartingActions: 3, MaxActions: 5, TimePeriod: 10 * time.Second}

	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 500; i++ {
		now = now.Add(time.Duration(rng.Intn(4000)) * time.Millisecond)

		a, err := sqliteStore.Consume(ctx, "prop", "k", policy, now)
		require.NoError(t, err)
		b, err := memStore.Consume(ctx, "prop", "k", policy, now)
		require.NoError(t, err)

		require.LessOrEqual(t, a.Remaining, float64(policy.MaxActions))
		require.GreaterOrEqual(t, a.Remaining, float64(-1))
		require.Equal(t, b, a, "sqlite and memory diverged at step %d", i)
	}
}

func TestConsume_ConcurrentCallersNeverOverspend(t *testing.T) {
	store := newTestSqliteStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := store.Consume(ctx, "burst", "same-user", hourly, now)
			if err != nil {
				t.Error(err)
				return
			}
			if b.Remaining < -1 {
				t.Errorf("remaining dropped below -1: %v", b.Remaining)
			}
			if b.Allowed() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed.Load())
}

func TestPruneAndDeleteUnsupported(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Unix(1_700_000_000, 0)
			recent := old.Add(time.Hour)

			_, err := store.Consume(ctx, "checkin", "stale", hourly, old)
			require.NoError(t, err)
			_, err = store.Consume(ctx, "checkin", "fresh", hourly, recent)
			require.NoError(t, err)
			_, err = store.Consume(ctx, "retired", "x", hourly, recent)
			require.NoError(t, err)

			n, err := store.Prune(ctx, "checkin", old)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = store.DeleteUnsupported(ctx, []string{"checkin"})
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			// The fresh bucket survived both passes and keeps its state.
			b, err := store.Consume(ctx, "checkin", "fresh", hourly, recent)
			require.NoError(t, err)
			assert.Equal(t, float64(8), b.Remaining)
		})
	}
}

func TestSqliteStore_Get(t *testing.T) {
	store := newTestSqliteStore(t)
	ctx := context.Background()

	got, err := store.Get(ctx, "none", "none")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = store.Consume(ctx, "checkin", "u", hourly, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	got, err = store.Get(ctx, "checkin", "u")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, float64(9), got.Remaining)
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		ok     bool
	}{
		{"valid", hourly, true},
		{"zero max", Policy{MaxActions: 0, TimePeriod: time.Hour}, false},
		{"zero period", Policy{MaxActions: 1}, false},
		{"sub-millisecond period", Policy{MaxActions: 1, TimePeriod: time.Microsecond}, false},
		{"period shorter than max actions", Policy{MaxActions: 3, TimePeriod: time.Millisecond}, true},
		{"start above max", Policy{StartingActions: 11, MaxActions: 10, TimePeriod: time.Hour}, false},
		{"negative start", Policy{StartingActions: -1, MaxActions: 10, TimePeriod: time.Hour}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPolicy)
			}
		})
	}
}
