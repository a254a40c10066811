// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"testing"
	"time"

	"github.com/omahs/zupass/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTL_GetSet(t *testing.T) {
	c := New[string, string]()
	c.Set("key1", "value1", 5*time.Minute)

	val, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "value1", val)

	val, ok = c.Get("nonexistent")
	assert.False(t, ok)
	assert.Empty(t, val)
}

func TestTTL_ExpiresAtExactTTL(t *testing.T) {
	fake := clock.NewFake(time.Date(2023, 11, 5, 14, 30, 0, 0, time.UTC))
	c := New[string, int](WithClock(fake))
	c.Set("cred", 1, time.Hour)

	fake.Advance(59*time.Minute + 59*time.Second)
	_, ok := c.Get("cred")
	assert.True(t, ok, "live just before the TTL")

	fake.Advance(time.Second)
	_, ok = c.Get("cred")
	assert.False(t, ok, "expired exactly at the TTL")
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Evictions: 1}, c.Stats())
}

func TestTTL_NonPositiveTTLRemoves(t *testing.T) {
	c := New[string, int]()
	c.Set("k", 1, time.Minute)
	c.Set("k", 2, 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Size)
}

func TestTTL_DeleteAndClear(t *testing.T) {
	c := New[string, string]()
	c.Set("key1", "value1", 5*time.Minute)
	c.Set("key2", "value2", 5*time.Minute)

	c.Delete("key1")
	_, ok := c.Get("key1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Stats().Size)

	c.Clear()
	assert.Zero(t, c.Stats().Size)
}

func TestTTL_BoundedEvictsExpiredThenSoonest(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	c := New[string, int](WithClock(fake), WithMaxEntries(2))

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	fake.Advance(time.Minute)
	c.Set("new", 3, 30*time.Minute)

	_, ok := c.Get("long")
	assert.True(t, ok, "expired entry made room")
	assert.Equal(t, 2, c.Stats().Size)

	c.Set("newest", 4, 2*time.Hour)
	_, ok = c.Get("new")
	assert.False(t, ok, "entry closest to expiry evicted")
	_, ok = c.Get("long")
	assert.True(t, ok)
	_, ok = c.Get("newest")
	assert.True(t, ok)

	c.Set("long", 5, time.Hour)
	assert.Equal(t, 2, c.Stats().Size, "overwrite needs no room")
}
