// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache provides a bounded in-memory map with per-entry expiry.
package cache

import (
	"sync"
	"time"

	"github.com/omahs/zupass/internal/clock"
)

// DefaultMaxEntries bounds a cache built without WithMaxEntries.
const DefaultMaxEntries = 1024

type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type config struct {
	clock      clock.Clock
	maxEntries int
}

type Option func(*config)

// WithClock overrides the time source used for expiry.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// WithMaxEntries caps the number of live entries. Non-positive values keep the default.
func WithMaxEntries(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxEntries = n
		}
	}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// An entry is expired from its expiry instant onward, so a one hour TTL is
// gone exactly one hour later.
func (e entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// TTL is safe for concurrent use. Expired entries are dropped lazily on
// access and when room is needed for a new key.
type TTL[K comparable, V any] struct {
	cfg config

	mu      sync.Mutex
	entries map[K]entry[V]
	stats   Stats
}

func New[K comparable, V any](opts ...Option) *TTL[K, V] {
	cfg := config{clock: clock.Real(), maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TTL[K, V]{cfg: cfg, entries: make(map[K]entry[V])}
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && e.expired(c.cfg.clock.Now()) {
		delete(c.entries, key)
		c.stats.Evictions++
		ok = false
	}
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl removes key instead. When the
// cache is full, expired entries go first, then the entry closest to expiry.
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	now := c.cfg.clock.Now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.maxEntries {
		c.makeRoom(now)
	}
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
}

// makeRoom must be called with mu held.
func (c *TTL[K, V]) makeRoom(now time.Time) {
	var (
		victim   K
		earliest time.Time
		found    bool
	)
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			c.stats.Evictions++
			continue
		}
		if !found || e.expiresAt.Before(earliest) {
			victim, earliest, found = k, e.expiresAt, true
		}
	}
	if found && len(c.entries) >= c.cfg.maxEntries {
		delete(c.entries, victim)
		c.stats.Evictions++
	}
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

func (c *TTL[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}
