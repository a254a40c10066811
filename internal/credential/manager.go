// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/omahs/zupass/internal/cache"
	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/proof"
)

// CacheTTL is how long a produced credential is reused. It must stay below
// MaxAge so a cached credential is never presented after it has expired.
const CacheTTL = time.Hour

// Request describes the credential a feed asks for.
type Request struct {
	IncludeEmail bool `json:"includeEmail,omitempty"`
}

func (r Request) cacheKey() string {
	if r.IncludeEmail {
		return "signature+email"
	}
	return "signature"
}

// Producer yields credentials for outgoing requests.
type Producer interface {
	Credential(ctx context.Context, req Request) (Credential, error)
}

// Manager produces and caches credentials for one identity.
type Manager struct {
	identity *proof.Identity
	clock    clock.Clock
	ttl      time.Duration
	cache    *cache.TTL[string, Credential]

	mu         sync.RWMutex
	emailProof *proof.Serialized
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides the time used for timestamps and cache expiry.
func WithManagerClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithCacheTTL overrides CacheTTL. Zero disables caching.
func WithCacheTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = d }
}

// WithEmailProof sets the email proof embedded on request.
func WithEmailProof(p proof.Serialized) ManagerOption {
	return func(m *Manager) { m.emailProof = &p }
}

// NewManager returns a Manager signing as identity.
func NewManager(identity *proof.Identity, opts ...ManagerOption) *Manager {
	m := &Manager{
		identity: identity,
		clock:    clock.Real(),
		ttl:      CacheTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = cache.New[string, Credential](cache.WithClock(m.clock))
	return m
}

// SetEmailProof replaces the held email proof and drops cached credentials.
func (m *Manager) SetEmailProof(p proof.Serialized) {
	m.mu.Lock()
	m.emailProof = &p
	m.mu.Unlock()
	m.cache.Clear()
}

// Credential returns a cached credential for req, or signs a fresh one.
func (m *Manager) Credential(ctx context.Context, req Request) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	key := req.cacheKey()
	if cred, ok := m.cache.Get(key); ok {
		return cred, nil
	}

	var pcd *proof.Serialized
	if req.IncludeEmail {
		m.mu.RLock()
		pcd = m.emailProof
		m.mu.RUnlock()
		if pcd == nil {
			return Credential{}, ErrNoEmailProof
		}
	}

	msg, err := NewPayload(m.clock.Now(), pcd).Encode()
	if err != nil {
		return Credential{}, err
	}
	cred, err := proof.SignMessage(m.identity, msg)
	if err != nil {
		return Credential{}, fmt.Errorf("credential: sign payload: %w", err)
	}
	if m.ttl > 0 {
		m.cache.Set(key, cred, m.ttl)
	}
	return cred, nil
}
