// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/credential"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/metrics"
	"github.com/omahs/zupass/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const tracerName = "zupass/feed"

// ResultHandler applies a validated poll response. A returned error puts
// the subscription into the erroring state.
type ResultHandler func(ctx context.Context, sub Subscription, resp *PollResponse) error

// PollResult is the outcome of polling one subscription.
type PollResult struct {
	SubscriptionID string
	Response       *PollResponse
	Err            error
}

// Manager holds providers and subscriptions. A subscription is either
// active or erroring; a successful poll clears its error, a failed one sets
// it, and neither touches any other subscription.
type Manager struct {
	api         API
	clock       clock.Clock
	logger      zerolog.Logger
	onResult    ResultHandler
	concurrency int

	mu            sync.RWMutex
	providers     map[string]Provider
	providerOrder []string
	subscriptions map[string]*Subscription
	errors        map[string]*FetchError
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source for subscription timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithResultHandler sets the handler for successful polls.
func WithResultHandler(h ResultHandler) Option {
	return func(m *Manager) { m.onResult = h }
}

// WithConcurrency bounds how many subscriptions are polled at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) { m.concurrency = n }
}

func NewManager(api API, opts ...Option) *Manager {
	m := &Manager{
		api:           api,
		clock:         clock.Real(),
		logger:        log.WithComponent("feed"),
		concurrency:   8,
		providers:     make(map[string]Provider),
		subscriptions: make(map[string]*Subscription),
		errors:        make(map[string]*FetchError),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddProvider registers a provider under its normalized url. Adding a
// known url is a no-op.
func (m *Manager) AddProvider(url, name string) Provider {
	url = providerKey(url)
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.providers[url]; ok {
		return p
	}
	p := Provider{URL: url, Name: name}
	m.providers[url] = p
	m.providerOrder = append(m.providerOrder, url)
	return p
}

// RemoveProvider drops a provider and all of its subscriptions.
func (m *Manager) RemoveProvider(url string) {
	url = providerKey(url)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[url]; !ok {
		return
	}
	delete(m.providers, url)
	for i, u := range m.providerOrder {
		if u == url {
			m.providerOrder = append(m.providerOrder[:i], m.providerOrder[i+1:]...)
			break
		}
	}
	for id, sub := range m.subscriptions {
		if sub.ProviderURL == url {
			delete(m.subscriptions, id)
			delete(m.errors, id)
		}
	}
	metrics.SetFeedSubscriptionsErroring(len(m.errors))
}

// Providers returns providers in registration order.
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Provider, 0, len(m.providerOrder))
	for _, url := range m.providerOrder {
		out = append(out, m.providers[url])
	}
	return out
}

// ListFeeds asks a provider for its feeds. No local state changes.
func (m *Manager) ListFeeds(ctx context.Context, providerURL string) (*ListFeedsResponse, error) {
	return m.api.ListFeeds(ctx, providerKey(providerURL))
}

// Subscribe creates an active subscription to feed at a registered provider.
func (m *Manager) Subscribe(providerURL string, feed Feed) (*Subscription, error) {
	providerURL = providerKey(providerURL)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[providerURL]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerURL)
	}
	for _, sub := range m.subscriptions {
		if sub.ProviderURL == providerURL && sub.Feed.ID == feed.ID {
			return nil, fmt.Errorf("%w: %s at %s", ErrAlreadySubscribed, feed.ID, providerURL)
		}
	}

	sub := &Subscription{
		ID:           uuid.NewString(),
		ProviderURL:  providerURL,
		Feed:         feed,
		SubscribedAt: m.clock.Now(),
	}
	m.subscriptions[sub.ID] = sub

	m.logger.Info().
		Str(log.FieldEvent, "feed.subscribed").
		Str(log.FieldSubscriptionID, sub.ID).
		Str(log.FieldProviderURL, providerURL).
		Str(log.FieldFeedID, feed.ID).
		Msg("subscribed to feed")
	cp := *sub
	return &cp, nil
}

// Unsubscribe removes a subscription and its error state.
func (m *Manager) Unsubscribe(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	delete(m.subscriptions, id)
	delete(m.errors, id)
	metrics.SetFeedSubscriptionsErroring(len(m.errors))
	return nil
}

// Subscriptions returns all subscriptions ordered by subscription time.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubscribedAt.Equal(out[j].SubscribedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubscribedAt.Before(out[j].SubscribedAt)
	})
	return out
}

// Error returns the current error of a subscription, or nil when active.
func (m *Manager) Error(id string) *FetchError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errors[id]
}

// AllErrors returns a copy of every current subscription error.
func (m *Manager) AllErrors() map[string]*FetchError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*FetchError, len(m.errors))
	for id, err := range m.errors {
		out[id] = err
	}
	return out
}

// PollSubscriptions polls every subscription with a credential from
// producer. Failures are recorded per subscription and never abort the
// others; the returned slice has one result per subscription polled.
func (m *Manager) PollSubscriptions(ctx context.Context, producer credential.Producer) []PollResult {
	subs := m.Subscriptions()
	results := make([]PollResult, len(subs))

	ctx, span := telemetry.StartSpan(ctx, tracerName, "feed.poll_subscriptions")
	defer span.End()

	var g errgroup.Group
	g.SetLimit(max(m.concurrency, 1))
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = m.poll(ctx, producer, sub)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.RLock()
	metrics.SetFeedSubscriptionsErroring(len(m.errors))
	m.mu.RUnlock()
	return results
}

// PollSubscription polls a single subscription.
func (m *Manager) PollSubscription(ctx context.Context, id string, producer credential.Producer) (PollResult, error) {
	m.mu.RLock()
	sub, ok := m.subscriptions[id]
	var cp Subscription
	if ok {
		cp = *sub
	}
	m.mu.RUnlock()
	if !ok {
		return PollResult{}, fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	return m.poll(ctx, producer, cp), nil
}

func (m *Manager) poll(ctx context.Context, producer credential.Producer, sub Subscription) PollResult {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "feed.poll",
		telemetry.FeedAttributes(sub.ProviderURL, sub.Feed.ID, sub.ID)...)

	resp, err := m.fetch(ctx, producer, sub)
	if err != nil {
		telemetry.EndSpan(span, err, string(ErrorTypeFetch))
	} else {
		telemetry.EndSpan(span, nil, "")
	}
	metrics.RecordFeedPoll(err == nil)

	logger := m.logger.With().
		Str(log.FieldSubscriptionID, sub.ID).
		Str(log.FieldProviderURL, sub.ProviderURL).
		Str(log.FieldFeedID, sub.Feed.ID).
		Logger()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, still := m.subscriptions[sub.ID]; !still {
		return PollResult{SubscriptionID: sub.ID, Response: resp, Err: err}
	}
	if err != nil {
		fe := &FetchError{SubscriptionID: sub.ID, ProviderURL: sub.ProviderURL, Err: err}
		m.errors[sub.ID] = fe
		logger.Warn().
			Str(log.FieldEvent, "feed.poll_failed").
			Bool("auth_error", IsAuthError(err)).
			Err(err).
			Msg("feed poll failed")
		return PollResult{SubscriptionID: sub.ID, Err: fe}
	}
	delete(m.errors, sub.ID)
	logger.Debug().
		Str(log.FieldEvent, "feed.polled").
		Int("actions", len(resp.Actions)).
		Msg("feed polled")
	return PollResult{SubscriptionID: sub.ID, Response: resp}
}

func (m *Manager) fetch(ctx context.Context, producer credential.Producer, sub Subscription) (*PollResponse, error) {
	cred, err := producer.Credential(ctx, sub.Feed.CredentialRequest)
	if err != nil {
		return nil, fmt.Errorf("produce credential: %w", err)
	}
	resp, err := m.api.PollFeed(ctx, sub.ProviderURL, PollRequest{FeedID: sub.Feed.ID, Credential: cred})
	if err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if m.onResult != nil {
		if err := m.onResult(ctx, sub, resp); err != nil {
			return nil, fmt.Errorf("apply poll response: %w", err)
		}
	}
	return resp, nil
}
