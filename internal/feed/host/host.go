// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package host serves feeds to credential-bearing clients. Every poll is
// verified, rate limited per identity, and only then handed to the feed.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/omahs/zupass/internal/credential"
	"github.com/omahs/zupass/internal/feed"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/ratelimit"
	"github.com/rs/zerolog"
)

var (
	// ErrRateLimited is returned when an identity polls too often.
	ErrRateLimited = errors.New("host: too many poll requests")
	// ErrEmailRequired is returned when a feed needs an email proof and the
	// credential carries none.
	ErrEmailRequired = fmt.Errorf("%w: feed requires an email proof", feed.ErrUnauthorized)
)

// Request is what a feed handler sees: only verified data.
type Request struct {
	Feed       feed.Feed
	PipelineID string
	Credential *credential.VerifiedCredential
}

// Handler produces the poll response for a verified request.
type Handler func(ctx context.Context, req Request) (*feed.PollResponse, error)

// Registration binds a feed to its handler. PipelineID, when set, makes
// every verified email a consumer of that pipeline.
type Registration struct {
	Feed       feed.Feed
	PipelineID string
	Handler    Handler
}

// ConsumerRecorder stores who has polled a pipeline's feeds.
type ConsumerRecorder interface {
	Save(ctx context.Context, pipelineID, email, semaphoreID string) error
}

// Host serves a set of feeds under one provider name.
type Host struct {
	name      string
	url       string
	verifier  *credential.Verifier
	trusted   credential.TrustFunc
	limiter   *ratelimit.Limiter
	consumers ConsumerRecorder
	logger    zerolog.Logger

	mu    sync.RWMutex
	feeds map[string]Registration
	order []string
}

// Option configures a Host.
type Option func(*Host)

// WithTrust restricts accepted email proof signers.
func WithTrust(f credential.TrustFunc) Option {
	return func(h *Host) { h.trusted = f }
}

// WithRateLimiter limits polls per semaphore id using the feed_poll policy.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(h *Host) { h.limiter = l }
}

// WithConsumerRecorder records verified emails of pipeline-bound feeds.
func WithConsumerRecorder(r ConsumerRecorder) Option {
	return func(h *Host) { h.consumers = r }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// New creates a host. The verifier decides credential freshness, so its
// clock skew tolerance is the host's tolerance.
func New(name, url string, verifier *credential.Verifier, opts ...Option) *Host {
	h := &Host{
		name:     name,
		url:      url,
		verifier: verifier,
		logger:   log.WithComponent("feed_host"),
		feeds:    make(map[string]Registration),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the provider name advertised in feed listings.
func (h *Host) Name() string { return h.name }

// URL returns the provider url advertised in feed listings.
func (h *Host) URL() string { return h.url }

// Register adds or replaces a feed.
func (h *Host) Register(reg Registration) error {
	if reg.Feed.ID == "" {
		return errors.New("host: feed id is required")
	}
	if reg.Handler == nil {
		return fmt.Errorf("host: feed %s has no handler", reg.Feed.ID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.feeds[reg.Feed.ID]; !ok {
		h.order = append(h.order, reg.Feed.ID)
	}
	h.feeds[reg.Feed.ID] = reg
	return nil
}

// Unregister removes a feed. Unknown ids are ignored.
func (h *Host) Unregister(feedID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.feeds[feedID]; !ok {
		return
	}
	delete(h.feeds, feedID)
	for i, id := range h.order {
		if id == feedID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// ListFeeds returns the hosted feeds in registration order.
func (h *Host) ListFeeds() *feed.ListFeedsResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()
	feeds := make([]feed.Feed, 0, len(h.order))
	for _, id := range h.order {
		feeds = append(feeds, h.feeds[id].Feed)
	}
	return &feed.ListFeedsResponse{ProviderName: h.name, ProviderURL: h.url, Feeds: feeds}
}

// Poll verifies cred and runs the feed's handler.
func (h *Host) Poll(ctx context.Context, feedID string, cred credential.Credential) (*feed.PollResponse, error) {
	h.mu.RLock()
	reg, ok := h.feeds[feedID]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", feed.ErrFeedNotFound, feedID)
	}

	verified, err := h.verifier.Verify(ctx, cred, h.trusted)
	if err != nil {
		return nil, err
	}
	if reg.Feed.CredentialRequest.IncludeEmail && !verified.HasEmail() {
		return nil, ErrEmailRequired
	}

	logger := h.logger.With().
		Str(log.FieldFeedID, feedID).
		Str(log.FieldSemaphoreID, verified.SemaphoreID).
		Logger()

	if h.limiter != nil {
		allowed, err := h.limiter.Take(ctx, ratelimit.ActionFeedPoll, verified.SemaphoreID)
		if err != nil {
			return nil, fmt.Errorf("host: rate limit: %w", err)
		}
		if !allowed {
			return nil, ErrRateLimited
		}
	}

	if h.consumers != nil && reg.PipelineID != "" && verified.HasEmail() {
		if err := h.consumers.Save(ctx, reg.PipelineID, verified.Email, verified.SemaphoreID); err != nil {
			return nil, fmt.Errorf("host: record consumer: %w", err)
		}
	}

	resp, err := reg.Handler(ctx, Request{Feed: reg.Feed, PipelineID: reg.PipelineID, Credential: verified})
	if err != nil {
		logger.Warn().Str(log.FieldEvent, "feed_host.handler_failed").Err(err).Msg("feed handler failed")
		return nil, err
	}
	if resp == nil {
		resp = &feed.PollResponse{Actions: []feed.Action{}}
	}
	logger.Debug().Str(log.FieldEvent, "feed_host.polled").Int("actions", len(resp.Actions)).Msg("feed served")
	return resp, nil
}
