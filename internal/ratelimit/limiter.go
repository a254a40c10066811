// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrUnknownAction is returned by Limiter.Take for action types without a
// configured policy.
var ErrUnknownAction = errors.New("ratelimit: unknown action type")

// Well-known action types.
const (
	ActionFeedPoll        = "feed_poll"
	ActionPipelineUpsert  = "pipeline_upsert"
	ActionCheckin         = "checkin"
	ActionRequestPassword = "request_password"
)

// DefaultPolicies returns the built-in policy per action type.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ActionFeedPoll:        {StartingActions: 60, MaxActions: 60, TimePeriod: time.Hour},
		ActionPipelineUpsert:  {StartingActions: 30, MaxActions: 30, TimePeriod: time.Hour},
		ActionCheckin:         {StartingActions: 10, MaxActions: 10, TimePeriod: time.Hour},
		ActionRequestPassword: {StartingActions: 10, MaxActions: 10, TimePeriod: time.Hour},
	}
}

// Limiter applies configured policies on top of a Store.
type Limiter struct {
	store    Store
	policies map[string]Policy
	clock    clock.Clock
	logger   zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter. Every policy is validated up front.
func New(store Store, policies map[string]Policy, opts ...Option) (*Limiter, error) {
	for actionType, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", actionType, err)
		}
	}
	l := &Limiter{
		store:    store,
		policies: policies,
		clock:    clock.Real(),
		logger:   log.WithComponent("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Consume takes a token with an explicit policy. This is the raw contract:
// storage errors propagate unchanged.
func (l *Limiter) Consume(ctx context.Context, actionType, actionID string, policy Policy) (Bucket, error) {
	b, err := l.store.Consume(ctx, actionType, actionID, policy, l.clock.Now())
	if err != nil {
		return Bucket{}, err
	}
	metrics.RecordRateLimit(actionType, b.Allowed())
	if !b.Allowed() {
		l.logger.Debug().
			Str(log.FieldEvent, "ratelimit.denied").
			Str(log.FieldActionType, actionType).
			Str(log.FieldActionID, actionID).
			Msg("rate limit exceeded")
	}
	return b, nil
}

// Take consumes a token using the configured policy for actionType and
// reports whether the action may proceed.
func (l *Limiter) Take(ctx context.Context, actionType, actionID string) (bool, error) {
	policy, ok := l.policies[actionType]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}
	b, err := l.Consume(ctx, actionType, actionID, policy)
	if err != nil {
		return false, err
	}
	return b.Allowed(), nil
}

// Policy returns the configured policy for actionType.
func (l *Limiter) Policy(actionType string) (Policy, bool) {
	p, ok := l.policies[actionType]
	return p, ok
}

// ActionTypes lists configured action types in sorted order.
func (l *Limiter) ActionTypes() []string {
	types := make([]string, 0, len(l.policies))
	for t := range l.policies {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Cleanup prunes buckets untouched for longer than retention and drops
// buckets of action types that are no longer configured.
func (l *Limiter) Cleanup(ctx context.Context, retention time.Duration) error {
	expiry := l.clock.Now().Add(-retention)
	for _, actionType := range l.ActionTypes() {
		n, err := l.store.Prune(ctx, actionType, expiry)
		if err != nil {
			return err
		}
		metrics.RecordRateLimitPruned(actionType, n)
	}
	n, err := l.store.DeleteUnsupported(ctx, l.ActionTypes())
	if err != nil {
		return err
	}
	l.logger.Info().
		Str(log.FieldEvent, "ratelimit.cleanup").
		Int64("unsupported_deleted", n).
		Msg("rate limit buckets cleaned up")
	return nil
}
