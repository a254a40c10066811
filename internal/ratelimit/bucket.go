// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ratelimit implements a persisted token bucket for named actions.
//
// A bucket holds Remaining tokens. Each Consume takes one token after
// refilling floor(elapsed / timePerAction) tokens, capped at MaxActions.
// A Remaining of -1 after Consume means the action was denied; the next
// Consume treats it as 0 before refilling.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPolicy is returned for policies that cannot describe a bucket.
	ErrInvalidPolicy = errors.New("ratelimit: invalid policy")
)

// Bucket is the persisted state for one (ActionType, ActionID) pair.
type Bucket struct {
	ActionType string  `json:"actionType"`
	ActionID   string  `json:"actionId"`
	Remaining  float64 `json:"remaining"`
	LastTake   int64   `json:"lastTake"` // epoch milliseconds
}

// Allowed reports whether the Consume that produced this state took a token.
func (b Bucket) Allowed() bool {
	return b.Remaining >= 0
}

// Policy describes the bucket shape for one action type.
type Policy struct {
	StartingActions int           `yaml:"starting_actions"`
	MaxActions      int           `yaml:"max_actions"`
	TimePeriod      time.Duration `yaml:"time_period"`
}

type policyJSON struct {
	StartingActions int   `json:"startingActions"`
	MaxActions      int   `json:"maxActions"`
	TimePeriodMs    int64 `json:"timePeriodMs"`
}

// MarshalJSON encodes TimePeriod as whole milliseconds.
func (p Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(policyJSON{p.StartingActions, p.MaxActions, p.TimePeriod.Milliseconds()})
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	var raw policyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Policy{
		StartingActions: raw.StartingActions,
		MaxActions:      raw.MaxActions,
		TimePeriod:      time.Duration(raw.TimePeriodMs) * time.Millisecond,
	}
	return nil
}

// TimePerAction is the refill interval for a single token.
func (p Policy) TimePerAction() time.Duration {
	return p.TimePeriod / time.Duration(p.MaxActions)
}

// msPerAction is TimePerAction in fractional milliseconds. Refill uses it
// so periods that do not divide evenly by MaxActions keep their remainder.
func (p Policy) msPerAction() float64 {
	return float64(p.TimePeriod.Milliseconds()) / float64(p.MaxActions)
}

// Validate rejects policies with no capacity or refill period. A starting
// value above MaxActions would break the Remaining <= MaxActions invariant.
func (p Policy) Validate() error {
	switch {
	case p.MaxActions <= 0:
		return fmt.Errorf("%w: maxActions must be positive, got %d", ErrInvalidPolicy, p.MaxActions)
	case p.TimePeriod <= 0:
		return fmt.Errorf("%w: timePeriod must be positive, got %s", ErrInvalidPolicy, p.TimePeriod)
	case p.StartingActions < 0 || p.StartingActions > p.MaxActions:
		return fmt.Errorf("%w: startingActions must be within [0, %d], got %d", ErrInvalidPolicy, p.MaxActions, p.StartingActions)
	case p.TimePeriod < time.Millisecond:
		return fmt.Errorf("%w: timePeriod %s is below one millisecond", ErrInvalidPolicy, p.TimePeriod)
	}
	return nil
}

// Store persists buckets. Consume must apply the whole refill-and-take
// computation atomically so concurrent callers for the same key never
// interleave a read with a write.
type Store interface {
	Consume(ctx context.Context, actionType, actionID string, policy Policy, now time.Time) (Bucket, error)
	// Prune deletes buckets of actionType whose last take is at or before expiry.
	Prune(ctx context.Context, actionType string, expiry time.Time) (int64, error)
	// DeleteUnsupported deletes buckets whose action type is not listed.
	DeleteUnsupported(ctx context.Context, supported []string) (int64, error)
}

// refill computes the post-consume bucket from the prior state. It is the
// reference the SQL statement in sqlite.go mirrors.
func refill(prev Bucket, policy Policy, nowMs int64) Bucket {
	tpa := policy.msPerAction()
	elapsed := float64(nowMs - prev.LastTake)

	tokens := int64(elapsed / tpa) // truncation equals floor for elapsed >= 0
	remaining := min(float64(policy.MaxActions), max(prev.Remaining, 0)+float64(tokens)) - 1

	lastTake := prev.LastTake
	if prev.Remaining > 0 || elapsed >= tpa {
		lastTake = nowMs
	}

	return Bucket{
		ActionType: prev.ActionType,
		ActionID:   prev.ActionID,
		Remaining:  remaining,
		LastTake:   lastTake,
	}
}
