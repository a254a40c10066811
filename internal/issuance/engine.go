// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package issuance synthesizes manual tickets for users who satisfy
// auto-issuance rules.
package issuance

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/pipeline/model"
)

// PlaceholderName is used when no held ticket carries a name.
const PlaceholderName = "no name"

// Engine evaluates rules. It has no side effects; callers persist results.
type Engine struct {
	clock clock.Clock
	newID func() string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator overrides ticket id generation.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{clock: clock.Real(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type compiledRule struct {
	rule     model.AutoIssuanceRule
	criteria []Criterion
}

func compile(rules []model.AutoIssuanceRule) []compiledRule {
	out := make([]compiledRule, len(rules))
	for i, r := range rules {
		out[i] = compiledRule{rule: r, criteria: Compile(r.MemberCriteria)}
	}
	return out
}

// Evaluate returns the tickets to issue to emails. existing are the manual
// tickets already issued; records are the ingested real tickets.
func (e *Engine) Evaluate(rules []model.AutoIssuanceRule, emails []string, existing []model.ManualTicket, records []Record) []model.ManualTicket {
	compiled := compile(rules)
	now := e.clock.Now()
	seen := make(map[string]struct{}, len(emails))

	var issued []model.ManualTicket
	for _, email := range emails {
		key := strings.ToLower(email)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		issued = append(issued, e.issueForUser(compiled, now, email, existing, records)...)
	}
	return issued
}

// IssueForUser evaluates rules for a single user.
func (e *Engine) IssueForUser(rules []model.AutoIssuanceRule, email string, existing []model.ManualTicket, records []Record) []model.ManualTicket {
	return e.issueForUser(compile(rules), e.clock.Now(), email, existing, records)
}

func (e *Engine) issueForUser(rules []compiledRule, now time.Time, email string, existing []model.ManualTicket, records []Record) []model.ManualTicket {
	var owned, manual []Record
	for _, r := range records {
		if strings.EqualFold(r.Email, email) {
			owned = append(owned, r)
		}
	}
	var held []model.ManualTicket
	for _, t := range existing {
		if strings.EqualFold(t.AttendeeEmail, email) {
			held = append(held, t)
			manual = append(manual, RecordFromManual(t))
		}
	}

	// Identical rules grant one ticket per pass.
	granted := make(map[[2]string]struct{})
	var issued []model.ManualTicket
	for _, cr := range rules {
		realMatch, hasReal := firstMatch(owned, cr.criteria)
		manualMatch, hasManual := firstMatch(manual, cr.criteria)
		if !hasReal && !hasManual {
			continue
		}
		target := [2]string{cr.rule.EventID, cr.rule.ProductID}
		if _, dup := granted[target]; dup {
			continue
		}
		if !canIssue(cr.rule, now, held) {
			continue
		}
		granted[target] = struct{}{}

		name := PlaceholderName
		switch {
		case hasReal && realMatch.Name != "":
			name = realMatch.Name
		case hasManual && manualMatch.Name != "":
			name = manualMatch.Name
		}

		t := model.ManualTicket{
			ID:            e.newID(),
			AttendeeEmail: email,
			AttendeeName:  name,
			EventID:       cr.rule.EventID,
			ProductID:     cr.rule.ProductID,
			TimeCreated:   now,
		}
		issued = append(issued, t)
	}
	return issued
}

func firstMatch(records []Record, criteria []Criterion) (Record, bool) {
	for _, r := range records {
		if MatchesAny(r, criteria) {
			return r, true
		}
	}
	return Record{}, false
}

// canIssue applies the schedule window [start, end] and the sliding
// cooldown: none of the user's existing tickets, whatever their event,
// created at or after now-interval.
func canIssue(rule model.AutoIssuanceRule, now time.Time, held []model.ManualTicket) bool {
	if now.Before(rule.Schedule.StartDate) || now.After(rule.Schedule.EndDate) {
		return false
	}
	cutoff := now.Add(-rule.Schedule.Interval())
	for _, t := range held {
		if t.TimeCreated.IsZero() {
			continue
		}
		if !t.TimeCreated.Before(cutoff) {
			return false
		}
	}
	return true
}
