// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package issuance

import "github.com/omahs/zupass/internal/pipeline/model"

// Source tells where a Record came from.
type Source int

const (
	SourceReal   Source = iota // ingested from the ticketing provider
	SourceManual               // manual or auto-issued ticket
)

// Record is a ticket held by a user, real or manual.
type Record struct {
	Email     string
	Name      string
	EventID   string
	ProductID string
	Source    Source
}

// RecordFromAtom converts an ingested ticket.
func RecordFromAtom(t model.TicketAtom) Record {
	return Record{Email: t.Email, Name: t.Name, EventID: t.EventID, ProductID: t.ProductID, Source: SourceReal}
}

// RecordFromManual converts a manual ticket.
func RecordFromManual(t model.ManualTicket) Record {
	return Record{Email: t.AttendeeEmail, Name: t.AttendeeName, EventID: t.EventID, ProductID: t.ProductID, Source: SourceManual}
}

// Criterion is a membership test. The variants are EventCriterion and
// ProductCriterion.
type Criterion interface {
	Matches(r Record) bool
	isCriterion()
}

// EventCriterion matches any ticket for an event.
type EventCriterion struct {
	EventID string
}

func (c EventCriterion) Matches(r Record) bool { return r.EventID == c.EventID }
func (EventCriterion) isCriterion() {}

// ProductCriterion matches tickets for one product of an event.
type ProductCriterion struct {
	EventID   string
	ProductID string
}

func (c ProductCriterion) Matches(r Record) bool {
	return r.EventID == c.EventID && r.ProductID == c.ProductID
}
func (ProductCriterion) isCriterion() {}

// Compile converts wire criteria into variants.
func Compile(criteria []model.MemberCriterion) []Criterion {
	out := make([]Criterion, 0, len(criteria))
	for _, c := range criteria {
		if c.ProductID == "" {
			out = append(out, EventCriterion{EventID: c.EventID})
		} else {
			out = append(out, ProductCriterion{EventID: c.EventID, ProductID: c.ProductID})
		}
	}
	return out
}

// MatchesAny reports whether r satisfies at least one criterion.
func MatchesAny(r Record, criteria []Criterion) bool {
	for _, c := range criteria {
		if c.Matches(r) {
			return true
		}
	}
	return false
}
