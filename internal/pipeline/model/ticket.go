// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ManualTicket is an entitlement issued by an administrator or by
// auto-issuance. It is never modified after creation.
type ManualTicket struct {
	ID            string    `json:"id"`
	AttendeeEmail string    `json:"attendeeEmail"`
	AttendeeName  string    `json:"attendeeName"`
	EventID       string    `json:"eventId"`
	ProductID     string    `json:"productId"`
	TimeCreated   time.Time `json:"timeCreated,omitzero"`
}

// MemberCriterion is the wire form of a membership criterion. An empty
// ProductID matches any product of the event.
type MemberCriterion struct {
	EventID   string `json:"eventId"`
	ProductID string `json:"productId,omitempty"`
}

// Schedule bounds when a rule may issue and how often per user.
type Schedule struct {
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	IntervalMs int64     `json:"intervalMs"`
}

// Interval returns the per-user cooldown.
func (s Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

// AutoIssuanceRule grants a ticket for EventID/ProductID to users holding a
// ticket that satisfies any of MemberCriteria.
type AutoIssuanceRule struct {
	EventID        string            `json:"eventId"`
	ProductID      string            `json:"productId"`
	MemberCriteria []MemberCriterion `json:"memberCriteria"`
	Schedule       Schedule          `json:"schedule"`
}

// Validate checks a rule is usable.
func (r AutoIssuanceRule) Validate() error {
	var errs []error
	if r.EventID == "" {
		errs = append(errs, errors.New("eventId is required"))
	}
	if r.ProductID == "" {
		errs = append(errs, errors.New("productId is required"))
	}
	if len(r.MemberCriteria) == 0 {
		errs = append(errs, errors.New("memberCriteria must not be empty"))
	}
	for _, c := range r.MemberCriteria {
		if c.EventID == "" {
			errs = append(errs, errors.New("memberCriteria eventId is required"))
			break
		}
	}
	if r.Schedule.EndDate.Before(r.Schedule.StartDate) {
		errs = append(errs, errors.New("schedule endDate precedes startDate"))
	}
	if r.Schedule.IntervalMs < 0 {
		errs = append(errs, errors.New("schedule intervalMs must not be negative"))
	}
	return errors.Join(errs...)
}

// Atom is one externally sourced record cached for a pipeline.
type Atom struct {
	ID         string          `json:"id"`
	PipelineID string          `json:"pipelineId"`
	Payload    json.RawMessage `json:"payload"`
}

// TicketAtom is the payload of atoms produced by ticketing pipelines.
type TicketAtom struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	EventID   string `json:"eventId"`
	ProductID string `json:"productId"`
}

// NewTicketAtom wraps t as an atom of pipelineID.
func NewTicketAtom(pipelineID string, t TicketAtom) (Atom, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return Atom{}, err
	}
	return Atom{ID: t.ID, PipelineID: pipelineID, Payload: raw}, nil
}

// DecodeTicket decodes the atom payload as a TicketAtom.
func (a Atom) DecodeTicket() (TicketAtom, error) {
	var t TicketAtom
	err := json.Unmarshal(a.Payload, &t)
	return t, err
}
