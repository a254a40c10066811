// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PipelineType selects the Options variant of a definition.
type PipelineType string

const (
	TypePretix   PipelineType = "Pretix"
	TypeLemonade PipelineType = "Lemonade"
	TypeCSV      PipelineType = "CSV"
)

// Types lists every known pipeline type.
func Types() []PipelineType {
	return []PipelineType{TypePretix, TypeLemonade, TypeCSV}
}

// Valid reports whether t is a known pipeline type.
func (t PipelineType) Valid() bool {
	switch t {
	case TypePretix, TypeLemonade, TypeCSV:
		return true
	}
	return false
}

// Options is the closed set of per-type pipeline configurations:
// *PretixOptions, *LemonadeOptions and *CSVOptions.
type Options interface {
	PipelineType() PipelineType
	Feed() FeedOptions
	isOptions()
}

// TicketingOptions is implemented by options that issue tickets and
// therefore carry manual tickets and auto-issuance rules.
type TicketingOptions interface {
	Options
	Tickets() []ManualTicket
	SetTickets([]ManualTicket)
	Rules() []AutoIssuanceRule
}

// FeedOptions describes the feed a pipeline publishes.
type FeedOptions struct {
	FeedID          string `json:"feedId"`
	FeedDisplayName string `json:"feedDisplayName"`
	FeedDescription string `json:"feedDescription,omitempty"`
	FeedFolder      string `json:"feedFolder,omitempty"`
}

// PretixProduct maps one external product to a stable internal id.
type PretixProduct struct {
	GenericIssuanceID string `json:"genericIssuanceId"`
	ExternalID        string `json:"externalId"`
	Name              string `json:"name"`
	IsSuperUser       bool   `json:"isSuperUser,omitempty"`
}

// PretixEvent maps one external event and its products.
type PretixEvent struct {
	GenericIssuanceID string          `json:"genericIssuanceId"`
	ExternalID        string          `json:"externalId"`
	Name              string          `json:"name"`
	Products          []PretixProduct `json:"products"`
}

// PretixOptions configures a Pretix-backed pipeline.
type PretixOptions struct {
	Paused        bool               `json:"paused,omitempty"`
	OrgURL        string             `json:"pretixOrgUrl"`
	APIToken      string             `json:"pretixApiToken"`
	Events        []PretixEvent      `json:"events"`
	FeedOptions   FeedOptions        `json:"feedOptions"`
	ManualTickets []ManualTicket     `json:"manualTickets,omitempty"`
	AutoIssuance  []AutoIssuanceRule `json:"autoIssuance,omitempty"`
}

func (*PretixOptions) PipelineType() PipelineType { return TypePretix }
func (o *PretixOptions) Feed() FeedOptions { return o.FeedOptions }
func (o *PretixOptions) Tickets() []ManualTicket { return o.ManualTickets }
func (o *PretixOptions) SetTickets(t []ManualTicket) { o.ManualTickets = t }
func (o *PretixOptions) Rules() []AutoIssuanceRule { return o.AutoIssuance }
func (*PretixOptions) isOptions() {}

// LemonadeTicketType maps one external ticket type.
type LemonadeTicketType struct {
	GenericIssuanceProductID string `json:"genericIssuanceProductId"`
	ExternalID               string `json:"externalId"`
	Name                     string `json:"name"`
	IsCheckinAllowed         bool   `json:"isCheckinAllowed,omitempty"`
}

// LemonadeEvent maps one external event and its ticket types.
type LemonadeEvent struct {
	GenericIssuanceEventID string               `json:"genericIssuanceEventId"`
	ExternalID             string               `json:"externalId"`
	Name                   string               `json:"name"`
	TicketTypes            []LemonadeTicketType `json:"ticketTypes"`
}

// LemonadeOptions configures a Lemonade-backed pipeline.
type LemonadeOptions struct {
	Paused            bool               `json:"paused,omitempty"`
	OAuthAudience     string             `json:"oauthAudience"`
	OAuthClientID     string             `json:"oauthClientId"`
	OAuthClientSecret string             `json:"oauthClientSecret"`
	OAuthServerURL    string             `json:"oauthServerUrl"`
	BackendURL        string             `json:"backendUrl"`
	Events            []LemonadeEvent    `json:"events"`
	FeedOptions       FeedOptions        `json:"feedOptions"`
	ManualTickets     []ManualTicket     `json:"manualTickets,omitempty"`
	AutoIssuance      []AutoIssuanceRule `json:"autoIssuance,omitempty"`
}

func (*LemonadeOptions) PipelineType() PipelineType { return TypeLemonade }
func (o *LemonadeOptions) Feed() FeedOptions { return o.FeedOptions }
func (o *LemonadeOptions) Tickets() []ManualTicket { return o.ManualTickets }
func (o *LemonadeOptions) SetTickets(t []ManualTicket) { o.ManualTickets = t }
func (o *LemonadeOptions) Rules() []AutoIssuanceRule { return o.AutoIssuance }
func (*LemonadeOptions) isOptions() {}

// CSVOutputType selects what a CSV pipeline issues per row.
type CSVOutputType string

const (
	CSVOutputMessage CSVOutputType = "Message"
	CSVOutputTicket  CSVOutputType = "Ticket"
)

// CSVOptions configures a pipeline fed from inline CSV.
type CSVOptions struct {
	Paused      bool          `json:"paused,omitempty"`
	CSV         string        `json:"csv"`
	OutputType  CSVOutputType `json:"outputType,omitempty"`
	FeedOptions FeedOptions   `json:"feedOptions"`
}

func (*CSVOptions) PipelineType() PipelineType { return TypeCSV }
func (o *CSVOptions) Feed() FeedOptions { return o.FeedOptions }
func (*CSVOptions) isOptions() {}

// ParseOptions strictly decodes raw into the variant for t. Unknown fields
// are rejected.
func ParseOptions(t PipelineType, raw []byte) (Options, error) {
	var opts Options
	switch t {
	case TypePretix:
		opts = &PretixOptions{}
	case TypeLemonade:
		opts = &LemonadeOptions{}
	case TypeCSV:
		opts = &CSVOptions{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: %s options are empty", ErrInvalidDefinition, t)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(opts); err != nil {
		return nil, fmt.Errorf("%w: %s options: %v", ErrInvalidDefinition, t, err)
	}

	if to, ok := opts.(TicketingOptions); ok {
		for i, rule := range to.Rules() {
			if err := rule.Validate(); err != nil {
				return nil, fmt.Errorf("%w: autoIssuance[%d]: %v", ErrInvalidDefinition, i, err)
			}
		}
	}
	return opts, nil
}
