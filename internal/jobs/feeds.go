// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/omahs/zupass/internal/credential"
	"github.com/omahs/zupass/internal/feed"
	"github.com/omahs/zupass/internal/feed/host"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/pipeline/atoms"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/omahs/zupass/internal/pipeline/store"
	"github.com/rs/zerolog"
)

// Ticket is one entitlement as served to a feed subscriber.
type Ticket struct {
	ID            string `json:"id"`
	AttendeeEmail string `json:"attendeeEmail"`
	AttendeeName  string `json:"attendeeName"`
	EventID       string `json:"eventId"`
	ProductID     string `json:"productId"`
	Manual        bool   `json:"isManual,omitempty"`
}

// TicketFeeds publishes one feed per pipeline on a Host. Every feed asks
// for an email proof and answers with the tickets held by that email.
type TicketFeeds struct {
	host        *host.Host
	definitions store.DefinitionStore
	atoms       atoms.Cache
	logger      zerolog.Logger

	mu         sync.Mutex
	registered map[string]string // feed id -> pipeline id
}

func NewTicketFeeds(h *host.Host, defs store.DefinitionStore, cache atoms.Cache) *TicketFeeds {
	return &TicketFeeds{
		host:        h,
		definitions: defs,
		atoms:       cache,
		logger:      log.WithComponent("ticket_feeds"),
		registered:  make(map[string]string),
	}
}

// Sync registers feeds for stored pipelines and drops feeds whose
// pipeline is gone. Pipelines with undecodable options or no feed id are
// skipped.
func (f *TicketFeeds) Sync(ctx context.Context) error {
	defs, err := f.definitions.LoadDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]string, len(defs))
	for _, def := range defs {
		opts, err := def.ParseOptions()
		if err != nil {
			f.logger.Warn().Err(err).Str(log.FieldPipelineID, def.ID).Msg("skipping pipeline feed")
			continue
		}
		fo := opts.Feed()
		if fo.FeedID == "" {
			continue
		}
		if owner, dup := seen[fo.FeedID]; dup {
			f.logger.Warn().
				Str(log.FieldPipelineID, def.ID).
				Str(log.FieldFeedID, fo.FeedID).
				Str("claimed_by", owner).
				Msg("feed id already in use")
			continue
		}
		seen[fo.FeedID] = def.ID
		err = f.host.Register(host.Registration{
			Feed: feed.Feed{
				ID:                fo.FeedID,
				Name:              fo.FeedDisplayName,
				Description:       fo.FeedDescription,
				PartialFolder:     fo.FeedFolder,
				CredentialRequest: credential.Request{IncludeEmail: true},
			},
			PipelineID: def.ID,
			Handler:    f.handler(def.ID, folderFor(fo)),
		})
		if err != nil {
			return err
		}
	}
	for feedID := range f.registered {
		if _, ok := seen[feedID]; !ok {
			f.host.Unregister(feedID)
		}
	}
	f.registered = seen
	return nil
}

// SyncFeeds adapts TicketFeeds.Sync to a loop job.
func SyncFeeds(f *TicketFeeds) Func {
	return f.Sync
}

func folderFor(fo model.FeedOptions) string {
	if fo.FeedFolder != "" {
		return fo.FeedFolder
	}
	if fo.FeedDisplayName != "" {
		return fo.FeedDisplayName
	}
	return fo.FeedID
}

func (f *TicketFeeds) handler(pipelineID, folder string) host.Handler {
	return func(ctx context.Context, req host.Request) (*feed.PollResponse, error) {
		tickets, err := f.ticketsFor(ctx, pipelineID, req.Credential.Email)
		if err != nil {
			return nil, err
		}
		items := make([]json.RawMessage, 0, len(tickets))
		for _, t := range tickets {
			raw, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			items = append(items, raw)
		}
		return &feed.PollResponse{Actions: []feed.Action{
			{Type: feed.ActionDeleteFolder, Folder: folder},
			{Type: feed.ActionReplaceInFolder, Folder: folder, Items: items},
		}}, nil
	}
}

// ticketsFor returns the ingested and manual tickets of email. Emails
// compare case-insensitively.
func (f *TicketFeeds) ticketsFor(ctx context.Context, pipelineID, email string) ([]Ticket, error) {
	def, err := f.definitions.GetDefinition(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	opts, err := def.ParseOptions()
	if err != nil {
		return nil, err
	}
	loaded, err := f.atoms.Load(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	var out []Ticket
	for _, a := range loaded {
		t, err := a.DecodeTicket()
		if err != nil || !strings.EqualFold(t.Email, email) {
			continue
		}
		out = append(out, Ticket{ID: t.ID, AttendeeEmail: t.Email, AttendeeName: t.Name, EventID: t.EventID, ProductID: t.ProductID})
	}
	if ticketing, ok := opts.(model.TicketingOptions); ok {
		for _, m := range ticketing.Tickets() {
			if !strings.EqualFold(m.AttendeeEmail, email) {
				continue
			}
			out = append(out, Ticket{
				ID:            m.ID,
				AttendeeEmail: m.AttendeeEmail,
				AttendeeName:  m.AttendeeName,
				EventID:       m.EventID,
				ProductID:     m.ProductID,
				Manual:        true,
			})
		}
	}
	return out, nil
}
