// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package feed manages client-side feed subscriptions: providers, the feeds
// they list, and credentialed polling with per-subscription error state.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omahs/zupass/internal/credential"
)

// Feed is one feed offered by a provider.
type Feed struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description,omitempty"`
	PartialFolder     string             `json:"partialFolder,omitempty"`
	CredentialRequest credential.Request `json:"credentialRequest"`
}

// ListFeedsResponse is the body of a feed listing.
type ListFeedsResponse struct {
	ProviderName string `json:"providerName,omitempty"`
	ProviderURL  string `json:"providerUrl,omitempty"`
	Feeds        []Feed `json:"feeds"`
}

// PollRequest asks a provider for the current contents of a feed.
type PollRequest struct {
	FeedID     string                `json:"feedId"`
	Credential credential.Credential `json:"pcd"`
}

// ActionType names what a poll action does to the client's folders.
type ActionType string

const (
	ActionReplaceInFolder ActionType = "ReplaceInFolder_action"
	ActionAppendToFolder  ActionType = "AppendToFolder_action"
	ActionDeleteFolder    ActionType = "DeleteFolder_action"
)

// Action is one instruction in a poll response.
type Action struct {
	Type   ActionType        `json:"type"`
	Folder string            `json:"folder"`
	Items  []json.RawMessage `json:"pcds,omitempty"`
}

// PollResponse is the body of a successful poll.
type PollResponse struct {
	Actions []Action `json:"actions"`
}

// Validate rejects responses that must not be applied.
func (r *PollResponse) Validate() error {
	if r == nil {
		return errors.New("empty poll response")
	}
	for i, a := range r.Actions {
		switch a.Type {
		case ActionReplaceInFolder, ActionAppendToFolder, ActionDeleteFolder:
		default:
			return fmt.Errorf("action %d: unknown type %q", i, a.Type)
		}
		if a.Folder == "" {
			return fmt.Errorf("action %d: folder is required", i)
		}
	}
	return nil
}

// API is the transport to feed providers.
type API interface {
	ListFeeds(ctx context.Context, providerURL string) (*ListFeedsResponse, error)
	PollFeed(ctx context.Context, providerURL string, req PollRequest) (*PollResponse, error)
}

// Provider is a registered feed source.
type Provider struct {
	URL  string `json:"providerUrl"`
	Name string `json:"providerName"`
}

// Subscription ties a provider feed to this client.
type Subscription struct {
	ID           string    `json:"id"`
	ProviderURL  string    `json:"providerUrl"`
	Feed         Feed      `json:"feed"`
	SubscribedAt time.Time `json:"subscribedTimestamp"`
}
