// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/omahs/zupass/internal/feed"
)

// LocalAPI implements feed.API against in-process hosts, keyed by the url
// they advertise. It lets a client and a host share one process.
type LocalAPI struct {
	mu    sync.RWMutex
	hosts map[string]*Host
}

func NewLocalAPI(hosts ...*Host) *LocalAPI {
	a := &LocalAPI{hosts: make(map[string]*Host)}
	for _, h := range hosts {
		a.Add(h)
	}
	return a
}

// Add registers h under h.URL().
func (a *LocalAPI) Add(h *Host) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hosts[h.URL()] = h
}

func (a *LocalAPI) lookup(providerURL string) (*Host, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.hosts[providerURL]
	if !ok {
		return nil, fmt.Errorf("%w: %s", feed.ErrUnknownProvider, providerURL)
	}
	return h, nil
}

func (a *LocalAPI) ListFeeds(_ context.Context, providerURL string) (*feed.ListFeedsResponse, error) {
	h, err := a.lookup(providerURL)
	if err != nil {
		return nil, err
	}
	return h.ListFeeds(), nil
}

func (a *LocalAPI) PollFeed(ctx context.Context, providerURL string, req feed.PollRequest) (*feed.PollResponse, error) {
	h, err := a.lookup(providerURL)
	if err != nil {
		return nil, err
	}
	return h.Poll(ctx, req.FeedID, req.Credential)
}
