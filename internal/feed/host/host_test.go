// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package host

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/credential"
	"github.com/omahs/zupass/internal/feed"
	"github.com/omahs/zupass/internal/issuance"
	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/omahs/zupass/internal/proof"
	"github.com/omahs/zupass/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostURL = "https://host.example.com"

var (
	clientTime = time.Date(2023, 11, 5, 14, 30, 0, 0, time.UTC)
	serverTime = time.Date(2023, 11, 5, 15, 30, 0, 0, time.UTC)
)

func identity(t *testing.T, b byte) *proof.Identity {
	t.Helper()
	id, err := proof.IdentityFromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return id
}

func ticketsFeed(ctx context.Context, req Request) (*feed.PollResponse, error) {
	return &feed.PollResponse{Actions: []feed.Action{{
		Type:   feed.ActionReplaceInFolder,
		Folder: "Tickets",
		Items:  []json.RawMessage{json.RawMessage(`{"owner":"` + req.Credential.SemaphoreID + `"}`)},
	}}}, nil
}

func newHost(t *testing.T, server clock.Clock, opts ...Option) *Host {
	t.Helper()
	v := credential.NewVerifier(credential.WithClock(server), credential.WithClockSkewTolerance(time.Minute))
	h := New("Example", hostURL, v, opts...)
	require.NoError(t, h.Register(Registration{Feed: feed.Feed{ID: "tickets", Name: "Tickets"}, Handler: ticketsFeed}))
	return h
}

func TestHost_ClockSkewScenario(t *testing.T) {
	serverClock := clock.NewFake(serverTime)
	clientClock := clock.NewFake(clientTime)
	h := newHost(t, serverClock)

	m := feed.NewManager(NewLocalAPI(h), feed.WithClock(clientClock))
	m.AddProvider(hostURL, "Example")
	sub, err := m.Subscribe(hostURL, feed.Feed{ID: "tickets"})
	require.NoError(t, err)
	producer := credential.NewManager(identity(t, 1), credential.WithManagerClock(clientClock))

	m.PollSubscriptions(context.Background(), producer)
	fe := m.Error(sub.ID)
	require.NotNil(t, fe)
	assert.Equal(t, feed.ErrorTypeFetch, fe.Type())
	assert.ErrorIs(t, fe, credential.ErrTimestampOutOfBounds)
	assert.True(t, feed.IsAuthError(fe))

	clientClock.Set(serverTime)
	results := m.PollSubscriptions(context.Background(), producer)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Nil(t, m.Error(sub.ID))
	assert.Len(t, results[0].Response.Actions, 1)
}

func TestHost_SkewBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		ok     bool
	}{
		{"exact", 0, true},
		{"client one minute behind", -time.Minute, true},
		{"client one minute ahead", time.Minute, true},
		{"client just over a minute behind", -(time.Minute + time.Second), false},
		{"client just over a minute ahead", time.Minute + time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost(t, clock.NewFake(serverTime))
			cred, err := credential.NewManager(identity(t, 1),
				credential.WithManagerClock(clock.NewFake(serverTime.Add(tt.offset)))).
				Credential(context.Background(), credential.Request{})
			require.NoError(t, err)

			_, err = h.Poll(context.Background(), "tickets", cred)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, credential.ErrTimestampOutOfBounds)
			}
		})
	}
}

func TestHost_UnknownFeed(t *testing.T) {
	h := newHost(t, clock.NewFake(serverTime))
	_, err := h.Poll(context.Background(), "nope", credential.Credential{})
	assert.ErrorIs(t, err, feed.ErrFeedNotFound)
}

func TestHost_RequiresEmailWhenRequested(t *testing.T) {
	fake := clock.NewFake(serverTime)
	h := newHost(t, fake)
	require.NoError(t, h.Register(Registration{
		Feed:    feed.Feed{ID: "private", CredentialRequest: credential.Request{IncludeEmail: true}},
		Handler: ticketsFeed,
	}))

	cred, err := credential.NewManager(identity(t, 1), credential.WithManagerClock(fake)).
		Credential(context.Background(), credential.Request{})
	require.NoError(t, err)

	_, err = h.Poll(context.Background(), "private", cred)
	assert.ErrorIs(t, err, ErrEmailRequired)
	assert.ErrorIs(t, err, feed.ErrUnauthorized)
}

func TestHost_RecordsConsumers(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(serverTime)
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "host.sqlite"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	consumers, err := issuance.NewSqliteConsumers(ctx, db, fake)
	require.NoError(t, err)

	issuerKey := identity(t, 9)
	issuer := proof.NewEmailIssuer(issuerKey)
	h := New("Example", hostURL,
		credential.NewVerifier(credential.WithClock(fake)),
		WithConsumerRecorder(consumers),
		WithTrust(credential.TrustKeys(issuer.PublicKey())))
	require.NoError(t, h.Register(Registration{
		Feed:       feed.Feed{ID: "tickets", CredentialRequest: credential.Request{IncludeEmail: true}},
		PipelineID: "p1",
		Handler:    ticketsFeed,
	}))

	id := identity(t, 1)
	email, err := issuer.Issue("alice@example.com", id.Commitment())
	require.NoError(t, err)
	cred, err := credential.NewManager(id, credential.WithManagerClock(fake), credential.WithEmailProof(email)).
		Credential(ctx, credential.Request{IncludeEmail: true})
	require.NoError(t, err)

	_, err = h.Poll(ctx, "tickets", cred)
	require.NoError(t, err)

	all, err := consumers.LoadAll(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alice@example.com", all[0].Email)
	assert.Equal(t, id.Commitment(), all[0].SemaphoreID)
}

func TestHost_RateLimitsPerIdentity(t *testing.T) {
	fake := clock.NewFake(serverTime)
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), map[string]ratelimit.Policy{
		ratelimit.ActionFeedPoll: {StartingActions: 2, MaxActions: 2, TimePeriod: time.Hour},
	}, ratelimit.WithClock(fake))
	require.NoError(t, err)
	h := newHost(t, fake, WithRateLimiter(limiter))

	alice, err := credential.NewManager(identity(t, 1), credential.WithManagerClock(fake)).Credential(context.Background(), credential.Request{})
	require.NoError(t, err)
	bob, err := credential.NewManager(identity(t, 2), credential.WithManagerClock(fake)).Credential(context.Background(), credential.Request{})
	require.NoError(t, err)

	for range 2 {
		_, err = h.Poll(context.Background(), "tickets", alice)
		require.NoError(t, err)
	}
	_, err = h.Poll(context.Background(), "tickets", alice)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = h.Poll(context.Background(), "tickets", bob)
	assert.NoError(t, err)
}

func TestHost_ListAndUnregister(t *testing.T) {
	h := newHost(t, clock.NewFake(serverTime))
	require.NoError(t, h.Register(Registration{Feed: feed.Feed{ID: "second"}, Handler: ticketsFeed}))
	assert.Error(t, h.Register(Registration{Feed: feed.Feed{ID: "x"}}))
	assert.Error(t, h.Register(Registration{Handler: ticketsFeed}))

	list := h.ListFeeds()
	assert.Equal(t, "Example", list.ProviderName)
	assert.Equal(t, hostURL, list.ProviderURL)
	require.Len(t, list.Feeds, 2)
	assert.Equal(t, "tickets", list.Feeds[0].ID)

	h.Unregister("tickets")
	h.Unregister("tickets")
	list = h.ListFeeds()
	require.Len(t, list.Feeds, 1)
	assert.Equal(t, "second", list.Feeds[0].ID)
}

func TestHost_HTTPRoundTrip(t *testing.T) {
	serverClock := clock.NewFake(serverTime)
	h := newHost(t, serverClock)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	client := feed.NewHTTPClient(feed.HTTPOptions{})
	list, err := client.ListFeeds(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, list.Feeds, 1)

	stale, err := credential.NewManager(identity(t, 1), credential.WithManagerClock(clock.NewFake(clientTime))).
		Credential(context.Background(), credential.Request{})
	require.NoError(t, err)
	_, err = client.PollFeed(context.Background(), srv.URL, feed.PollRequest{FeedID: "tickets", Credential: stale})
	assert.ErrorIs(t, err, feed.ErrUnauthorized)

	fresh, err := credential.NewManager(identity(t, 1), credential.WithManagerClock(serverClock)).
		Credential(context.Background(), credential.Request{})
	require.NoError(t, err)
	resp, err := client.PollFeed(context.Background(), srv.URL, feed.PollRequest{FeedID: "tickets", Credential: fresh})
	require.NoError(t, err)
	assert.Len(t, resp.Actions, 1)

	_, err = client.PollFeed(context.Background(), srv.URL, feed.PollRequest{FeedID: "missing", Credential: fresh})
	assert.ErrorIs(t, err, feed.ErrFeedNotFound)
}

func TestHost_HTTPRejectsBadBodies(t *testing.T) {
	h := newHost(t, clock.NewFake(serverTime))
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	for _, body := range []string{`{`, `{"feedId":"other","pcd":{}}`, `{"feedId":"tickets","extra":1}`} {
		resp, err := http.Post(srv.URL+"/feeds/tickets/poll", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestHost_HTTPReportsReason(t *testing.T) {
	h := newHost(t, clock.NewFake(serverTime))
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	body := `{"feedId":"tickets","pcd":{"type":"unknown-pcd","pcd":"AA=="}}`
	resp, err := http.Post(srv.URL+"/feeds/tickets/poll", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var p problem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, string(credential.ReasonInvalidCredentialType), p.Reason)
}
