// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/omahs/zupass/internal/api/middleware"
	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/credential"
	"github.com/omahs/zupass/internal/feed/host"
	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/omahs/zupass/internal/pipeline/atoms"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/omahs/zupass/internal/pipeline/store"
	"github.com/omahs/zupass/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRunner struct {
	calls []string
	err   error
}

func (f *fakeRunner) Run(_ context.Context, id string) (*model.LoadSummary, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return &model.LoadSummary{LastRunStartTimestamp: epoch, LastRunEndTimestamp: epoch, Success: true}, nil
}

type fixture struct {
	handler   http.Handler
	store     *store.SqliteStore
	summaries *store.MemorySummaryStore
	atoms     *atoms.MemoryCache
	runner    *fakeRunner
}

func newFixture(t *testing.T, policies map[string]ratelimit.Policy, health ...HealthCheck) *fixture {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.sqlite"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := clock.NewFake(epoch)
	s, err := store.NewSqliteStore(context.Background(), db, store.WithClock(fake))
	require.NoError(t, err)
	if policies == nil {
		policies = ratelimit.DefaultPolicies()
	}
	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), policies, ratelimit.WithClock(fake))
	require.NoError(t, err)

	f := &fixture{
		store:     s,
		summaries: store.NewMemorySummaryStore(),
		atoms:     atoms.NewMemoryCache(),
		runner:    &fakeRunner{},
	}
	srv := New(Deps{
		Pipelines: s,
		Summaries: f.summaries,
		Atoms:     f.atoms,
		Limiter:   limiter,
		FeedHost:  host.New("Zupass", "http://localhost/", credential.NewVerifier(credential.WithClock(fake))),
		Runner:    f.runner,
		Health:    health,
	})
	f.handler = srv.Handler(middleware.StackConfig{})
	return f
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func csvDefinition(id, owner string, editors ...string) model.Definition {
	return model.Definition{
		ID:            id,
		OwnerUserID:   owner,
		EditorUserIDs: editors,
		Type:          model.TypeCSV,
		Options:       json.RawMessage(fmt.Sprintf(`{"csv":"a,b","feedOptions":{"feedId":"%s","feedDisplayName":"feed"}}`, id)),
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestPipelines_RequireUser(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/pipelines/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPutPipeline_CreateAndRead(t *testing.T) {
	f := newFixture(t, nil)

	def := csvDefinition("", "")
	w := f.do(t, http.MethodPut, "/api/pipelines/p1", "alice", def)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stored := decode[model.Definition](t, w)
	assert.Equal(t, "p1", stored.ID)
	assert.Equal(t, "alice", stored.OwnerUserID, "creator owns the pipeline")
	assert.Equal(t, epoch, stored.TimeCreated)

	w = f.do(t, http.MethodGet, "/api/pipelines/p1", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode[model.Definition](t, w).OwnerUserID)

	w = f.do(t, http.MethodGet, "/api/pipelines/p1", "mallory", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "hidden from strangers")

	w = f.do(t, http.MethodGet, "/api/pipelines/", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Definition](t, w), 1)

	w = f.do(t, http.MethodGet, "/api/pipelines/", "mallory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]model.Definition](t, w))
}

func TestPutPipeline_Rejections(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"id mismatch", "/api/pipelines/p1", csvDefinition("p2", "alice"), http.StatusBadRequest},
		{"unknown field", "/api/pipelines/p1", `{"id":"p1","bogus":true}`, http.StatusBadRequest},
		{"malformed json", "/api/pipelines/p1", `{`, http.StatusBadRequest},
		{"foreign owner", "/api/pipelines/p1", csvDefinition("p1", "bob"), http.StatusForbidden},
		{"invalid options", "/api/pipelines/p1", model.Definition{ID: "p1", Type: model.TypeCSV, Options: json.RawMessage(`{"csv":1}`)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPut, tt.path, "alice", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestPutPipeline_EditorPermissions(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.store.UpsertDefinition(context.Background(), csvDefinition("p1", "alice", "bob"), "alice")
	require.NoError(t, err)

	w := f.do(t, http.MethodPut, "/api/pipelines/p1", "bob", csvDefinition("p1", "alice", "bob"))
	assert.Equal(t, http.StatusOK, w.Code, "editors may update options")

	w = f.do(t, http.MethodPut, "/api/pipelines/p1", "bob", csvDefinition("p1", "alice", "bob", "carol"))
	assert.Equal(t, http.StatusForbidden, w.Code, "editors may not change the editor set")

	w = f.do(t, http.MethodPut, "/api/pipelines/p1", "bob", csvDefinition("p1", "bob", "bob"))
	assert.Equal(t, http.StatusForbidden, w.Code, "editors may not take ownership")

	w = f.do(t, http.MethodPut, "/api/pipelines/p1", "alice", csvDefinition("p1", "alice", "carol"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPut, "/api/pipelines/p1", "bob", csvDefinition("p1", "alice"))
	assert.Equal(t, http.StatusNotFound, w.Code, "removed editors lose access")

	w = f.do(t, http.MethodDelete, "/api/pipelines/p1", "carol", nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the owner deletes")
}

func TestPutPipeline_RateLimited(t *testing.T) {
	f := newFixture(t, map[string]ratelimit.Policy{
		ratelimit.ActionPipelineUpsert: {StartingActions: 1, MaxActions: 1, TimePeriod: time.Hour},
	})
	w := f.do(t, http.MethodPut, "/api/pipelines/p1", "alice", csvDefinition("p1", "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPut, "/api/pipelines/p1", "alice", csvDefinition("p1", "alice"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)
	for range 3 {
		w := f.do(t, http.MethodPut, "/api/pipelines/p1", "alice", csvDefinition("p1", "alice"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/pipelines/p1/history", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]model.HistoryEntry](t, w), "no max, no entries")

	w = f.do(t, http.MethodGet, "/api/pipelines/p1/history?max=2", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.HistoryEntry](t, w), 2)

	w = f.do(t, http.MethodGet, "/api/pipelines/p1/history?max=-1", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePipeline_ClearsAtomsAndSummary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.UpsertDefinition(ctx, csvDefinition("p1", "alice"), "alice")
	require.NoError(t, err)
	require.NoError(t, f.atoms.Save(ctx, "p1", []model.Atom{{ID: "a1", PipelineID: "p1", Payload: json.RawMessage(`{}`)}}))
	require.NoError(t, f.summaries.SaveLoadSummary(ctx, "p1", &model.LoadSummary{AtomsLoaded: 1, Success: true}))

	w := f.do(t, http.MethodGet, "/api/pipelines/p1/atoms", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Atom](t, w), 1)

	w = f.do(t, http.MethodDelete, "/api/pipelines/p1", "alice", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	left, err := f.atoms.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = f.store.GetDefinition(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// A pipeline recreated under the same id starts without a summary.
	_, err = f.store.UpsertDefinition(ctx, csvDefinition("p1", "alice"), "alice")
	require.NoError(t, err)
	w = f.do(t, http.MethodGet, "/api/pipelines/p1/summary", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSummaryAndRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.UpsertDefinition(ctx, csvDefinition("p1", "alice"), "alice")
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/pipelines/p1/summary", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no run yet")

	require.NoError(t, f.summaries.SaveLoadSummary(ctx, "p1", &model.LoadSummary{AtomsLoaded: 4, Success: true}))
	w = f.do(t, http.MethodGet, "/api/pipelines/p1/summary", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, decode[model.LoadSummary](t, w).AtomsLoaded)

	w = f.do(t, http.MethodPost, "/api/pipelines/p1/run", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[model.LoadSummary](t, w).Success)
	assert.Equal(t, []string{"p1"}, f.runner.calls)

	f.runner.err = errors.New("upstream down")
	w = f.do(t, http.MethodPost, "/api/pipelines/p1/run", "alice", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "upstream down", "internal errors are not echoed")
}

func TestConsume(t *testing.T) {
	f := newFixture(t, nil)

	body := map[string]any{
		"actionType": "custom",
		"actionId":   "id-1",
		"policy":     map[string]any{"startingActions": 1, "maxActions": 1, "timePeriodMs": 60000},
	}
	w := f.do(t, http.MethodPost, "/api/ratelimit/consume", "alice", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[consumeResponse](t, w)
	assert.True(t, resp.Allowed)
	assert.InDelta(t, 0, resp.Bucket.Remaining, 1e-9)

	w = f.do(t, http.MethodPost, "/api/ratelimit/consume", "alice", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[consumeResponse](t, w).Allowed)

	w = f.do(t, http.MethodPost, "/api/ratelimit/consume", "alice", map[string]any{"actionType": ratelimit.ActionCheckin, "actionId": "id-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[consumeResponse](t, w).Allowed, "configured policy applies")

	w = f.do(t, http.MethodPost, "/api/ratelimit/consume", "alice", map[string]any{"actionType": "custom", "actionId": "id-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown action without a policy")

	body["policy"] = map[string]any{"startingActions": 5, "maxActions": 1, "timePeriodMs": 60000}
	w = f.do(t, http.MethodPost, "/api/ratelimit/consume", "alice", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, "invalid policy")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, HealthCheck{Name: "db", Check: func(context.Context) error { return nil }})
	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, w).Status)

	f = newFixture(t, nil, HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("dial tcp: refused") }})
	w = f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[healthResponse](t, w)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "dial tcp: refused", resp.Checks["redis"])
}

func TestFeedHostMounted(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/feeds", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
