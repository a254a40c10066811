// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/omahs/zupass/internal/log"
	"github.com/stretchr/testify/assert"
)

func TestStack_RequestIDAndUser(t *testing.T) {
	r := chi.NewRouter()
	ApplyStack(r, StackConfig{EnableMetrics: true, EnableLogging: true, TracingService: "test"})
	var gotReq, gotUser string
	r.Get("/api/pipelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotReq = log.RequestIDFromContext(r.Context())
		gotUser = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/pipelines/p1", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set(HeaderUserID, "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-1", gotReq)
	assert.Equal(t, "alice", gotUser)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pipelines/p1", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID), "an id is assigned")
	assert.Empty(t, gotUser)
}

func TestRecoverer(t *testing.T) {
	h := RequestID(Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}
