// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package host

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/omahs/zupass/internal/credential"
	"github.com/omahs/zupass/internal/feed"
	"github.com/omahs/zupass/internal/log"
)

const maxPollBody = 1 << 20

// Routes mounts GET /feeds and POST /feeds/{feedID}/poll.
func (h *Host) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/feeds", h.handleListFeeds)
	r.Post("/feeds/{feedID}/poll", h.handlePoll)
	return r
}

func (h *Host) handleListFeeds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ListFeeds())
}

func (h *Host) handlePoll(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")

	var req feed.PollRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPollBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, problem{Error: "invalid poll request"})
		return
	}
	if req.FeedID != "" && req.FeedID != feedID {
		writeJSON(w, http.StatusBadRequest, problem{Error: "feed id mismatch"})
		return
	}

	resp, err := h.Poll(r.Context(), feedID, req.Credential)
	if err != nil {
		status, body := classify(err)
		if status == http.StatusInternalServerError {
			logger := log.WithContext(r.Context(), h.logger)
			logger.Error().
				Str(log.FieldEvent, "feed_host.poll_error").
				Str(log.FieldFeedID, feedID).
				Err(err).
				Msg("poll failed")
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type problem struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func classify(err error) (int, problem) {
	switch {
	case errors.Is(err, feed.ErrFeedNotFound):
		return http.StatusNotFound, problem{Error: "feed not found"}
	case credential.IsAuthFailure(err):
		reason := string(credential.ReasonOf(err))
		if reason == "" {
			reason = "MalformedPayload"
		}
		return http.StatusUnauthorized, problem{Error: "invalid credential", Reason: reason}
	case errors.Is(err, feed.ErrUnauthorized):
		return http.StatusUnauthorized, problem{Error: err.Error()}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, problem{Error: "too many requests"}
	default:
		return http.StatusInternalServerError, problem{Error: "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
