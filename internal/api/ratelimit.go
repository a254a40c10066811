// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/omahs/zupass/internal/ratelimit"
)

type consumeRequest struct {
	ActionType string            `json:"actionType"`
	ActionID   string            `json:"actionId"`
	Policy     *ratelimit.Policy `json:"policy,omitempty"`
}

type consumeResponse struct {
	Allowed bool             `json:"allowed"`
	Bucket  ratelimit.Bucket `json:"bucket"`
}

// handleConsume takes one token for (actionType, actionId). A request
// policy overrides the configured one for that call.
func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	if _, err := requireUser(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req consumeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.ActionType == "" || req.ActionID == "" {
		s.writeError(w, r, fmt.Errorf("%w: actionType and actionId are required", errBadRequest))
		return
	}

	policy, ok := s.deps.Limiter.Policy(req.ActionType)
	if req.Policy != nil {
		policy, ok = *req.Policy, true
	}
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, ratelimit.ErrUnknownAction))
		return
	}

	b, err := s.deps.Limiter.Consume(r.Context(), req.ActionType, req.ActionID, policy)
	if errors.Is(err, ratelimit.ErrInvalidPolicy) {
		s.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, consumeResponse{Allowed: b.Allowed(), Bucket: b})
}
