// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/omahs/zupass/internal/pipeline/store"
)

var (
	errUnauthenticated = errors.New("missing X-User-ID header")
	errForbidden       = errors.New("forbidden")
	errRateLimited     = errors.New("too many requests")
	errBadRequest      = errors.New("bad request")
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code. Unexpected errors are logged
// and answered with a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, errUnauthenticated):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, errForbidden):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, errRateLimited):
		status, msg = http.StatusTooManyRequests, err.Error()
	case errors.Is(err, errBadRequest),
		errors.Is(err, model.ErrInvalidDefinition),
		errors.Is(err, model.ErrUnknownType):
		status, msg = http.StatusBadRequest, err.Error()
	default:
		logger := log.WithContext(r.Context(), s.logger)
		logger.Error().
			Str(log.FieldEvent, "api.error").
			Str(log.FieldPath, r.URL.Path).
			Err(err).
			Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
