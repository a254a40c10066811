// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/omahs/zupass/internal/api/middleware"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/omahs/zupass/internal/pipeline/store"
	"github.com/omahs/zupass/internal/ratelimit"
)

const maxDefinitionBody = 4 << 20

func requireUser(r *http.Request) (string, error) {
	id := middleware.UserIDFromContext(r.Context())
	if id == "" {
		return "", errUnauthenticated
	}
	return id, nil
}

func canView(def *model.Definition, userID string) bool {
	return def.OwnerUserID == userID || slices.Contains(def.EditorUserIDs, userID)
}

// loadVisible returns the pipeline if userID may see it. Pipelines the
// caller cannot see are reported as missing.
func (s *Server) loadVisible(ctx context.Context, id, userID string) (*model.Definition, error) {
	def, err := s.deps.Pipelines.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(def, userID) {
		return nil, store.ErrNotFound
	}
	return def, nil
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defs, err := s.deps.Pipelines.LoadDefinitions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	visible := make([]model.Definition, 0, len(defs))
	for i := range defs {
		if canView(&defs[i], user) {
			visible = append(visible, defs[i])
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	def, err := s.loadVisible(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// handlePutPipeline creates or updates a pipeline. Creators become owners.
// Editors may change options; only the owner may change ownership or the
// editor set.
func (s *Server) handlePutPipeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")

	var def model.Definition
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDefinitionBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if def.ID == "" {
		def.ID = id
	}
	if def.ID != id {
		s.writeError(w, r, fmt.Errorf("%w: id does not match path", errBadRequest))
		return
	}

	existing, err := s.deps.Pipelines.GetDefinition(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if def.OwnerUserID == "" {
			def.OwnerUserID = user
		}
		if def.OwnerUserID != user {
			s.writeError(w, r, fmt.Errorf("%w: new pipelines are owned by their creator", errForbidden))
			return
		}
	case err != nil:
		s.writeError(w, r, err)
		return
	default:
		if !canView(existing, user) {
			s.writeError(w, r, store.ErrNotFound)
			return
		}
		if def.OwnerUserID == "" {
			def.OwnerUserID = existing.OwnerUserID
		}
		if def.EditorUserIDs == nil {
			def.EditorUserIDs = existing.EditorUserIDs
		}
		if existing.OwnerUserID != user &&
			(def.OwnerUserID != existing.OwnerUserID || !slices.Equal(def.Editors(), existing.Editors())) {
			s.writeError(w, r, fmt.Errorf("%w: only the owner may change owner or editors", errForbidden))
			return
		}
	}

	if s.deps.Limiter != nil {
		allowed, err := s.deps.Limiter.Take(ctx, ratelimit.ActionPipelineUpsert, user)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !allowed {
			s.writeError(w, r, errRateLimited)
			return
		}
	}

	stored, err := s.deps.Pipelines.UpsertDefinition(ctx, def, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logger := log.WithContext(ctx, s.logger)
	logger.Info().
		Str(log.FieldEvent, "pipeline.saved").
		Str(log.FieldPipelineID, id).
		Str(log.FieldEditorID, user).
		Msg("pipeline saved")
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	def, err := s.loadVisible(ctx, chi.URLParam(r, "id"), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if def.OwnerUserID != user {
		s.writeError(w, r, fmt.Errorf("%w: only the owner may delete a pipeline", errForbidden))
		return
	}
	if err := s.deps.Pipelines.DeleteDefinition(ctx, def.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Atoms != nil {
		if err := s.deps.Atoms.Clear(ctx, def.ID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := s.deps.Summaries.SaveLoadSummary(ctx, def.ID, nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory returns the most recent entries, up to ?max=N. Without
// max nothing is returned.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("max"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, fmt.Errorf("%w: max must be a non-negative integer", errBadRequest))
			return
		}
	}
	def, err := s.loadVisible(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.deps.Pipelines.EditHistory(r.Context(), def.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	def, err := s.loadVisible(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.deps.Summaries.LastLoadSummary(r.Context(), def.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if summary == nil {
		s.writeError(w, r, store.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAtoms(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	def, err := s.loadVisible(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loaded, err := s.deps.Atoms.Load(r.Context(), def.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loaded)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	user, err := requireUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.Runner == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "pipeline runner disabled"})
		return
	}
	def, err := s.loadVisible(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.deps.Runner.Run(r.Context(), def.ID)
	if summary == nil && err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
