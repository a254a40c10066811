// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the admin HTTP API: pipeline definitions, their edit
// history, load summaries and atoms, rate-limit consumption, the feed
// host, health and metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/omahs/zupass/internal/api/middleware"
	"github.com/omahs/zupass/internal/feed/host"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/pipeline/atoms"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/omahs/zupass/internal/pipeline/store"
	"github.com/omahs/zupass/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// PipelineRunner triggers an immediate load of one pipeline.
type PipelineRunner interface {
	Run(ctx context.Context, pipelineID string) (*model.LoadSummary, error)
}

// HealthCheck is one named dependency probe for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps holds the services behind the API. FeedHost and Runner are optional.
type Deps struct {
	Pipelines store.Store
	Summaries store.SummaryStore
	Atoms     atoms.Cache
	Limiter   *ratelimit.Limiter
	FeedHost  *host.Host
	Runner    PipelineRunner
	Health    []HealthCheck
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
}

func New(deps Deps) *Server {
	return &Server{deps: deps, logger: log.WithComponent("api")}
}

// Handler builds the router with the given middleware stack.
func (s *Server) Handler(stack middleware.StackConfig) http.Handler {
	r := chi.NewRouter()
	middleware.ApplyStack(r, stack)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", s.handleListPipelines)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPipeline)
				r.Put("/", s.handlePutPipeline)
				r.Delete("/", s.handleDeletePipeline)
				r.Get("/history", s.handleHistory)
				r.Get("/summary", s.handleSummary)
				r.Get("/atoms", s.handleAtoms)
				r.Post("/run", s.handleRun)
			})
		})
		r.Post("/ratelimit/consume", s.handleConsume)
	})

	if s.deps.FeedHost != nil {
		r.Mount("/", s.deps.FeedHost.Routes())
	}
	return r
}
