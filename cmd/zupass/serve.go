// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/omahs/zupass/internal/api"
	"github.com/omahs/zupass/internal/api/middleware"
	"github.com/omahs/zupass/internal/config"
	"github.com/omahs/zupass/internal/credential"
	"github.com/omahs/zupass/internal/daemon"
	"github.com/omahs/zupass/internal/feed/host"
	"github.com/omahs/zupass/internal/issuance"
	"github.com/omahs/zupass/internal/jobs"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/omahs/zupass/internal/pipeline/atoms"
	"github.com/omahs/zupass/internal/pipeline/store"
	"github.com/omahs/zupass/internal/ratelimit"
	"github.com/omahs/zupass/internal/telemetry"
	"github.com/omahs/zupass/internal/version"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the feed host and the background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("serve")

	var closers []daemon.Closer

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "zupass",
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry initialization failed, continuing without tracing")
	} else {
		closers = append(closers, daemon.Closer{Name: "telemetry", Close: tp.Shutdown})
	}

	db, err := sqlite.Open(cfg.DBPath, sqlite.DefaultConfig())
	if err != nil {
		return err
	}
	closers = append(closers, daemon.Closer{Name: "sqlite", Close: func(context.Context) error { return db.Close() }})
	health := []api.HealthCheck{{Name: "sqlite", Check: db.PingContext}}

	sqliteStore, err := store.NewSqliteStore(ctx, db)
	if err != nil {
		return err
	}
	pipelines := store.NewInstrumentedStore(sqliteStore, "sqlite")
	summaries := store.NewMemorySummaryStore()

	atomCache, atomHealth, atomCloser, err := openAtoms(cfg)
	if err != nil {
		return err
	}
	if atomHealth != nil {
		health = append(health, *atomHealth)
	}
	if atomCloser != nil {
		closers = append(closers, *atomCloser)
	}

	limiter, err := newLimiter(ctx, db, cfg)
	if err != nil {
		return err
	}
	consumers, err := issuance.NewSqliteConsumers(ctx, db, nil)
	if err != nil {
		return err
	}

	signers, err := cfg.TrustedSignerKeys()
	if err != nil {
		return err
	}
	verifier := credential.NewVerifier(
		credential.WithMaxAge(cfg.CredentialMaxAge),
		credential.WithClockSkewTolerance(cfg.FeedClockSkew),
	)
	feedHost := host.New(cfg.FeedHostName, cfg.FeedHostURL, verifier,
		host.WithTrust(credential.TrustKeys(signers...)),
		host.WithRateLimiter(limiter),
		host.WithConsumerRecorder(consumers),
	)
	ticketFeeds := jobs.NewTicketFeeds(feedHost, pipelines, atomCache)

	runner := jobs.NewPipelineRunner(jobs.PipelineDeps{
		Definitions: pipelines,
		Summaries:   summaries,
		Atoms:       atomCache,
		Consumers:   consumers,
	})

	loops := []*jobs.Loop{
		jobs.NewLoop("pipelines", cfg.PipelineInterval, cfg.PipelineInterval, func(ctx context.Context) error {
			runErr := runner.RunAll(ctx)
			if err := ticketFeeds.Sync(ctx); err != nil {
				return err
			}
			return runErr
		}),
		jobs.NewLoop("ratelimit_prune", cfg.RateLimitPruneInterval, time.Minute,
			jobs.PruneRateLimits(limiter, cfg.RateLimitRetention)),
	}

	server := api.New(api.Deps{
		Pipelines: pipelines,
		Summaries: summaries,
		Atoms:     atomCache,
		Limiter:   limiter,
		FeedHost:  feedHost,
		Runner:    runner,
		Health:    health,
	})
	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = "zupass"
	}
	handler := server.Handler(middleware.StackConfig{
		EnableMetrics:     true,
		TracingService:    tracingService,
		EnableLogging:     true,
		RequestsPerMinute: cfg.APIRequestsPerMinute,
		TrustedProxies:    proxies,
	})

	logger.Info().
		Str(log.FieldEvent, "serve.start").
		Str("version", version.Version).
		Str("listen", cfg.ListenAddr).
		Str("db", cfg.DBPath).
		Bool("redis", cfg.Redis.Addr != "").
		Str("atoms_dir", cfg.AtomsDir).
		Int("trusted_signers", len(signers)).
		Msg("starting zupass")

	return daemon.New(daemon.DefaultConfig(cfg.ListenAddr), daemon.Deps{
		Handler: handler,
		Loops:   loops,
		Closers: closers,
	}).Run(ctx)
}

// openAtoms picks the atom cache: Redis when an address is configured,
// the embedded badger store when a directory is, memory otherwise. The
// health check and closer are nil for the memory cache.
func openAtoms(cfg config.AppConfig) (atoms.Cache, *api.HealthCheck, *daemon.Closer, error) {
	logger := log.WithComponent("atoms")
	switch {
	case cfg.Redis.Addr != "":
		rc, err := atoms.NewRedisCache(atoms.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("atom cache: %w", err)
		}
		return rc,
			&api.HealthCheck{Name: "redis", Check: rc.HealthCheck},
			&daemon.Closer{Name: "redis", Close: func(context.Context) error { return rc.Close() }},
			nil
	case cfg.AtomsDir != "":
		bc, err := atoms.OpenBadgerCache(cfg.AtomsDir, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return bc, nil, &daemon.Closer{Name: "badger", Close: func(context.Context) error { return bc.Close() }}, nil
	default:
		return atoms.NewMemoryCache(), nil, nil, nil
	}
}

func newLimiter(ctx context.Context, db *sql.DB, cfg config.AppConfig) (*ratelimit.Limiter, error) {
	buckets, err := ratelimit.NewSqliteStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return ratelimit.New(buckets, cfg.RateLimits, ratelimit.WithLogger(log.WithComponent("ratelimit")))
}
