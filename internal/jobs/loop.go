// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs runs the daemon's periodic background work: loading
// pipelines with auto-issuance and pruning rate-limit buckets.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/telemetry"
	"github.com/rs/zerolog"
)

const tracerName = "zupass/jobs"

// Func is one iteration of a Loop.
type Func func(ctx context.Context) error

// Loop runs a Func once on start and then every interval until the
// context is done. A tick that arrives while a run is in progress is
// skipped, so runs never overlap.
type Loop struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       Func
	busy     atomic.Bool
	runs     atomic.Int64
	logger   zerolog.Logger
}

// NewLoop creates a loop. A positive timeout bounds each run.
func NewLoop(name string, interval, timeout time.Duration, fn Func) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		timeout:  timeout,
		fn:       fn,
		logger:   log.WithComponent("jobs").With().Str("job", name).Logger(),
	}
}

// Start blocks until ctx is canceled. It always returns nil so it can be
// handed to an errgroup next to the HTTP server.
func (l *Loop) Start(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tryRun(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.tryRun(ctx)
		}
	}
}

// Runs reports how many runs have completed.
func (l *Loop) Runs() int64 { return l.runs.Load() }

func (l *Loop) tryRun(ctx context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		return
	}
	defer l.busy.Store(false)
	l.RunOnce(ctx)
}

// RunOnce runs the loop function synchronously, logging its outcome.
func (l *Loop) RunOnce(ctx context.Context) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "job."+l.name)
	err := l.fn(ctx)
	status := "success"
	if err != nil {
		status = "failed"
	}
	span.SetAttributes(telemetry.JobAttributes(l.name, status, time.Since(start).Milliseconds())...)
	telemetry.EndSpan(span, err, "job_failed")
	l.runs.Add(1)

	if err != nil {
		l.logger.Error().Str(log.FieldEvent, "job.failed").Err(err).Dur("duration", time.Since(start)).Msg("background job failed")
		return
	}
	l.logger.Debug().Str(log.FieldEvent, "job.completed").Dur("duration", time.Since(start)).Msg("background job completed")
}
