// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/issuance"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/metrics"
	"github.com/omahs/zupass/internal/pipeline/atoms"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/omahs/zupass/internal/pipeline/store"
	"github.com/omahs/zupass/internal/telemetry"
	"github.com/rs/zerolog"
)

// PipelineDeps holds what a PipelineRunner reads and writes.
type PipelineDeps struct {
	Definitions store.DefinitionStore
	Summaries   store.SummaryStore
	Atoms       atoms.Cache
	Consumers   issuance.ConsumerDirectory
	Engine      *issuance.Engine
	Clock       clock.Clock
	Logger      *zerolog.Logger
}

// PipelineRunner loads pipelines and applies auto-issuance.
type PipelineRunner struct {
	deps   PipelineDeps
	logger zerolog.Logger
}

func NewPipelineRunner(deps PipelineDeps) *PipelineRunner {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Engine == nil {
		deps.Engine = issuance.NewEngine(issuance.WithClock(deps.Clock))
	}
	logger := log.WithComponent("pipeline_runner")
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	return &PipelineRunner{deps: deps, logger: logger}
}

// RunAll runs every stored pipeline. One failing pipeline does not stop
// the others; their errors are joined.
func (r *PipelineRunner) RunAll(ctx context.Context) error {
	defs, err := r.deps.Definitions.LoadDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	var errs []error
	for _, def := range defs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.run(ctx, def); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %s: %w", def.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Run runs a single pipeline and returns its load summary.
func (r *PipelineRunner) Run(ctx context.Context, pipelineID string) (*model.LoadSummary, error) {
	def, err := r.deps.Definitions.GetDefinition(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, *def)
}

func (r *PipelineRunner) run(ctx context.Context, def model.Definition) (*model.LoadSummary, error) {
	ctx = log.ContextWithPipelineID(ctx, def.ID)
	logger := log.WithContext(ctx, r.logger)

	opts, err := def.ParseOptions()
	if err != nil {
		return nil, err
	}
	if paused(opts) {
		logger.Debug().Str(log.FieldEvent, "pipeline.paused").Msg("skipping paused pipeline")
		return r.deps.Summaries.LastLoadSummary(ctx, def.ID)
	}

	summary := &model.LoadSummary{LastRunStartTimestamp: r.deps.Clock.Now()}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "pipeline.run")

	runErr := r.load(ctx, def, opts, summary)

	summary.LastRunEndTimestamp = r.deps.Clock.Now()
	summary.Success = runErr == nil
	if runErr != nil {
		summary.Errors = append(summary.Errors, runErr.Error())
	}
	span.SetAttributes(telemetry.PipelineAttributes(def.ID, string(def.Type), summary.AtomsLoaded, summary.AutoIssued)...)
	telemetry.EndSpan(span, runErr, "pipeline_run_failed")
	metrics.RecordPipelineRun(summary.Success, summary.LastRunEndTimestamp.Sub(summary.LastRunStartTimestamp).Seconds())

	if err := r.deps.Summaries.SaveLoadSummary(ctx, def.ID, summary); err != nil {
		return summary, errors.Join(runErr, fmt.Errorf("save load summary: %w", err))
	}

	ev := logger.Info()
	if runErr != nil {
		ev = logger.Warn().Err(runErr)
	}
	ev.Str(log.FieldEvent, "pipeline.loaded").
		Int("atoms", summary.AtomsLoaded).
		Int("auto_issued", summary.AutoIssued).
		Int("warnings", len(summary.Errors)).
		Msg("pipeline run finished")
	return summary, runErr
}

// load fills summary. CSV pipelines re-ingest their inline data into the
// atom cache first. Undecodable atoms are reported in summary.Errors but
// do not fail the run.
func (r *PipelineRunner) load(ctx context.Context, def model.Definition, opts model.Options, summary *model.LoadSummary) error {
	if o, ok := opts.(*model.CSVOptions); ok {
		parsed, warnings, err := parseCSVAtoms(def.ID, o.CSV)
		if err != nil {
			return err
		}
		summary.Errors = append(summary.Errors, warnings...)
		if err := r.deps.Atoms.Replace(ctx, def.ID, parsed); err != nil {
			return fmt.Errorf("replace atoms: %w", err)
		}
	}

	loaded, err := r.deps.Atoms.Load(ctx, def.ID)
	if err != nil {
		return fmt.Errorf("load atoms: %w", err)
	}
	summary.AtomsLoaded = len(loaded)

	ticketing, ok := opts.(model.TicketingOptions)
	if !ok || len(ticketing.Rules()) == 0 {
		return nil
	}

	existing := ticketing.Tickets()
	records := make([]issuance.Record, 0, len(loaded)+len(existing))
	for _, a := range loaded {
		t, err := a.DecodeTicket()
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("atom %s: %v", a.ID, err))
			continue
		}
		records = append(records, issuance.RecordFromAtom(t))
	}
	for _, t := range existing {
		records = append(records, issuance.RecordFromManual(t))
	}

	issued, err := issuance.NewProvider(def.ID, ticketing.Rules(), r.deps.Engine).
		Load(ctx, r.deps.Consumers, existing, records)
	if err != nil {
		return err
	}
	if len(issued) == 0 {
		return nil
	}

	if _, err := r.deps.Definitions.UpdateDefinition(ctx, def.ID, "", appendTickets(issued)); err != nil {
		return fmt.Errorf("store issued tickets: %w", err)
	}
	summary.AutoIssued = len(issued)
	return nil
}

// appendTickets adds issued to the stored definition as it is at write time,
// leaving edits made since the run started in place.
func appendTickets(issued []model.ManualTicket) func(*model.Definition) error {
	return func(current *model.Definition) error {
		opts, err := current.ParseOptions()
		if err != nil {
			return err
		}
		ticketing, ok := opts.(model.TicketingOptions)
		if !ok {
			return fmt.Errorf("pipeline type changed to %s during run", current.Type)
		}
		tickets := slices.Clone(ticketing.Tickets())
		for _, t := range issued {
			if !slices.ContainsFunc(tickets, func(held model.ManualTicket) bool { return held.ID == t.ID }) {
				tickets = append(tickets, t)
			}
		}
		ticketing.SetTickets(tickets)
		return current.SetOptions(ticketing)
	}
}

func paused(opts model.Options) bool {
	switch o := opts.(type) {
	case *model.PretixOptions:
		return o.Paused
	case *model.LemonadeOptions:
		return o.Paused
	case *model.CSVOptions:
		return o.Paused
	}
	return false
}
