// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package issuance

import (
	"context"
	"fmt"

	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/metrics"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/rs/zerolog"
)

// Provider runs one pipeline's rules against its consumer directory.
type Provider struct {
	pipelineID string
	rules      []model.AutoIssuanceRule
	engine     *Engine
	logger     zerolog.Logger
}

func NewProvider(pipelineID string, rules []model.AutoIssuanceRule, engine *Engine) *Provider {
	return &Provider{
		pipelineID: pipelineID,
		rules:      rules,
		engine:     engine,
		logger:     log.WithComponent("issuance").With().Str(log.FieldPipelineID, pipelineID).Logger(),
	}
}

// Load evaluates every consumer of the pipeline and returns the new tickets.
func (p *Provider) Load(ctx context.Context, dir ConsumerDirectory, existing []model.ManualTicket, records []Record) ([]model.ManualTicket, error) {
	if len(p.rules) == 0 {
		return nil, nil
	}
	consumers, err := dir.LoadAll(ctx, p.pipelineID)
	if err != nil {
		return nil, fmt.Errorf("issuance: pipeline %s: %w", p.pipelineID, err)
	}
	emails := make([]string, len(consumers))
	for i, c := range consumers {
		emails[i] = c.Email
	}

	issued := p.engine.Evaluate(p.rules, emails, existing, records)
	metrics.RecordAutoIssued(p.pipelineID, len(issued))
	if len(issued) > 0 {
		p.logger.Info().
			Str(log.FieldEvent, "issuance.issued").
			Int("count", len(issued)).
			Int("consumers", len(consumers)).
			Msg("auto-issued manual tickets")
	}
	return issued, nil
}
