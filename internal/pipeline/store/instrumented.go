// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"time"

	"github.com/omahs/zupass/internal/metrics"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zupass_pipeline_store_ops_total",
			Help: "Total pipeline store operations",
		},
		[]string{"backend", "op", "result"}, // result=success/error
	)
	storeLat = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zupass_pipeline_store_op_seconds",
			Help:    "Pipeline store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// instrumentedStore wraps any Store to capture metrics.
type instrumentedStore struct {
	inner   Store
	backend string
}

func NewInstrumentedStore(inner Store, backend string) Store {
	return &instrumentedStore{inner: inner, backend: backend}
}

func (i *instrumentedStore) observe(op string, start time.Time, err error) {
	dur := time.Since(start).Seconds()
	res := "success"
	if err != nil {
		res = "error"
	}
	storeOps.WithLabelValues(i.backend, op, res).Inc()
	storeLat.WithLabelValues(i.backend, op).Observe(dur)
}

func (i *instrumentedStore) LoadDefinitions(ctx context.Context) (defs []model.Definition, err error) {
	start := time.Now()
	defer func() { i.observe("load_definitions", start, err) }()
	return i.inner.LoadDefinitions(ctx)
}

func (i *instrumentedStore) GetDefinition(ctx context.Context, id string) (def *model.Definition, err error) {
	start := time.Now()
	defer func() { i.observe("get_definition", start, err) }()
	return i.inner.GetDefinition(ctx, id)
}

func (i *instrumentedStore) UpsertDefinition(ctx context.Context, def model.Definition, editorUserID string) (stored *model.Definition, err error) {
	start := time.Now()
	defer func() {
		i.observe("upsert_definition", start, err)
		if err == nil {
			metrics.IncPipelineUpserts()
		}
	}()
	return i.inner.UpsertDefinition(ctx, def, editorUserID)
}

func (i *instrumentedStore) UpdateDefinition(ctx context.Context, id, editorUserID string, update func(*model.Definition) error) (stored *model.Definition, err error) {
	start := time.Now()
	defer func() {
		i.observe("update_definition", start, err)
		if err == nil {
			metrics.IncPipelineUpserts()
		}
	}()
	return i.inner.UpdateDefinition(ctx, id, editorUserID, update)
}

func (i *instrumentedStore) UpsertDefinitions(ctx context.Context, defs []model.Definition) (err error) {
	start := time.Now()
	defer func() { i.observe("upsert_definitions", start, err) }()
	return i.inner.UpsertDefinitions(ctx, defs)
}

func (i *instrumentedStore) DeleteDefinition(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { i.observe("delete_definition", start, err) }()
	return i.inner.DeleteDefinition(ctx, id)
}

func (i *instrumentedStore) DeleteAllDefinitions(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { i.observe("delete_all_definitions", start, err) }()
	return i.inner.DeleteAllDefinitions(ctx)
}

func (i *instrumentedStore) EditHistory(ctx context.Context, pipelineID string, limit int) (entries []model.HistoryEntry, err error) {
	start := time.Now()
	defer func() { i.observe("edit_history", start, err) }()
	return i.inner.EditHistory(ctx, pipelineID, limit)
}
