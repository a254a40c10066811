// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimitConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zupass_ratelimit_consumed_total",
		Help: "Token bucket consumptions by action type and outcome",
	}, []string{"action_type", "outcome"}) // outcome=allowed|denied

	rateLimitPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zupass_ratelimit_pruned_total",
		Help: "Rate limit buckets removed by pruning",
	}, []string{"action_type"})

	credentialVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zupass_credential_verifications_total",
		Help: "Credential verification attempts by outcome",
	}, []string{"outcome"}) // outcome=ok|<failure reason>

	feedPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zupass_feed_polls_total",
		Help: "Feed subscription polls by outcome",
	}, []string{"outcome"}) // outcome=success|fetch_error

	feedSubscriptionsErroring = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zupass_feed_subscriptions_erroring",
		Help: "Subscriptions currently in the erroring state",
	})

	autoIssuedTickets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zupass_autoissued_tickets_total",
		Help: "Manual tickets synthesized by auto-issuance",
	}, []string{"pipeline_id"})

	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zupass_pipeline_runs_total",
		Help: "Pipeline load runs by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	pipelineRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zupass_pipeline_run_duration_seconds",
		Help:    "Duration of a single pipeline load run",
		Buckets: prometheus.DefBuckets,
	})

	pipelineUpserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zupass_pipeline_upserts_total",
		Help: "Pipeline definitions written",
	})
)

// RecordRateLimit counts a token bucket consumption.
func RecordRateLimit(actionType string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	rateLimitConsumed.WithLabelValues(actionType, outcome).Inc()
}

// RecordRateLimitPruned counts buckets removed for an action type.
func RecordRateLimitPruned(actionType string, n int64) {
	if n <= 0 {
		return
	}
	rateLimitPruned.WithLabelValues(actionType).Add(float64(n))
}

// RecordCredentialVerification counts a verification attempt. Reason is empty
// on success.
func RecordCredentialVerification(reason string) {
	if reason == "" {
		reason = "ok"
	}
	credentialVerifications.WithLabelValues(reason).Inc()
}

// RecordFeedPoll counts one subscription poll.
func RecordFeedPoll(ok bool) {
	if ok {
		feedPolls.WithLabelValues("success").Inc()
		return
	}
	feedPolls.WithLabelValues("fetch_error").Inc()
}

// SetFeedSubscriptionsErroring publishes the current erroring count.
func SetFeedSubscriptionsErroring(n int) {
	feedSubscriptionsErroring.Set(float64(n))
}

// RecordAutoIssued counts synthesized manual tickets for a pipeline.
func RecordAutoIssued(pipelineID string, n int) {
	if n <= 0 {
		return
	}
	autoIssuedTickets.WithLabelValues(pipelineID).Add(float64(n))
}

// RecordPipelineRun records the outcome and duration of a pipeline run.
func RecordPipelineRun(success bool, seconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	pipelineRuns.WithLabelValues(outcome).Inc()
	pipelineRunDuration.Observe(seconds)
}

// IncPipelineUpserts counts a committed pipeline definition write.
func IncPipelineUpserts() {
	pipelineUpserts.Inc()
}
