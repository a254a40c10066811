// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Feed attributes
	FeedProviderURLKey    = "feed.provider_url"
	FeedIDKey             = "feed.id"
	FeedSubscriptionIDKey = "feed.subscription_id"
	FeedSubscriptionsKey  = "feed.subscriptions"

	// Pipeline attributes
	PipelineIDKey         = "pipeline.id"
	PipelineTypeKey       = "pipeline.type"
	PipelineAtomsKey      = "pipeline.atoms"
	PipelineAutoIssuedKey = "pipeline.auto_issued"

	// Job attributes
	JobTypeKey     = "job.type"
	JobStatusKey   = "job.status"
	JobDurationKey = "job.duration_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// FeedAttributes creates feed span attributes, omitting empty values.
func FeedAttributes(providerURL, feedID, subscriptionID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if providerURL != "" {
		attrs = append(attrs, attribute.String(FeedProviderURLKey, providerURL))
	}
	if feedID != "" {
		attrs = append(attrs, attribute.String(FeedIDKey, feedID))
	}
	if subscriptionID != "" {
		attrs = append(attrs, attribute.String(FeedSubscriptionIDKey, subscriptionID))
	}
	return attrs
}

// PipelineAttributes creates pipeline run span attributes.
func PipelineAttributes(pipelineID, pipelineType string, atoms, autoIssued int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PipelineIDKey, pipelineID),
		attribute.String(PipelineTypeKey, pipelineType),
		attribute.Int(PipelineAtomsKey, atoms),
		attribute.Int(PipelineAutoIssuedKey, autoIssued),
	}
}

// JobAttributes creates job-related span attributes.
func JobAttributes(jobType, status string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobTypeKey, jobType),
		attribute.String(JobStatusKey, status),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
