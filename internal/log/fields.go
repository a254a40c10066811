// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID      = "request_id"
	FieldJobID          = "job_id"
	FieldPipelineID     = "pipeline_id"
	FieldSubscriptionID = "subscription_id"
	FieldFeedID         = "feed_id"
	FieldEditorID       = "editor_id"
	FieldSemaphoreID    = "semaphore_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Rate limiting
	FieldActionType = "action_type"
	FieldActionID   = "action_id"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Network fields
	FieldProviderURL = "provider_url"
	FieldPath        = "path"
)
