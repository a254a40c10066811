// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import "github.com/go-chi/chi/v5"

// StackConfig selects the optional layers of the ingress stack.
type StackConfig struct {
	EnableMetrics bool
	// TracingService names the server spans. Empty disables tracing.
	TracingService string
	EnableLogging  bool
	// RequestsPerMinute limits each client IP. Zero disables the limiter.
	RequestsPerMinute int
	TrustedProxies    TrustedProxies
}

// ApplyStack installs the middleware in a fixed order: recovery first so
// panics anywhere are caught, then correlation, observability, limiting.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(UserID)
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(AccessLog)
	}
	if cfg.RequestsPerMinute > 0 {
		r.Use(APIRateLimit(cfg.RequestsPerMinute, cfg.TrustedProxies))
	}
}
