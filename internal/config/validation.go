// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/omahs/zupass/internal/proof"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate reports all problems at once.
func (c AppConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.ListenAddr) == "" {
		add("listen_addr is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		add("db_path is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		add("log_level %q: %w", c.LogLevel, err)
	}
	if c.Redis.DB < 0 {
		add("redis.db must not be negative")
	}
	if c.CredentialMaxAge <= 0 {
		add("credentials.max_age must be positive")
	}
	if c.FeedClockSkew < 0 {
		add("feed_host.clock_skew must not be negative")
	}
	if _, err := c.TrustedSignerKeys(); err != nil {
		add("credentials.trusted_signers: %w", err)
	}
	if u, err := url.Parse(c.FeedHostURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("feed_host.url %q must be an absolute url", c.FeedHostURL)
	}
	if c.PipelineInterval <= 0 {
		add("pipelines.interval must be positive")
	}
	if c.RateLimitPruneInterval <= 0 {
		add("ratelimit.prune_interval must be positive")
	}
	if c.RateLimitRetention <= 0 {
		add("ratelimit.retention must be positive")
	}
	for actionType, p := range c.RateLimits {
		if err := p.Validate(); err != nil {
			add("ratelimit.policies.%s: %w", actionType, err)
		}
	}
	if c.APIRequestsPerMinute <= 0 {
		add("api.requests_per_minute must be positive")
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			add("api.trusted_proxies: %w", err)
		}
	}
	if c.Telemetry.Enabled {
		switch c.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			add("telemetry.exporter %q must be grpc or http", c.Telemetry.ExporterType)
		}
		if c.Telemetry.Endpoint == "" {
			add("telemetry.endpoint is required when telemetry is enabled")
		}
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		add("telemetry.sampling_rate must be within [0, 1]")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// TrustedSignerKeys decodes TrustedSigners.
func (c AppConfig) TrustedSignerKeys() ([]proof.PublicKey, error) {
	keys := make([]proof.PublicKey, 0, len(c.TrustedSigners))
	for _, s := range c.TrustedSigners {
		k, err := proof.ParsePublicKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}
