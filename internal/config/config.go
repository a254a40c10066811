// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/omahs/zupass/internal/ratelimit"
)

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	ListenAddr string
	DBPath     string
	LogLevel   string

	Redis RedisConfig
	// AtomsDir holds the embedded atom cache when Redis is not configured.
	// Empty keeps atoms in memory.
	AtomsDir string

	CredentialMaxAge time.Duration
	// FeedClockSkew is the symmetric tolerance the feed host applies to
	// credential timestamps. Zero disables the check.
	FeedClockSkew  time.Duration
	TrustedSigners []string // hex ed25519 public keys of email proof issuers

	FeedHostName string
	FeedHostURL  string

	PipelineInterval       time.Duration
	RateLimitPruneInterval time.Duration
	RateLimitRetention     time.Duration
	RateLimits             map[string]ratelimit.Policy

	APIRequestsPerMinute int
	// TrustedProxies are CIDRs whose X-Forwarded-For header is believed
	// when keying the per-client API limiter.
	TrustedProxies []string

	Telemetry TelemetryConfig
}

// RedisConfig selects the shared atom cache. It takes precedence over
// AtomsDir when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type TelemetryConfig struct {
	Enabled      bool
	ExporterType string
	Endpoint     string
	Environment  string
	SamplingRate float64
}

// FileConfig mirrors the YAML file. Pointers distinguish unset from zero.
type FileConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`

	Atoms *struct {
		Dir string `yaml:"dir"`
	} `yaml:"atoms"`

	Redis *struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
	} `yaml:"redis"`

	Credentials *struct {
		MaxAge         *time.Duration `yaml:"max_age"`
		TrustedSigners []string       `yaml:"trusted_signers"`
	} `yaml:"credentials"`

	FeedHost *struct {
		Name      string         `yaml:"name"`
		URL       string         `yaml:"url"`
		ClockSkew *time.Duration `yaml:"clock_skew"`
	} `yaml:"feed_host"`

	Pipelines *struct {
		Interval *time.Duration `yaml:"interval"`
	} `yaml:"pipelines"`

	RateLimit *struct {
		PruneInterval *time.Duration              `yaml:"prune_interval"`
		Retention     *time.Duration              `yaml:"retention"`
		Policies      map[string]ratelimit.Policy `yaml:"policies"`
	} `yaml:"ratelimit"`

	API *struct {
		RequestsPerMinute *int     `yaml:"requests_per_minute"`
		TrustedProxies    []string `yaml:"trusted_proxies"`
	} `yaml:"api"`

	Telemetry *struct {
		Enabled      *bool    `yaml:"enabled"`
		ExporterType string   `yaml:"exporter"`
		Endpoint     string   `yaml:"endpoint"`
		Environment  string   `yaml:"environment"`
		SamplingRate *float64 `yaml:"sampling_rate"`
	} `yaml:"telemetry"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr:             ":8080",
		DBPath:                 "zupass.sqlite",
		LogLevel:               "info",
		CredentialMaxAge:       80 * time.Minute,
		FeedHostName:           "Zupass",
		FeedHostURL:            "http://localhost:8080",
		PipelineInterval:       time.Minute,
		RateLimitPruneInterval: time.Hour,
		RateLimitRetention:     24 * time.Hour,
		RateLimits:             ratelimit.DefaultPolicies(),
		APIRequestsPerMinute:   600,
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			Environment:  "production",
			SamplingRate: 1.0,
		},
	}
}
