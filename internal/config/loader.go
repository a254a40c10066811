// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/omahs/zupass/internal/log"
)

// Loader resolves configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	lookup     lookupFunc
	logger     zerolog.Logger

	// ConsumedEnvKeys records every variable the loader read.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty path skips the file layer.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		lookup:          os.LookupEnv,
		logger:          log.WithComponent("config"),
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Load builds and validates the configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fc, err := l.loadFile(l.configPath)
		if err != nil {
			return AppConfig{}, err
		}
		mergeFile(&cfg, fc)
	}
	l.mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadFileConfig decodes a YAML config file without defaults or env.
func LoadFileConfig(path string) (*FileConfig, error) {
	return NewLoader(path).loadFile(path)
}

func (l *Loader) loadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	return &fc, nil
}

func mergeFile(cfg *AppConfig, fc *FileConfig) {
	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.LogLevel, fc.LogLevel)

	if a := fc.Atoms; a != nil {
		setString(&cfg.AtomsDir, a.Dir)
	}
	if r := fc.Redis; r != nil {
		setString(&cfg.Redis.Addr, r.Addr)
		setString(&cfg.Redis.Password, r.Password)
		setPtr(&cfg.Redis.DB, r.DB)
	}
	if c := fc.Credentials; c != nil {
		setPtr(&cfg.CredentialMaxAge, c.MaxAge)
		if c.TrustedSigners != nil {
			cfg.TrustedSigners = c.TrustedSigners
		}
	}
	if h := fc.FeedHost; h != nil {
		setString(&cfg.FeedHostName, h.Name)
		setString(&cfg.FeedHostURL, h.URL)
		setPtr(&cfg.FeedClockSkew, h.ClockSkew)
	}
	if p := fc.Pipelines; p != nil {
		setPtr(&cfg.PipelineInterval, p.Interval)
	}
	if r := fc.RateLimit; r != nil {
		setPtr(&cfg.RateLimitPruneInterval, r.PruneInterval)
		setPtr(&cfg.RateLimitRetention, r.Retention)
		// Listed policies override defaults of the same action type.
		maps.Copy(cfg.RateLimits, r.Policies)
	}
	if a := fc.API; a != nil {
		setPtr(&cfg.APIRequestsPerMinute, a.RequestsPerMinute)
		if a.TrustedProxies != nil {
			cfg.TrustedProxies = a.TrustedProxies
		}
	}
	if t := fc.Telemetry; t != nil {
		setPtr(&cfg.Telemetry.Enabled, t.Enabled)
		setString(&cfg.Telemetry.ExporterType, t.ExporterType)
		setString(&cfg.Telemetry.Endpoint, t.Endpoint)
		setString(&cfg.Telemetry.Environment, t.Environment)
		setPtr(&cfg.Telemetry.SamplingRate, t.SamplingRate)
	}
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	str := func(key string, dst *string) {
		l.ConsumedEnvKeys[key] = struct{}{}
		*dst = parseEnv(l.logger, l.lookup, key, *dst, parseString)
	}
	str("ZUPASS_LISTEN_ADDR", &cfg.ListenAddr)
	str("ZUPASS_DB_PATH", &cfg.DBPath)
	str("ZUPASS_LOG_LEVEL", &cfg.LogLevel)
	str("ZUPASS_ATOMS_DIR", &cfg.AtomsDir)
	str("ZUPASS_REDIS_ADDR", &cfg.Redis.Addr)
	str("ZUPASS_REDIS_PASSWORD", &cfg.Redis.Password)
	str("ZUPASS_FEED_HOST_NAME", &cfg.FeedHostName)
	str("ZUPASS_FEED_HOST_URL", &cfg.FeedHostURL)
	str("ZUPASS_TELEMETRY_EXPORTER", &cfg.Telemetry.ExporterType)
	str("ZUPASS_TELEMETRY_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("ZUPASS_TELEMETRY_ENVIRONMENT", &cfg.Telemetry.Environment)

	l.ConsumedEnvKeys["ZUPASS_REDIS_DB"] = struct{}{}
	cfg.Redis.DB = parseEnv(l.logger, l.lookup, "ZUPASS_REDIS_DB", cfg.Redis.DB, strconv.Atoi)
	l.ConsumedEnvKeys["ZUPASS_API_REQUESTS_PER_MINUTE"] = struct{}{}
	cfg.APIRequestsPerMinute = parseEnv(l.logger, l.lookup, "ZUPASS_API_REQUESTS_PER_MINUTE", cfg.APIRequestsPerMinute, strconv.Atoi)

	dur := func(key string, dst *time.Duration) {
		l.ConsumedEnvKeys[key] = struct{}{}
		*dst = parseEnv(l.logger, l.lookup, key, *dst, time.ParseDuration)
	}
	dur("ZUPASS_CREDENTIAL_MAX_AGE", &cfg.CredentialMaxAge)
	dur("ZUPASS_FEED_CLOCK_SKEW", &cfg.FeedClockSkew)
	dur("ZUPASS_PIPELINE_INTERVAL", &cfg.PipelineInterval)
	dur("ZUPASS_RATELIMIT_PRUNE_INTERVAL", &cfg.RateLimitPruneInterval)
	dur("ZUPASS_RATELIMIT_RETENTION", &cfg.RateLimitRetention)

	// Read directly by the log package.
	l.ConsumedEnvKeys["ZUPASS_LOG_SERVICE"] = struct{}{}

	l.ConsumedEnvKeys["ZUPASS_TRUSTED_SIGNERS"] = struct{}{}
	cfg.TrustedSigners = parseEnv(l.logger, l.lookup, "ZUPASS_TRUSTED_SIGNERS", cfg.TrustedSigners, parseList)
	l.ConsumedEnvKeys["ZUPASS_TRUSTED_PROXIES"] = struct{}{}
	cfg.TrustedProxies = parseEnv(l.logger, l.lookup, "ZUPASS_TRUSTED_PROXIES", cfg.TrustedProxies, parseList)
	l.ConsumedEnvKeys["ZUPASS_TELEMETRY_ENABLED"] = struct{}{}
	cfg.Telemetry.Enabled = parseEnv(l.logger, l.lookup, "ZUPASS_TELEMETRY_ENABLED", cfg.Telemetry.Enabled, parseBool)
	l.ConsumedEnvKeys["ZUPASS_TELEMETRY_SAMPLING_RATE"] = struct{}{}
	cfg.Telemetry.SamplingRate = parseEnv(l.logger, l.lookup, "ZUPASS_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate, parseFloat)
}

// UnknownEnvKeys lists set ZUPASS_* variables the loader did not consume,
// which usually means a typo.
func (l *Loader) UnknownEnvKeys(environ []string) []string {
	var out []string
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, "ZUPASS_") {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
