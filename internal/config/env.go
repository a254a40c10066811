// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/omahs/zupass/internal/log"
	"github.com/rs/zerolog"
)

// lookupFunc matches os.LookupEnv; tests substitute a map.
type lookupFunc func(string) (string, bool)

// parseEnv resolves key with parse, falling back to def when the variable
// is unset, empty or invalid. The chosen source is logged; values of
// sensitive keys never are.
func parseEnv[T any](logger zerolog.Logger, lookup lookupFunc, key string, def T, parse func(string) (T, error)) T {
	raw, ok := lookup(key)
	if !ok || raw == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return def
	}
	v, err := parse(raw)
	if err != nil {
		logger.Warn().Str("key", key).Err(err).Msg("invalid value in environment variable, using default")
		return def
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", fmt.Sprint(v))
	}
	ev.Msg("using environment variable")
	return v
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password") || strings.Contains(k, "secret")
}

func envLogger() zerolog.Logger { return log.WithComponent("config") }

// ParseString reads a string from the environment or returns def.
func ParseString(key, def string) string {
	return parseEnv(envLogger(), os.LookupEnv, key, def, parseString)
}

// ParseInt reads an integer from the environment or returns def.
func ParseInt(key string, def int) int {
	return parseEnv(envLogger(), os.LookupEnv, key, def, strconv.Atoi)
}

// ParseDuration reads a Go duration ("90s", "1h20m") or returns def.
func ParseDuration(key string, def time.Duration) time.Duration {
	return parseEnv(envLogger(), os.LookupEnv, key, def, time.ParseDuration)
}

// ParseBool accepts true/false, 1/0 and yes/no, case-insensitively.
func ParseBool(key string, def bool) bool {
	return parseEnv(envLogger(), os.LookupEnv, key, def, parseBool)
}

// ParseFloat reads a float64 from the environment or returns def.
func ParseFloat(key string, def float64) float64 {
	return parseEnv(envLogger(), os.LookupEnv, key, def, parseFloat)
}

// ParseList reads a comma separated list, dropping empty items.
func ParseList(key string, def []string) []string {
	return parseEnv(envLogger(), os.LookupEnv, key, def, parseList)
}

func parseString(s string) (string, error) { return s, nil }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func parseList(s string) ([]string, error) {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}
