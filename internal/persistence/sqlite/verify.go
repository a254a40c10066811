// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
)

// IntegrityMode picks the SQLite check run by VerifyIntegrity.
type IntegrityMode string

const (
	// IntegrityQuick skips index consistency; it is O(N) in database size.
	IntegrityQuick IntegrityMode = "quick"
	IntegrityFull  IntegrityMode = "full"
)

func ParseIntegrityMode(s string) (IntegrityMode, error) {
	switch m := IntegrityMode(strings.ToLower(strings.TrimSpace(s))); m {
	case IntegrityQuick, IntegrityFull:
		return m, nil
	}
	return "", fmt.Errorf("sqlite: unknown integrity mode %q (want quick or full)", s)
}

func (m IntegrityMode) pragma() string {
	if m == IntegrityFull {
		return "PRAGMA integrity_check"
	}
	return "PRAGMA quick_check"
}

// VerifyIntegrity opens path read-only and lists the problems SQLite
// reports. A healthy database yields nil problems and nil error.
func VerifyIntegrity(ctx context.Context, path string, mode IntegrityMode) ([]string, error) {
	db, err := sql.Open("sqlite", dsn(path, url.Values{"mode": {"ro"}}, "busy_timeout(2000)"))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s for verify: %w", path, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, mode.pragma())
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s check: %w", mode, err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("sqlite: %s check: %w", mode, err)
		}
		if !strings.EqualFold(line, "ok") {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s check: %w", mode, err)
	}
	return problems, nil
}
