// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sqlite opens the durable SQLite database shared by the pipeline
// store, the rate limiter and the consumer directory.
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// Config tunes the shared pool. Write transactions queue on BusyTimeout
// rather than failing with SQLITE_BUSY, so it bounds how long an admin
// edit may wait behind a pipeline run.
type Config struct {
	BusyTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func DefaultConfig() Config {
	return Config{
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    25,
		ConnMaxLifetime: time.Hour,
	}
}

// dsn renders a modernc file URI. Pragmas ride in the DSN so every pooled
// connection gets them, not only the first.
func dsn(path string, query url.Values, pragmas ...string) string {
	if query == nil {
		query = url.Values{}
	}
	for _, p := range pragmas {
		query.Add("_pragma", p)
	}
	return "file:" + path + "?" + query.Encode()
}

// Open returns a pooled handle in WAL mode with foreign keys enforced.
func Open(path string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path, nil,
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()),
		"synchronous(NORMAL)",
		"foreign_keys(ON)",
	))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	return db, nil
}
