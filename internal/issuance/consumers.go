// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package issuance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/omahs/zupass/internal/clock"
	"github.com/omahs/zupass/internal/persistence/sqlite"
)

// Consumer is a user known to have polled a pipeline's feed with a
// verified email.
type Consumer struct {
	Email       string
	SemaphoreID string
	TimeCreated time.Time
	TimeUpdated time.Time
}

// ConsumerDirectory lists a pipeline's consumers.
type ConsumerDirectory interface {
	LoadAll(ctx context.Context, pipelineID string) ([]Consumer, error)
}

var consumerMigrations = []sqlite.Migration{
	{Version: 1, SQL: `
	CREATE TABLE IF NOT EXISTS consumers (
		pipeline_id TEXT NOT NULL,
		email TEXT NOT NULL,
		semaphore_id TEXT NOT NULL,
		time_created INTEGER NOT NULL,
		time_updated INTEGER NOT NULL,
		PRIMARY KEY (pipeline_id, email)
	);
	`},
}

// SqliteConsumers records consumers in the consumers table.
type SqliteConsumers struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSqliteConsumers migrates the consumers table on db.
func NewSqliteConsumers(ctx context.Context, db *sql.DB, c clock.Clock) (*SqliteConsumers, error) {
	if err := sqlite.Migrate(ctx, db, "consumers", consumerMigrations); err != nil {
		return nil, err
	}
	if c == nil {
		c = clock.Real()
	}
	return &SqliteConsumers{db: db, clock: c}, nil
}

// Save records that email (as semaphoreID) consumed pipelineID. Repeated
// calls keep the creation time and refresh the rest.
func (s *SqliteConsumers) Save(ctx context.Context, pipelineID, email, semaphoreID string) error {
	now := s.clock.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO consumers (pipeline_id, email, semaphore_id, time_created, time_updated)
	VALUES (?1, ?2, ?3, ?4, ?4)
	ON CONFLICT (pipeline_id, email) DO UPDATE SET
		semaphore_id = excluded.semaphore_id,
		time_updated = excluded.time_updated`,
		pipelineID, email, semaphoreID, now)
	if err != nil {
		return fmt.Errorf("issuance: save consumer: %w", err)
	}
	return nil
}

func (s *SqliteConsumers) LoadAll(ctx context.Context, pipelineID string) ([]Consumer, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT email, semaphore_id, time_created, time_updated
	FROM consumers WHERE pipeline_id = ? ORDER BY email`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("issuance: load consumers: %w", err)
	}
	defer rows.Close()

	var out []Consumer
	for rows.Next() {
		var (
			c                Consumer
			created, updated int64
		)
		if err := rows.Scan(&c.Email, &c.SemaphoreID, &created, &updated); err != nil {
			return nil, fmt.Errorf("issuance: load consumers: %w", err)
		}
		c.TimeCreated = time.UnixMilli(created).UTC()
		c.TimeUpdated = time.UnixMilli(updated).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
