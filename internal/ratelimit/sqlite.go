// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/omahs/zupass/internal/persistence/sqlite"
)

var migrations = []sqlite.Migration{
	{Version: 1, SQL: `
	CREATE TABLE IF NOT EXISTS rate_limit_buckets (
		action_type TEXT NOT NULL,
		action_id TEXT NOT NULL,
		remaining REAL NOT NULL,
		last_take INTEGER NOT NULL,
		PRIMARY KEY (action_type, action_id)
	);
	CREATE INDEX IF NOT EXISTS idx_rate_limit_buckets_last_take ON rate_limit_buckets(action_type, last_take);
	`},
}

// consumeQuery inserts a fresh bucket with one token already taken, or
// refills and takes from the existing bucket, in one statement.
//
// Parameters: 1 action_type, 2 action_id, 3 starting, 4 max, 5 timePerAction ms, 6 now ms.
// Inside DO UPDATE, bare column names refer to the stored row, so the CASE
// for last_take sees the pre-update remaining.
const consumeQuery = `
INSERT INTO rate_limit_buckets (action_type, action_id, remaining, last_take)
VALUES (?1, ?2, ?3 - 1, ?6)
ON CONFLICT (action_type, action_id) DO UPDATE SET
	remaining = min(?4, max(rate_limit_buckets.remaining, 0) + CAST((?6 - rate_limit_buckets.last_take) / ?5 AS INTEGER)) - 1,
	last_take = CASE
		WHEN rate_limit_buckets.remaining > 0 OR (?6 - rate_limit_buckets.last_take) >= ?5 THEN ?6
		ELSE rate_limit_buckets.last_take
	END
RETURNING action_type, action_id, remaining, last_take
`

// SqliteStore persists buckets in the rate_limit_buckets table.
type SqliteStore struct {
	db *sql.DB
}

// NewSqliteStore migrates the bucket table on db and returns the store.
func NewSqliteStore(ctx context.Context, db *sql.DB) (*SqliteStore, error) {
	if err := sqlite.Migrate(ctx, db, "ratelimit", migrations); err != nil {
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Consume(ctx context.Context, actionType, actionID string, policy Policy, now time.Time) (Bucket, error) {
	if err := policy.Validate(); err != nil {
		return Bucket{}, err
	}

	var b Bucket
	err := s.db.QueryRowContext(ctx, consumeQuery,
		actionType,
		actionID,
		policy.StartingActions,
		policy.MaxActions,
		policy.msPerAction(),
		now.UnixMilli(),
	).Scan(&b.ActionType, &b.ActionID, &b.Remaining, &b.LastTake)
	if err != nil {
		return Bucket{}, fmt.Errorf("ratelimit: consume %s/%s: %w", actionType, actionID, err)
	}
	return b, nil
}

func (s *SqliteStore) Prune(ctx context.Context, actionType string, expiry time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM rate_limit_buckets WHERE action_type = ? AND last_take <= ?",
		actionType, expiry.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("ratelimit: prune %s: %w", actionType, err)
	}
	return res.RowsAffected()
}

func (s *SqliteStore) DeleteUnsupported(ctx context.Context, supported []string) (int64, error) {
	query := "DELETE FROM rate_limit_buckets"
	args := make([]any, 0, len(supported))
	if len(supported) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(supported)), ",")
		query += " WHERE action_type NOT IN (" + placeholders + ")"
		for _, t := range supported {
			args = append(args, t)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: delete unsupported: %w", err)
	}
	return res.RowsAffected()
}

// Get returns the stored bucket, or (nil, nil) if none exists.
func (s *SqliteStore) Get(ctx context.Context, actionType, actionID string) (*Bucket, error) {
	var b Bucket
	err := s.db.QueryRowContext(ctx,
		"SELECT action_type, action_id, remaining, last_take FROM rate_limit_buckets WHERE action_type = ? AND action_id = ?",
		actionType, actionID).Scan(&b.ActionType, &b.ActionID, &b.Remaining, &b.LastTake)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ratelimit: get %s/%s: %w", actionType, actionID, err)
	}
	return &b, nil
}
