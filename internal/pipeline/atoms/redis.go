// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package atoms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "zupass:atoms:"

// RedisCache stores each pipeline partition as one hash, atom id to JSON.
type RedisCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(config RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis atom cache")

	return &RedisCache{client: client, logger: logger}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

func partitionKey(pipelineID string) string {
	return keyPrefix + pipelineID
}

func encodeFields(pipelineID string, atoms []model.Atom) ([]any, error) {
	fields := make([]any, 0, 2*len(atoms))
	for _, a := range atoms {
		a.PipelineID = pipelineID
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("atoms: encode %s: %w", a.ID, err)
		}
		fields = append(fields, a.ID, data)
	}
	return fields, nil
}

func (c *RedisCache) Save(ctx context.Context, pipelineID string, atoms []model.Atom) error {
	if len(atoms) == 0 {
		return nil
	}
	fields, err := encodeFields(pipelineID, atoms)
	if err != nil {
		return err
	}
	if err := c.client.HSet(ctx, partitionKey(pipelineID), fields...).Err(); err != nil {
		return fmt.Errorf("atoms: save %s: %w", pipelineID, err)
	}
	return nil
}

func (c *RedisCache) Load(ctx context.Context, pipelineID string) ([]model.Atom, error) {
	raw, err := c.client.HGetAll(ctx, partitionKey(pipelineID)).Result()
	if err != nil {
		return nil, fmt.Errorf("atoms: load %s: %w", pipelineID, err)
	}
	out := make([]model.Atom, 0, len(raw))
	for id, data := range raw {
		var a model.Atom
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			c.logger.Warn().Err(err).Str("pipeline_id", pipelineID).Str("atom_id", id).Msg("skipping undecodable atom")
			continue
		}
		out = append(out, a)
	}
	sortAtoms(out)
	return out, nil
}

// Replace deletes and rewrites the partition in one MULTI/EXEC block.
func (c *RedisCache) Replace(ctx context.Context, pipelineID string, atoms []model.Atom) error {
	fields, err := encodeFields(pipelineID, atoms)
	if err != nil {
		return err
	}
	key := partitionKey(pipelineID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("atoms: replace %s: %w", pipelineID, err)
	}
	return nil
}

func (c *RedisCache) Clear(ctx context.Context, pipelineID string) error {
	if err := c.client.Del(ctx, partitionKey(pipelineID)).Err(); err != nil {
		return fmt.Errorf("atoms: clear %s: %w", pipelineID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// HealthCheck checks if Redis is available.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
