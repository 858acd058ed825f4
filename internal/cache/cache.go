/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for workspace rows,
// which every scheduling call needs for timezone and tier resolution.
// Slot definitions and occupancy are always read fresh; only the
// rarely-changing workspace record is cached.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultWorkspaceTTL bounds staleness if an invalidation event is lost.
const DefaultWorkspaceTTL = 10 * time.Minute

// KeyWorkspace is the Redis key prefix for cached workspace rows.
const KeyWorkspace = "skald:cache:workspace:" // + workspace_id

// CachedWorkspace is the subset of the workspace row the engine reads hot.
type CachedWorkspace struct {
	ID       string `json:"id"`
	Timezone string `json:"timezone"`
	Tier     string `json:"tier"`
}

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WorkspaceTTL time.Duration

	// DisableOnError trips the circuit breaker on the first Redis error.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		WorkspaceTTL:   DefaultWorkspaceTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a new cache instance. A failed Redis connection yields a
// disabled cache rather than an error; callers run uncached.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.WorkspaceTTL <= 0 {
		cfg.WorkspaceTTL = DefaultWorkspaceTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// GetWorkspace retrieves a cached workspace row.
func (c *Cache) GetWorkspace(ctx context.Context, workspaceID string) (*CachedWorkspace, bool) {
	if !c.IsAvailable() {
		return nil, false
	}

	data, err := c.client.Get(ctx, KeyWorkspace+workspaceID).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.handleError(err, "get_workspace")
		return nil, false
	}

	var ws CachedWorkspace
	if err := json.Unmarshal(data, &ws); err != nil {
		c.logger.Debug().Err(err).Str("workspace_id", workspaceID).Msg("corrupt cached workspace, ignoring")
		return nil, false
	}
	return &ws, true
}

// SetWorkspace caches a workspace row.
func (c *Cache) SetWorkspace(ctx context.Context, ws *CachedWorkspace) error {
	if !c.IsAvailable() || ws == nil {
		return nil
	}

	data, err := json.Marshal(ws)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, KeyWorkspace+ws.ID, data, c.config.WorkspaceTTL).Err(); err != nil {
		c.handleError(err, "set_workspace")
		return err
	}
	return nil
}

// InvalidateWorkspace drops a cached workspace row.
func (c *Cache) InvalidateWorkspace(ctx context.Context, workspaceID string) {
	if !c.IsAvailable() {
		return
	}
	if err := c.client.Del(ctx, KeyWorkspace+workspaceID).Err(); err != nil {
		c.handleError(err, "invalidate_workspace")
	}
}
