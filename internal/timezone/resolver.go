/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timezone resolves workspace IANA timezones. Slot times are
// wall-clock values in the workspace zone; everything persisted is UTC.
package timezone

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/cache"
	"github.com/friendsincode/skald/internal/models"
)

// ErrWorkspaceNotFound is returned for unknown workspace ids.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Resolver loads workspace timezones, using the cache when available.
type Resolver struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewResolver constructs a timezone resolver.
func NewResolver(db *gorm.DB, logger zerolog.Logger) *Resolver {
	return &Resolver{db: db, logger: logger.With().Str("component", "timezone").Logger()}
}

// SetCache wires the workspace cache into the resolver.
func (r *Resolver) SetCache(c *cache.Cache) {
	r.cache = c
}

// Invalidate drops the cached row for a workspace after a change.
func (r *Resolver) Invalidate(ctx context.Context, workspaceID string) {
	if r.cache != nil {
		r.cache.InvalidateWorkspace(ctx, workspaceID)
	}
}

// Workspace loads the workspace row, cache first.
func (r *Resolver) Workspace(ctx context.Context, workspaceID string) (models.Workspace, error) {
	if r.cache != nil {
		if cached, ok := r.cache.GetWorkspace(ctx, workspaceID); ok {
			return models.Workspace{
				ID:       cached.ID,
				Timezone: cached.Timezone,
				Tier:     models.Tier(cached.Tier),
			}, nil
		}
	}

	var ws models.Workspace
	err := r.db.WithContext(ctx).Where("id = ?", workspaceID).First(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Workspace{}, ErrWorkspaceNotFound
	}
	if err != nil {
		return models.Workspace{}, err
	}

	if r.cache != nil {
		_ = r.cache.SetWorkspace(ctx, &cache.CachedWorkspace{
			ID:       ws.ID,
			Timezone: ws.Timezone,
			Tier:     string(ws.Tier),
		})
	}

	return ws, nil
}

// Resolve returns the workspace's location. Invalid or empty timezones
// fall back to UTC with a warning rather than failing the call.
func (r *Resolver) Resolve(ctx context.Context, workspaceID string) (*time.Location, error) {
	ws, err := r.Workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return r.Location(ws), nil
}

// Location converts a workspace row into a *time.Location.
func (r *Resolver) Location(ws models.Workspace) *time.Location {
	if ws.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(ws.Timezone)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("workspace_id", ws.ID).
			Str("timezone", ws.Timezone).
			Msg("invalid workspace timezone, falling back to UTC")
		return time.UTC
	}
	return loc
}
