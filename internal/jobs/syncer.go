/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Syncer maps queue positions onto the job store. It satisfies the
// scheduling engine's job-sync dependency.
type Syncer struct {
	store  Store
	logger zerolog.Logger
}

// NewSyncer creates a job syncer over the given store.
func NewSyncer(store Store, logger zerolog.Logger) *Syncer {
	return &Syncer{
		store:  store,
		logger: logger.With().Str("component", "job_syncer").Logger(),
	}
}

// Refresh upserts the publish job for a post. The store keys jobs by
// post id, so a moved post never ends up with two jobs.
func (s *Syncer) Refresh(ctx context.Context, postID string, runAt time.Time) error {
	if err := s.store.Schedule(ctx, postID, runAt); err != nil {
		return err
	}
	s.logger.Debug().
		Str("post_id", postID).
		Time("run_at", runAt).
		Msg("publish job refreshed")
	return nil
}

// Cancel removes the publish job for a post.
func (s *Syncer) Cancel(ctx context.Context, postID string) error {
	if err := s.store.Cancel(ctx, postID); err != nil {
		return err
	}
	s.logger.Debug().Str("post_id", postID).Msg("publish job cancelled")
	return nil
}
