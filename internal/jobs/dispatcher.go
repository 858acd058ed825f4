/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/telemetry"
)

// DispatcherConfig tunes the dispatch loop.
type DispatcherConfig struct {
	// Interval between due-job polls.
	Interval time.Duration
	// BatchSize caps how many jobs one poll dispatches.
	BatchSize int
	// ReconcileSpec is a cron expression for the job-store repair pass.
	ReconcileSpec string
}

// Dispatcher polls the job store and emits a post.due event for every
// job whose instant has arrived. Publishing itself happens downstream;
// the dispatcher only hands posts over at the right moment.
type Dispatcher struct {
	db     *gorm.DB
	store  Store
	bus    *events.Bus
	logger zerolog.Logger
	config DispatcherConfig

	cron *cron.Cron
}

// NewDispatcher creates a dispatcher over the given store.
func NewDispatcher(db *gorm.DB, store Store, bus *events.Bus, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ReconcileSpec == "" {
		cfg.ReconcileSpec = "@hourly"
	}
	return &Dispatcher{
		db:     db,
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "dispatcher").Logger(),
		config: cfg,
	}
}

// Run drives the dispatch loop until the context is cancelled. The
// reconcile pass runs on its cron spec and repairs drift between the
// posts table and the job store.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().
		Dur("interval", d.config.Interval).
		Str("reconcile_spec", d.config.ReconcileSpec).
		Msg("dispatcher started")

	d.cron = cron.New()
	if _, err := d.cron.AddFunc(d.config.ReconcileSpec, func() {
		if err := d.Reconcile(ctx); err != nil {
			d.logger.Error().Err(err).Msg("job store reconcile failed")
		}
	}); err != nil {
		return err
	}
	d.cron.Start()
	defer d.cron.Stop()

	// One reconcile at startup so restarts recover lost jobs promptly.
	if err := d.Reconcile(ctx); err != nil {
		d.logger.Error().Err(err).Msg("initial job store reconcile failed")
	}

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.dispatchDue(ctx); err != nil {
				d.logger.Error().Err(err).Msg("dispatch pass failed")
			}
		}
	}
}

// dispatchDue hands over every job whose instant has arrived.
func (d *Dispatcher) dispatchDue(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := d.store.Due(ctx, now, d.config.BatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	done := make([]string, 0, len(due))
	for _, job := range due {
		var post models.Post
		err := d.db.WithContext(ctx).First(&post, "id = ?", job.PostID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Post deleted underneath the job; drop it.
			done = append(done, job.PostID)
			continue
		}
		if err != nil {
			return err
		}

		// A stale job for a post that moved or left the queue is dropped
		// without dispatching; the reschedule wrote a fresh job already.
		if !post.IsScheduled() || !post.ScheduledAt.Equal(job.RunAt) {
			done = append(done, job.PostID)
			continue
		}

		d.bus.Publish(events.EventPostDue, events.Payload{
			"workspace_id": post.WorkspaceID,
			"post_id":      post.ID,
			"platform":     post.Platform,
			"scheduled_at": *post.ScheduledAt,
		})
		telemetry.JobsDispatchedTotal.Inc()
		d.logger.Info().
			Str("post_id", post.ID).
			Str("workspace_id", post.WorkspaceID).
			Time("scheduled_at", *post.ScheduledAt).
			Msg("post due for publishing")
		done = append(done, job.PostID)
	}

	return d.store.Remove(ctx, done...)
}

// Reconcile re-seeds the job store from the posts table. Every future
// queue position gets a job; stale future jobs are overwritten by the
// upsert. Past-due scheduled posts are left to the dispatch loop.
func (d *Dispatcher) Reconcile(ctx context.Context) error {
	var posts []models.Post
	err := d.db.WithContext(ctx).
		Where("status = ? AND scheduled_at >= ?", models.PostScheduled, time.Now().UTC()).
		Find(&posts).Error
	if err != nil {
		return err
	}

	for _, post := range posts {
		if err := d.store.Schedule(ctx, post.ID, *post.ScheduledAt); err != nil {
			telemetry.JobSyncFailuresTotal.Inc()
			return err
		}
	}

	d.logger.Debug().Int("jobs", len(posts)).Msg("job store reconciled")
	return nil
}
