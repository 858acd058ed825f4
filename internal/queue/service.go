/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/telemetry"
	"github.com/friendsincode/skald/internal/timezone"
)

// MaxPreviewCount caps how many future instants a preview may request.
const MaxPreviewCount = 50

// Syncer keeps the delayed publish jobs in step with queue positions.
type Syncer interface {
	// Refresh upserts the publish job for a post at the given instant.
	Refresh(ctx context.Context, postID string, runAt time.Time) error
	// Cancel removes the publish job for a post, if any.
	Cancel(ctx context.Context, postID string) error
}

// Service is the scheduling engine. All persisted instants are UTC;
// planning happens in the workspace timezone.
type Service struct {
	db       *gorm.DB
	resolver *timezone.Resolver
	syncer   Syncer
	bus      *events.Bus
	logger   zerolog.Logger

	defaultDays int
}

// New creates the scheduling service. defaultDays outside [1, 90] falls
// back to the standard 30-day window.
func New(db *gorm.DB, resolver *timezone.Resolver, syncer Syncer, bus *events.Bus, defaultDays int, logger zerolog.Logger) *Service {
	if defaultDays < 1 || defaultDays > MaxLookaheadDays {
		defaultDays = DefaultLookaheadDays
	}
	return &Service{
		db:          db,
		resolver:    resolver,
		syncer:      syncer,
		bus:         bus,
		logger:      logger.With().Str("component", "queue").Logger(),
		defaultDays: defaultDays,
	}
}

// ScheduledPost pairs a post with its assigned publish instant.
type ScheduledPost struct {
	PostID      string    `json:"postId"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// AssignResult reports what a bulk operation placed and what it skipped.
type AssignResult struct {
	Scheduled []ScheduledPost `json:"scheduled"`
	Skipped   []string        `json:"skipped,omitempty"`
}

// AssignOptions tunes a bulk assignment.
type AssignOptions struct {
	Platform          string
	From              time.Time // zero means now
	Days              int       // zero means the service default
	MinSpacingMinutes int
}

// RebuildOptions tunes a queue rebuild.
type RebuildOptions struct {
	Platform string
	From     time.Time
	Days     int
	Statuses []models.PostStatus // default: draft and scheduled
	Trigger  string              // recorded in metrics; default "manual"
}

// plan bundles everything a single planning pass needs.
type plan struct {
	ws  models.Workspace
	gen *Generator
	occ *Occupancy
}

func (s *Service) normalizeWindow(from time.Time, days int) (time.Time, int, error) {
	if days == 0 {
		days = s.defaultDays
	}
	if days < 1 || days > MaxLookaheadDays {
		return time.Time{}, 0, validationErr("days", "must be between 1 and 90")
	}
	if from.IsZero() {
		from = time.Now()
	}
	return from.UTC(), days, nil
}

// loadPlan resolves the workspace, expands its active slot grid and reads
// current occupancy, all on the given handle.
func (s *Service) loadPlan(ctx context.Context, tx *gorm.DB, workspaceID, platform string, from time.Time, days int) (*plan, error) {
	ws, err := s.resolver.Workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	loc := s.resolver.Location(ws)

	var slots []models.SlotDefinition
	q := tx.WithContext(ctx).
		Where("workspace_id = ? AND is_active = ?", workspaceID, true)
	if platform != "" {
		// Platform-agnostic slots serve every platform.
		q = q.Where("platform = ? OR platform = ''", platform)
	}
	if err := q.Order("day_of_week ASC, time_of_day ASC").Find(&slots).Error; err != nil {
		return nil, err
	}

	gen := NewGenerator(slots, loc, from, days)
	windowFrom, windowTo := gen.Window()

	occ, err := LoadOccupancy(ctx, tx, workspaceID, platform, windowFrom, windowTo)
	if err != nil {
		return nil, err
	}
	return &plan{ws: ws, gen: gen, occ: occ}, nil
}

// NextAvailable returns the first free slot instant strictly after from,
// or ErrNoSlotAvailable if the lookahead window has no free capacity.
func (s *Service) NextAvailable(ctx context.Context, workspaceID, platform string, from time.Time) (time.Time, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue", "NextAvailable")
	defer span.End()
	defer s.observe("next_available", time.Now())

	from, days, err := s.normalizeWindow(from, 0)
	if err != nil {
		return time.Time{}, err
	}

	p, err := s.loadPlan(ctx, s.db, workspaceID, platform, from, days)
	if err != nil {
		telemetry.RecordError(span, err)
		return time.Time{}, err
	}
	defer telemetry.CandidateScanDepth.Observe(float64(p.gen.Scanned()))

	for {
		cand, ok := p.gen.Next()
		if !ok {
			telemetry.PlanFailuresTotal.WithLabelValues(workspaceID, "no_slot").Inc()
			return time.Time{}, ErrNoSlotAvailable
		}
		if p.occ.Count(cand.At) < cand.Slot.Capacity {
			return cand.At, nil
		}
	}
}

// Preview returns the next count free instants without persisting
// anything. Each returned instant is tentatively reserved within the
// call, so capacity-2 slots appear at most twice.
func (s *Service) Preview(ctx context.Context, workspaceID, platform string, from time.Time, days, count int) ([]time.Time, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue", "Preview")
	defer span.End()
	defer s.observe("preview", time.Now())

	if count <= 0 {
		count = 10
	}
	if count > MaxPreviewCount {
		return nil, validationErr("count", "must be at most 50")
	}
	from, days, err := s.normalizeWindow(from, days)
	if err != nil {
		return nil, err
	}

	p, err := s.loadPlan(ctx, s.db, workspaceID, platform, from, days)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer telemetry.CandidateScanDepth.Observe(float64(p.gen.Scanned()))

	out := make([]time.Time, 0, count)
	for len(out) < count {
		cand, ok := p.gen.Next()
		if !ok {
			break
		}
		if p.occ.Count(cand.At) < cand.Slot.Capacity {
			p.occ.Reserve(cand.At)
			out = append(out, cand.At)
		}
	}
	return out, nil
}

// BulkAssign places the given posts, in input order, onto the next free
// slots. Unknown and already-scheduled ids are skipped, not failed. The
// whole batch is checked against the tier's queue quota up front; a batch
// that would exceed it fails with ErrQuotaExceeded before any write.
func (s *Service) BulkAssign(ctx context.Context, workspaceID string, postIDs []string, opts AssignOptions) (*AssignResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue", "BulkAssign")
	defer span.End()
	defer s.observe("bulk_assign", time.Now())

	if len(postIDs) == 0 {
		return nil, validationErr("postIds", "must not be empty")
	}
	if opts.MinSpacingMinutes < 0 {
		return nil, validationErr("minSpacingMinutes", "must not be negative")
	}
	from, days, err := s.normalizeWindow(opts.From, opts.Days)
	if err != nil {
		return nil, err
	}

	p, err := s.loadPlan(ctx, s.db, workspaceID, opts.Platform, from, days)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer telemetry.CandidateScanDepth.Observe(float64(p.gen.Scanned()))

	// Quota covers the whole requested batch, skips included: callers
	// should trim their batch, not rely on skips to squeeze under the cap.
	limits := p.ws.Limits()
	var scheduled int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("workspace_id = ? AND status = ?", workspaceID, models.PostScheduled).
		Count(&scheduled).Error; err != nil {
		return nil, err
	}
	if int(scheduled)+len(postIDs) > limits.MaxPostsInQueue {
		telemetry.PlanFailuresTotal.WithLabelValues(workspaceID, "quota").Inc()
		return nil, ErrQuotaExceeded
	}

	var posts []models.Post
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND id IN ?", workspaceID, postIDs).
		Find(&posts).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]models.Post, len(posts))
	for _, post := range posts {
		byID[post.ID] = post
	}

	seen := make(map[string]bool, len(postIDs))
	eligible := make([]string, 0, len(postIDs))
	var skipped []string
	for _, id := range postIDs {
		if seen[id] {
			skipped = append(skipped, id)
			continue
		}
		seen[id] = true
		post, ok := byID[id]
		if !ok || post.IsScheduled() {
			skipped = append(skipped, id)
			continue
		}
		eligible = append(eligible, id)
	}

	spacing := time.Duration(opts.MinSpacingMinutes) * time.Minute
	assignments, unplaced := planAssignments(p.gen, p.occ, eligible, from, spacing)
	if len(eligible) > 0 && len(assignments) == 0 {
		telemetry.PlanFailuresTotal.WithLabelValues(workspaceID, "queue_full").Inc()
		return nil, ErrQueueFull
	}
	skipped = append(skipped, unplaced...)

	if err := s.applyAssignments(ctx, s.db, assignments); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.syncJobs(ctx, assignments)

	for _, a := range assignments {
		s.bus.Publish(events.EventPostScheduled, events.Payload{
			"workspace_id": workspaceID,
			"post_id":      a.PostID,
			"scheduled_at": a.ScheduledAt,
		})
	}
	telemetry.PostsAssignedTotal.WithLabelValues(workspaceID, "bulk_assign").Add(float64(len(assignments)))
	s.logger.Info().
		Str("workspace_id", workspaceID).
		Int("requested", len(postIDs)).
		Int("assigned", len(assignments)).
		Int("skipped", len(skipped)).
		Msg("bulk assignment complete")

	return &AssignResult{Scheduled: assignments, Skipped: skipped}, nil
}

// planAssignments walks candidates once, placing ids in order. The cursor
// starts at from and advances past each pick by the spacing, so multiple
// posts never land closer together than requested. ids that did not fit
// in the window come back as unplaced.
func planAssignments(gen *Generator, occ *Occupancy, ids []string, cursor time.Time, spacing time.Duration) (placed []ScheduledPost, unplaced []string) {
	i := 0
	for i < len(ids) {
		cand, ok := gen.Next()
		if !ok {
			break
		}
		if cand.At.Before(cursor) {
			continue
		}
		for i < len(ids) && occ.Count(cand.At) < cand.Slot.Capacity {
			placed = append(placed, ScheduledPost{PostID: ids[i], ScheduledAt: cand.At})
			occ.Reserve(cand.At)
			cursor = cand.At.Add(spacing)
			i++
			if spacing > 0 {
				// With spacing, a slot's remaining capacity is out of
				// reach for this batch; move to a later candidate.
				break
			}
		}
	}
	return placed, append(unplaced, ids[i:]...)
}

func (s *Service) applyAssignments(ctx context.Context, handle *gorm.DB, assignments []ScheduledPost) error {
	if len(assignments) == 0 {
		return nil
	}
	return handle.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range assignments {
			at := a.ScheduledAt
			if err := tx.Model(&models.Post{}).
				Where("id = ?", a.PostID).
				Updates(map[string]any{
					"status":       models.PostScheduled,
					"scheduled_at": &at,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// syncJobs registers publish jobs after the queue positions are durable.
// Failures are logged and counted, never propagated: the reconcile loop
// repairs missing jobs from the posts table.
func (s *Service) syncJobs(ctx context.Context, assignments []ScheduledPost) {
	if s.syncer == nil {
		return
	}
	for _, a := range assignments {
		if err := s.syncer.Refresh(ctx, a.PostID, a.ScheduledAt); err != nil {
			telemetry.JobSyncFailuresTotal.Inc()
			s.logger.Warn().Err(err).Str("post_id", a.PostID).Msg("publish job refresh failed")
		}
	}
}

func (s *Service) cancelJobs(ctx context.Context, postIDs []string) {
	if s.syncer == nil {
		return
	}
	for _, id := range postIDs {
		if err := s.syncer.Cancel(ctx, id); err != nil {
			telemetry.JobSyncFailuresTotal.Inc()
			s.logger.Warn().Err(err).Str("post_id", id).Msg("publish job cancel failed")
		}
	}
}

// Rebuild clears every matching queue position and reassigns the affected
// posts from scratch in a single transaction. Posts keep their relative
// order (scheduled instant, then creation time). Assignments beyond the
// tier's queue cap are dropped to draft rather than failing the rebuild.
func (s *Service) Rebuild(ctx context.Context, workspaceID string, opts RebuildOptions) (*AssignResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue", "Rebuild")
	defer span.End()
	defer s.observe("rebuild", time.Now())

	from, days, err := s.normalizeWindow(opts.From, opts.Days)
	if err != nil {
		return nil, err
	}
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = []models.PostStatus{models.PostDraft, models.PostScheduled}
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	ws, err := s.resolver.Workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	limits := ws.Limits()

	var result AssignResult
	var cleared []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slots []models.SlotDefinition
		slotQ := tx.Where("workspace_id = ? AND is_active = ?", workspaceID, true)
		if opts.Platform != "" {
			slotQ = slotQ.Where("platform = ? OR platform = ''", opts.Platform)
		}
		if err := slotQ.Order("day_of_week ASC, time_of_day ASC").Find(&slots).Error; err != nil {
			return err
		}

		gen := NewGenerator(slots, s.resolver.Location(ws), from, days)
		windowFrom, windowTo := gen.Window()

		var affected []models.Post
		postQ := tx.Where("workspace_id = ? AND status IN ?", workspaceID, statuses).
			Where("scheduled_at IS NULL OR (scheduled_at >= ? AND scheduled_at < ?)", windowFrom, windowTo)
		if opts.Platform != "" {
			postQ = postQ.Where("platform = ?", opts.Platform)
		}
		if err := postQ.
			Order("scheduled_at IS NULL ASC, scheduled_at ASC, created_at ASC").
			Find(&affected).Error; err != nil {
			return err
		}
		if len(affected) == 0 {
			return nil
		}

		ids := make([]string, len(affected))
		for i, post := range affected {
			ids[i] = post.ID
		}

		// Clear first so the occupancy read below only sees positions
		// this rebuild does not own.
		if err := tx.Model(&models.Post{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":       models.PostDraft,
				"scheduled_at": nil,
			}).Error; err != nil {
			return err
		}

		occ, err := LoadOccupancy(ctx, tx, workspaceID, opts.Platform, windowFrom, windowTo)
		if err != nil {
			return err
		}

		var stillScheduled int64
		if err := tx.Model(&models.Post{}).
			Where("workspace_id = ? AND status = ?", workspaceID, models.PostScheduled).
			Count(&stillScheduled).Error; err != nil {
			return err
		}
		planIDs := ids
		if room := limits.MaxPostsInQueue - int(stillScheduled); room < len(planIDs) {
			if room < 0 {
				room = 0
			}
			planIDs = planIDs[:room]
			result.Skipped = append(result.Skipped, ids[room:]...)
		}

		placed, unplaced := planAssignments(gen, occ, planIDs, from, 0)
		result.Scheduled = placed
		result.Skipped = append(result.Skipped, unplaced...)

		placedSet := make(map[string]bool, len(placed))
		for _, a := range placed {
			placedSet[a.PostID] = true
		}
		for _, id := range ids {
			if !placedSet[id] {
				cleared = append(cleared, id)
			}
		}

		for _, a := range placed {
			at := a.ScheduledAt
			if err := tx.Model(&models.Post{}).
				Where("id = ?", a.PostID).
				Updates(map[string]any{
					"status":       models.PostScheduled,
					"scheduled_at": &at,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.PlanFailuresTotal.WithLabelValues(workspaceID, "rebuild_failed").Inc()
		return nil, err
	}

	s.syncJobs(ctx, result.Scheduled)
	s.cancelJobs(ctx, cleared)

	s.bus.Publish(events.EventQueueRebuilt, events.Payload{
		"workspace_id": workspaceID,
		"assigned":     len(result.Scheduled),
		"skipped":      len(result.Skipped),
		"trigger":      trigger,
	})
	telemetry.RebuildsTotal.WithLabelValues(workspaceID, trigger).Inc()
	telemetry.PostsAssignedTotal.WithLabelValues(workspaceID, "rebuild").Add(float64(len(result.Scheduled)))
	s.logger.Info().
		Str("workspace_id", workspaceID).
		Str("trigger", trigger).
		Int("assigned", len(result.Scheduled)).
		Int("skipped", len(result.Skipped)).
		Msg("queue rebuilt")

	return &result, nil
}

// ClearQueue drops every future queue position for a workspace (optionally
// one platform) back to draft and cancels the matching publish jobs.
// Returns how many posts were cleared.
func (s *Service) ClearQueue(ctx context.Context, workspaceID, platform string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue", "ClearQueue")
	defer span.End()
	defer s.observe("clear", time.Now())

	if _, err := s.resolver.Workspace(ctx, workspaceID); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Post{}).
			Where("workspace_id = ? AND status = ? AND scheduled_at >= ?", workspaceID, models.PostScheduled, now)
		if platform != "" {
			q = q.Where("platform = ?", platform)
		}
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Post{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":       models.PostDraft,
				"scheduled_at": nil,
			}).Error
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}

	s.cancelJobs(ctx, ids)
	s.bus.Publish(events.EventQueueCleared, events.Payload{
		"workspace_id": workspaceID,
		"platform":     platform,
		"cleared":      len(ids),
	})
	s.logger.Info().
		Str("workspace_id", workspaceID).
		Int("cleared", len(ids)).
		Msg("queue cleared")
	return len(ids), nil
}

// ListQueue returns the workspace's upcoming queue positions in order.
func (s *Service) ListQueue(ctx context.Context, workspaceID, platform string) ([]models.Post, error) {
	if _, err := s.resolver.Workspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	var posts []models.Post
	q := s.db.WithContext(ctx).
		Where("workspace_id = ? AND status = ? AND scheduled_at >= ?", workspaceID, models.PostScheduled, time.Now().UTC())
	if platform != "" {
		q = q.Where("platform = ?", platform)
	}
	if err := q.Order("scheduled_at ASC").Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *Service) observe(operation string, start time.Time) {
	telemetry.PlanDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IsRetryable reports whether a scheduling failure can succeed on retry
// with different parameters (wider window, later from).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNoSlotAvailable) || errors.Is(err, ErrQueueFull)
}
