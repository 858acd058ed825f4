/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slots manages the weekly slot grid. Grid changes trigger a
// queue rebuild so existing positions follow the new grid.
package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/timezone"
)

// ErrConflict is returned when a slot definition with the same identity
// (workspace, day, time, platform) already exists.
var ErrConflict = errors.New("slot definition already exists")

// ErrSlotNotFound is returned for unknown slot ids.
var ErrSlotNotFound = errors.New("slot definition not found")

// Service manages slot definitions for workspaces.
type Service struct {
	db       *gorm.DB
	resolver *timezone.Resolver
	queue    *queue.Service
	bus      *events.Bus
	logger   zerolog.Logger
}

// New creates the slot management service.
func New(db *gorm.DB, resolver *timezone.Resolver, queueSvc *queue.Service, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		resolver: resolver,
		queue:    queueSvc,
		bus:      bus,
		logger:   logger.With().Str("component", "slots").Logger(),
	}
}

// CreateInput describes a new slot definition.
type CreateInput struct {
	DayOfWeek int    `json:"dayOfWeek"`
	TimeOfDay string `json:"timeOfDay"`
	Platform  string `json:"platform"`
	Capacity  int    `json:"capacity"`
}

// UpdateInput carries partial updates; nil fields are left unchanged.
type UpdateInput struct {
	DayOfWeek *int    `json:"dayOfWeek"`
	TimeOfDay *string `json:"timeOfDay"`
	Platform  *string `json:"platform"`
	Capacity  *int    `json:"capacity"`
	IsActive  *bool   `json:"isActive"`
}

func validateDay(day int) error {
	if day < 1 || day > 7 {
		return &queue.ValidationError{Field: "dayOfWeek", Reason: "must be 1 (Monday) through 7 (Sunday)"}
	}
	return nil
}

func validateCapacity(capacity int) error {
	if capacity < 1 {
		return &queue.ValidationError{Field: "capacity", Reason: "must be at least 1"}
	}
	return nil
}

// Create adds a slot definition and rebuilds the workspace queue.
func (s *Service) Create(ctx context.Context, workspaceID string, in CreateInput) (*models.SlotDefinition, error) {
	if err := validateDay(in.DayOfWeek); err != nil {
		return nil, err
	}
	if _, _, err := queue.ParseClock(in.TimeOfDay); err != nil {
		return nil, err
	}
	if in.Capacity == 0 {
		in.Capacity = 1
	}
	if err := validateCapacity(in.Capacity); err != nil {
		return nil, err
	}

	ws, err := s.resolver.Workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	// Inactive slots do not count against the tier quota.
	var active int64
	if err := s.db.WithContext(ctx).Model(&models.SlotDefinition{}).
		Where("workspace_id = ? AND is_active = ?", workspaceID, true).
		Count(&active).Error; err != nil {
		return nil, err
	}
	if int(active) >= ws.Limits().MaxQueueSlots {
		return nil, queue.ErrQuotaExceeded
	}

	var duplicate int64
	if err := s.db.WithContext(ctx).Model(&models.SlotDefinition{}).
		Where("workspace_id = ? AND day_of_week = ? AND time_of_day = ? AND platform = ?",
			workspaceID, in.DayOfWeek, in.TimeOfDay, in.Platform).
		Count(&duplicate).Error; err != nil {
		return nil, err
	}
	if duplicate > 0 {
		return nil, ErrConflict
	}

	slot := models.SlotDefinition{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		DayOfWeek:   in.DayOfWeek,
		TimeOfDay:   in.TimeOfDay,
		Platform:    in.Platform,
		Capacity:    in.Capacity,
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(&slot).Error; err != nil {
		return nil, err
	}

	s.bus.Publish(events.EventSlotCreated, events.Payload{
		"workspace_id": workspaceID,
		"slot_id":      slot.ID,
	})
	s.logger.Info().
		Str("workspace_id", workspaceID).
		Str("slot_id", slot.ID).
		Int("day", slot.DayOfWeek).
		Str("time", slot.TimeOfDay).
		Msg("slot created")

	s.rebuild(ctx, workspaceID, slot.Platform, "slot_created")
	return &slot, nil
}

// Update applies partial changes to a slot definition and rebuilds.
func (s *Service) Update(ctx context.Context, workspaceID, slotID string, in UpdateInput) (*models.SlotDefinition, error) {
	var slot models.SlotDefinition
	err := s.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", slotID, workspaceID).
		First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}

	if in.DayOfWeek != nil {
		if err := validateDay(*in.DayOfWeek); err != nil {
			return nil, err
		}
		slot.DayOfWeek = *in.DayOfWeek
	}
	if in.TimeOfDay != nil {
		if _, _, err := queue.ParseClock(*in.TimeOfDay); err != nil {
			return nil, err
		}
		slot.TimeOfDay = *in.TimeOfDay
	}
	if in.Platform != nil {
		slot.Platform = *in.Platform
	}
	if in.Capacity != nil {
		if err := validateCapacity(*in.Capacity); err != nil {
			return nil, err
		}
		slot.Capacity = *in.Capacity
	}
	if in.IsActive != nil {
		slot.IsActive = *in.IsActive
	}

	var duplicate int64
	if err := s.db.WithContext(ctx).Model(&models.SlotDefinition{}).
		Where("workspace_id = ? AND day_of_week = ? AND time_of_day = ? AND platform = ? AND id <> ?",
			workspaceID, slot.DayOfWeek, slot.TimeOfDay, slot.Platform, slot.ID).
		Count(&duplicate).Error; err != nil {
		return nil, err
	}
	if duplicate > 0 {
		return nil, ErrConflict
	}

	if err := s.db.WithContext(ctx).Save(&slot).Error; err != nil {
		return nil, err
	}

	s.bus.Publish(events.EventSlotUpdated, events.Payload{
		"workspace_id": workspaceID,
		"slot_id":      slot.ID,
	})
	s.rebuild(ctx, workspaceID, slot.Platform, "slot_updated")
	return &slot, nil
}

// Delete removes a slot definition and rebuilds the queue so posts on
// the removed slot move elsewhere.
func (s *Service) Delete(ctx context.Context, workspaceID, slotID string) error {
	var slot models.SlotDefinition
	err := s.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", slotID, workspaceID).
		First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSlotNotFound
	}
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&slot).Error; err != nil {
		return err
	}

	s.bus.Publish(events.EventSlotDeleted, events.Payload{
		"workspace_id": workspaceID,
		"slot_id":      slotID,
	})
	s.logger.Info().
		Str("workspace_id", workspaceID).
		Str("slot_id", slotID).
		Msg("slot deleted")

	s.rebuild(ctx, workspaceID, slot.Platform, "slot_deleted")
	return nil
}

// List returns a workspace's slot definitions in grid order. A non-empty
// platform restricts the listing to that platform plus agnostic slots.
func (s *Service) List(ctx context.Context, workspaceID, platform string) ([]models.SlotDefinition, error) {
	if _, err := s.resolver.Workspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID)
	if platform != "" {
		q = q.Where("platform = ? OR platform = ''", platform)
	}
	var slots []models.SlotDefinition
	err := q.Order("day_of_week ASC, time_of_day ASC, platform ASC").
		Find(&slots).Error
	return slots, err
}

// DefaultsInput describes a grid seeding request. Empty fields fall back
// to a weekday morning/evening grid.
type DefaultsInput struct {
	Times    []string `json:"times"`
	Days     []int    `json:"days"`
	Platform string   `json:"platform"`
}

// GenerateDefaults inserts the times x days grid, capacity 1, skipping
// combinations that already exist. The whole batch counts against the
// tier's active-slot quota up front.
func (s *Service) GenerateDefaults(ctx context.Context, workspaceID string, in DefaultsInput) ([]models.SlotDefinition, error) {
	if len(in.Times) == 0 {
		in.Times = []string{"09:00", "17:00"}
	}
	if len(in.Days) == 0 {
		in.Days = []int{1, 2, 3, 4, 5}
	}
	for _, day := range in.Days {
		if err := validateDay(day); err != nil {
			return nil, err
		}
	}
	for _, tod := range in.Times {
		if _, _, err := queue.ParseClock(tod); err != nil {
			return nil, err
		}
	}

	ws, err := s.resolver.Workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	var existing []models.SlotDefinition
	if err := s.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Find(&existing).Error; err != nil {
		return nil, err
	}
	identity := func(day int, tod, platform string) string {
		return fmt.Sprintf("%d|%s|%s", day, tod, platform)
	}
	taken := make(map[string]bool, len(existing))
	active := 0
	for _, slot := range existing {
		taken[identity(slot.DayOfWeek, slot.TimeOfDay, slot.Platform)] = true
		if slot.IsActive {
			active++
		}
	}

	created := make([]models.SlotDefinition, 0, len(in.Days)*len(in.Times))
	for _, day := range in.Days {
		for _, tod := range in.Times {
			key := identity(day, tod, in.Platform)
			if taken[key] {
				continue
			}
			taken[key] = true
			created = append(created, models.SlotDefinition{
				ID:          uuid.NewString(),
				WorkspaceID: workspaceID,
				DayOfWeek:   day,
				TimeOfDay:   tod,
				Platform:    in.Platform,
				Capacity:    1,
				IsActive:    true,
			})
		}
	}
	if len(created) == 0 {
		return created, nil
	}

	if active+len(created) > ws.Limits().MaxQueueSlots {
		return nil, queue.ErrQuotaExceeded
	}

	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("workspace_id", workspaceID).
		Int("slots", len(created)).
		Msg("default grid generated")

	s.rebuild(ctx, workspaceID, in.Platform, "defaults_generated")
	return created, nil
}

// rebuild repacks the queue after a grid change. Failures are logged,
// not propagated: the grid change itself already succeeded and a manual
// rebuild can recover.
func (s *Service) rebuild(ctx context.Context, workspaceID, platform, trigger string) {
	if s.queue == nil {
		return
	}
	start := time.Now()
	if _, err := s.queue.Rebuild(ctx, workspaceID, queue.RebuildOptions{
		Platform: platform,
		Statuses: []models.PostStatus{models.PostScheduled},
		Trigger:  trigger,
	}); err != nil {
		s.logger.Error().Err(err).
			Str("workspace_id", workspaceID).
			Str("trigger", trigger).
			Msg("queue rebuild after grid change failed")
		return
	}
	s.logger.Debug().
		Str("workspace_id", workspaceID).
		Dur("took", time.Since(start)).
		Msg("queue rebuilt after grid change")
}
