/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/skald/internal/db"
	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/timezone"
)

func setup(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	resolver := timezone.NewResolver(database, zerolog.Nop())
	bus := events.NewBus()
	queueSvc := queue.New(database, resolver, nil, bus, queue.DefaultLookaheadDays, zerolog.Nop())
	return New(database, resolver, queueSvc, bus, zerolog.Nop()), database
}

func createWorkspace(t *testing.T, database *gorm.DB, tier models.Tier) models.Workspace {
	t.Helper()
	ws := models.Workspace{
		ID:       uuid.NewString(),
		Name:     "ws-" + uuid.NewString(),
		Timezone: "UTC",
		Tier:     tier,
	}
	if err := database.Create(&ws).Error; err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return ws
}

func TestCreateValidation(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	tests := []struct {
		name string
		in   CreateInput
	}{
		{name: "day too low", in: CreateInput{DayOfWeek: 0, TimeOfDay: "09:00"}},
		{name: "day too high", in: CreateInput{DayOfWeek: 8, TimeOfDay: "09:00"}},
		{name: "bad clock", in: CreateInput{DayOfWeek: 1, TimeOfDay: "9am"}},
		{name: "single digit hour", in: CreateInput{DayOfWeek: 1, TimeOfDay: "9:00"}},
		{name: "negative capacity", in: CreateInput{DayOfWeek: 1, TimeOfDay: "09:00", Capacity: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), ws.ID, tt.in)
			var verr *queue.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateDuplicateIdentity(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	in := CreateInput{DayOfWeek: 2, TimeOfDay: "10:00", Platform: "mastodon"}
	if _, err := svc.Create(context.Background(), ws.ID, in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(context.Background(), ws.ID, in); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate create err = %v, want ErrConflict", err)
	}

	// Same day and time on a different platform is a distinct identity.
	in.Platform = "bluesky"
	if _, err := svc.Create(context.Background(), ws.ID, in); err != nil {
		t.Errorf("different platform create: %v", err)
	}
}

func TestCreateSlotQuota(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierFree)

	limit := models.LimitsForTier(models.TierFree).MaxQueueSlots
	for i := 0; i < limit; i++ {
		_, err := svc.Create(context.Background(), ws.ID, CreateInput{
			DayOfWeek: (i % 7) + 1,
			TimeOfDay: time.Date(2026, 1, 1, 8+(i/7), 0, 0, 0, time.UTC).Format("15:04"),
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	_, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 7, TimeOfDay: "23:00"})
	if !errors.Is(err, queue.ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestSlotQuotaIgnoresInactive(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierFree)

	limit := models.LimitsForTier(models.TierFree).MaxQueueSlots
	for i := 0; i < limit; i++ {
		_, err := svc.Create(context.Background(), ws.ID, CreateInput{
			DayOfWeek: (i % 7) + 1,
			TimeOfDay: time.Date(2026, 1, 1, 8+(i/7), 0, 0, 0, time.UTC).Format("15:04"),
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if err := database.Model(&models.SlotDefinition{}).
		Where("workspace_id = ?", ws.ID).
		Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate slots: %v", err)
	}

	// Deactivated slots free their quota.
	if _, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 7, TimeOfDay: "23:00"}); err != nil {
		t.Errorf("create with zero active slots: %v", err)
	}

	// The defaults batch counts against active slots only; the inactive
	// 08:00 weekday combinations still block duplicates.
	created, err := svc.GenerateDefaults(context.Background(), ws.ID, DefaultsInput{
		Times: []string{"08:00", "17:00"},
		Days:  []int{1, 2, 3, 4, 5},
	})
	if err != nil {
		t.Fatalf("GenerateDefaults with inactive slots: %v", err)
	}
	if len(created) != 5 {
		t.Errorf("created %d slots, want 5 (the 17:00 half)", len(created))
	}
}

func TestCreateTriggersRebuild(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	// A post stuck on a now-offgrid instant next week.
	post := models.Post{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Status:      models.PostScheduled,
		Body:        "stale",
	}
	at := time.Now().UTC().AddDate(0, 0, 3).Truncate(time.Hour).Add(30 * time.Minute)
	post.ScheduledAt = &at
	if err := database.Create(&post).Error; err != nil {
		t.Fatalf("seed post: %v", err)
	}

	if _, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 1, TimeOfDay: "09:00"}); err != nil {
		t.Fatalf("create slot: %v", err)
	}

	var moved models.Post
	if err := database.First(&moved, "id = ?", post.ID).Error; err != nil {
		t.Fatalf("load post: %v", err)
	}
	if moved.ScheduledAt == nil {
		t.Fatal("post lost its position instead of moving")
	}
	if moved.ScheduledAt.Equal(at) {
		t.Error("post still on the off-grid instant after rebuild")
	}
}

func TestUpdatePartial(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	slot, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 1, TimeOfDay: "09:00", Capacity: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	capacity := 3
	active := false
	updated, err := svc.Update(context.Background(), ws.ID, slot.ID, UpdateInput{
		Capacity: &capacity,
		IsActive: &active,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Capacity != 3 || updated.IsActive {
		t.Errorf("updated = capacity %d active %v, want 3/false", updated.Capacity, updated.IsActive)
	}
	if updated.DayOfWeek != 1 || updated.TimeOfDay != "09:00" {
		t.Errorf("untouched fields changed: day %d time %s", updated.DayOfWeek, updated.TimeOfDay)
	}
}

func TestUpdateIntoConflict(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	if _, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 1, TimeOfDay: "09:00"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 1, TimeOfDay: "10:00"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tod := "09:00"
	if _, err := svc.Update(context.Background(), ws.ID, second.ID, UpdateInput{TimeOfDay: &tod}); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateUnknownSlot(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	capacity := 2
	_, err := svc.Update(context.Background(), ws.ID, uuid.NewString(), UpdateInput{Capacity: &capacity})
	if !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("err = %v, want ErrSlotNotFound", err)
	}
}

func TestDeleteMovesPosts(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	doomed, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 1, TimeOfDay: "09:00"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 3, TimeOfDay: "09:00"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete(context.Background(), ws.ID, doomed.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(context.Background(), ws.ID, doomed.ID); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("second delete err = %v, want ErrSlotNotFound", err)
	}

	slots, err := svc.List(context.Background(), ws.ID, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 1 || slots[0].DayOfWeek != 3 {
		t.Errorf("remaining slots = %+v, want only Wednesday", slots)
	}
}

func TestGenerateDefaults(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	created, err := svc.GenerateDefaults(context.Background(), ws.ID, DefaultsInput{})
	if err != nil {
		t.Fatalf("GenerateDefaults: %v", err)
	}
	if len(created) != 10 {
		t.Fatalf("created %d slots, want 10 (weekdays x 2)", len(created))
	}
	for _, s := range created {
		if s.DayOfWeek < 1 || s.DayOfWeek > 5 {
			t.Errorf("default slot on day %d, want weekday", s.DayOfWeek)
		}
		if s.TimeOfDay != "09:00" && s.TimeOfDay != "17:00" {
			t.Errorf("default slot at %s", s.TimeOfDay)
		}
	}

	// Re-running is idempotent: every combination already exists.
	again, err := svc.GenerateDefaults(context.Background(), ws.ID, DefaultsInput{})
	if err != nil {
		t.Fatalf("second GenerateDefaults: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second run created %d slots, want 0", len(again))
	}
}

func TestGenerateDefaultsCustomGrid(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	// Pre-existing slot overlaps one combination; it is skipped, not a
	// conflict.
	if _, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 6, TimeOfDay: "12:00", Platform: "mastodon"}); err != nil {
		t.Fatalf("seed slot: %v", err)
	}

	created, err := svc.GenerateDefaults(context.Background(), ws.ID, DefaultsInput{
		Times:    []string{"12:00", "18:30"},
		Days:     []int{6, 7},
		Platform: "mastodon",
	})
	if err != nil {
		t.Fatalf("GenerateDefaults: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d slots, want 3 (2x2 minus the existing one)", len(created))
	}

	_, err = svc.GenerateDefaults(context.Background(), ws.ID, DefaultsInput{Times: []string{"25:00"}})
	var verr *queue.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("bad time err = %v, want ValidationError", err)
	}
}

func TestGenerateDefaultsQuota(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierFree)

	// Free tier allows 10 slots; a 14-combination batch must fail whole.
	_, err := svc.GenerateDefaults(context.Background(), ws.ID, DefaultsInput{
		Times: []string{"09:00", "17:00"},
		Days:  []int{1, 2, 3, 4, 5, 6, 7},
	})
	if !errors.Is(err, queue.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}

	var count int64
	if err := database.Model(&models.SlotDefinition{}).Where("workspace_id = ?", ws.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("quota failure wrote %d slots, want 0", count)
	}
}

func TestListPlatformFilter(t *testing.T) {
	svc, database := setup(t)
	ws := createWorkspace(t, database, models.TierCreator)

	if _, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 1, TimeOfDay: "09:00"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 2, TimeOfDay: "09:00", Platform: "mastodon"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(context.Background(), ws.ID, CreateInput{DayOfWeek: 3, TimeOfDay: "09:00", Platform: "bluesky"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Platform filter keeps agnostic slots plus the matching platform.
	slots, err := svc.List(context.Background(), ws.ID, "mastodon")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 2 {
		t.Errorf("filtered list has %d slots, want 2", len(slots))
	}
}

func TestListUnknownWorkspace(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.List(context.Background(), uuid.NewString(), "")
	if !errors.Is(err, timezone.ErrWorkspaceNotFound) {
		t.Errorf("err = %v, want ErrWorkspaceNotFound", err)
	}
}
