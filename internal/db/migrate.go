/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/skald/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Workspace{},
		&models.SlotDefinition{},
		&models.Post{},
	); err != nil {
		return err
	}

	if err := applyPostgresCapacityGuard(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresCapacityGuard installs a trigger that rejects scheduling more
// posts onto one instant than the matching slot's capacity allows. Concurrent
// planning calls for the same workspace are not serialized in-process; this is
// the storage-layer backstop against true double-booking. Other backends rely
// on the in-call reservation only.
func applyPostgresCapacityGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_slot_overbooking()
RETURNS trigger
LANGUAGE plpgsql
AS $$
DECLARE
  slot_capacity integer;
  occupied integer;
BEGIN
  IF NEW.status <> 'scheduled' OR NEW.scheduled_at IS NULL THEN
    RETURN NEW;
  END IF;

  SELECT max(s.capacity) INTO slot_capacity
  FROM slot_definitions s
  JOIN workspaces w ON w.id = s.workspace_id
  WHERE s.workspace_id = NEW.workspace_id
    AND s.is_active
    AND s.day_of_week = EXTRACT(ISODOW FROM timezone(w.timezone, NEW.scheduled_at))
    AND s.time_of_day = to_char(timezone(w.timezone, NEW.scheduled_at), 'HH24:MI');

  IF slot_capacity IS NULL THEN
    RETURN NEW;
  END IF;

  SELECT count(*) INTO occupied
  FROM posts p
  WHERE p.workspace_id = NEW.workspace_id
    AND p.id <> NEW.id
    AND p.status = 'scheduled'
    AND p.scheduled_at = NEW.scheduled_at;

  IF occupied >= slot_capacity THEN
    RAISE EXCEPTION 'slot at % is at capacity % for workspace %', NEW.scheduled_at, slot_capacity, NEW.workspace_id
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_slot_overbooking ON posts;

CREATE TRIGGER trg_prevent_slot_overbooking
BEFORE INSERT OR UPDATE OF workspace_id, status, scheduled_at
ON posts
FOR EACH ROW
EXECUTE FUNCTION prevent_slot_overbooking();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres capacity guard: %w", err)
	}

	return nil
}
