/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/models"
)

// Occupancy counts scheduled posts per exact instant within a planning
// window. Instants are keyed by UTC epoch milliseconds; a post scheduled
// one minute off a slot occupies nothing.
type Occupancy struct {
	counts map[int64]int
}

// NewOccupancy returns an empty occupancy index.
func NewOccupancy() *Occupancy {
	return &Occupancy{counts: make(map[int64]int)}
}

// LoadOccupancy reads scheduled posts for a workspace within [from, to)
// and indexes them by instant. A non-empty platform restricts the count
// to that platform; slot-level capacity is per filter view, matching how
// candidates are generated. The query runs on the given handle so a
// rebuild can load occupancy inside its own transaction.
func LoadOccupancy(ctx context.Context, tx *gorm.DB, workspaceID, platform string, from, to time.Time) (*Occupancy, error) {
	q := tx.WithContext(ctx).Model(&models.Post{}).
		Where("workspace_id = ? AND status = ?", workspaceID, models.PostScheduled).
		Where("scheduled_at >= ? AND scheduled_at < ?", from, to)
	if platform != "" {
		q = q.Where("platform = ?", platform)
	}

	var instants []time.Time
	if err := q.Pluck("scheduled_at", &instants).Error; err != nil {
		return nil, err
	}

	occ := NewOccupancy()
	for _, at := range instants {
		occ.counts[at.UnixMilli()]++
	}
	return occ, nil
}

// Count reports how many posts occupy the given instant.
func (o *Occupancy) Count(at time.Time) int {
	return o.counts[at.UnixMilli()]
}

// Reserve records a tentative assignment so later picks within the same
// planning call see it.
func (o *Occupancy) Reserve(at time.Time) {
	o.counts[at.UnixMilli()]++
}
