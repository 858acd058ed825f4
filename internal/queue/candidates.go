/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue implements the slot scheduling engine: expanding weekly
// slot definitions into concrete instants, tracking occupancy, and
// assigning posts to free slots.
package queue

import (
	"sort"
	"time"

	"github.com/friendsincode/skald/internal/models"
)

const (
	// DefaultLookaheadDays is the planning window when the caller does not
	// specify one.
	DefaultLookaheadDays = 30

	// MaxLookaheadDays caps the planning window regardless of input.
	MaxLookaheadDays = 90
)

// Candidate is one concrete occurrence of a slot definition, in UTC.
type Candidate struct {
	At   time.Time
	Slot models.SlotDefinition
}

// Generator walks a workspace's slot grid day by day from a starting
// instant, yielding candidates strictly after that instant in ascending
// order. Wall-clock times are materialized in the workspace location, so
// a 09:00 slot stays at 09:00 local across DST transitions.
type Generator struct {
	byDay map[int][]models.SlotDefinition
	loc   *time.Location
	from  time.Time // local
	to    time.Time // local, exclusive

	day     time.Time // local midnight of the day being scanned
	idx     int
	scanned int
	done    bool
}

// NewGenerator builds a generator over the given slots. The window spans
// (from, from+days) in the workspace location; days is assumed validated.
func NewGenerator(slots []models.SlotDefinition, loc *time.Location, from time.Time, days int) *Generator {
	byDay := make(map[int][]models.SlotDefinition, 7)
	for _, s := range slots {
		byDay[s.DayOfWeek] = append(byDay[s.DayOfWeek], s)
	}
	// Within a day candidates must come out in time order. HH:mm is fixed
	// width so byte comparison matches chronological comparison.
	for d := range byDay {
		sort.Slice(byDay[d], func(i, j int) bool {
			return byDay[d][i].TimeOfDay < byDay[d][j].TimeOfDay
		})
	}

	localFrom := from.In(loc)
	return &Generator{
		byDay: byDay,
		loc:   loc,
		from:  localFrom,
		to:    localFrom.AddDate(0, 0, days),
		day:   time.Date(localFrom.Year(), localFrom.Month(), localFrom.Day(), 0, 0, 0, 0, loc),
	}
}

// Window reports the planning window in UTC.
func (g *Generator) Window() (from, to time.Time) {
	return g.from.UTC(), g.to.UTC()
}

// Scanned reports how many slot occurrences were materialized so far.
func (g *Generator) Scanned() int {
	return g.scanned
}

// Reset rewinds the generator to the start of its window.
func (g *Generator) Reset() {
	g.day = time.Date(g.from.Year(), g.from.Month(), g.from.Day(), 0, 0, 0, 0, g.loc)
	g.idx = 0
	g.scanned = 0
	g.done = false
}

// Next yields the next candidate, or false when the window is exhausted.
func (g *Generator) Next() (Candidate, bool) {
	if g.done {
		return Candidate{}, false
	}
	for !g.day.After(g.to) {
		slots := g.byDay[isoWeekday(g.day)]
		for g.idx < len(slots) {
			slot := slots[g.idx]
			g.idx++

			hour, minute, err := ParseClock(slot.TimeOfDay)
			if err != nil {
				continue // unparseable rows never produce candidates
			}
			at := time.Date(g.day.Year(), g.day.Month(), g.day.Day(), hour, minute, 0, 0, g.loc)
			g.scanned++

			if !at.After(g.from) {
				continue
			}
			if !at.Before(g.to) {
				// Times within a day ascend, and days ascend, so
				// nothing later can fall back inside the window.
				g.done = true
				return Candidate{}, false
			}
			return Candidate{At: at.UTC(), Slot: slot}, true
		}
		g.day = g.day.AddDate(0, 0, 1)
		g.idx = 0
	}
	g.done = true
	return Candidate{}, false
}

// isoWeekday maps time.Weekday (Sunday=0) to ISO numbering (Monday=1,
// Sunday=7), which is how slot definitions store their day.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ParseClock parses a strict "HH:mm" wall-clock value. Single-digit hours
// are rejected so stored values stay lexicographically ordered.
func ParseClock(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, validationErr("timeOfDay", "must be HH:mm")
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, validationErr("timeOfDay", "must be HH:mm")
		}
	}
	hour = int(s[0]-'0')*10 + int(s[1]-'0')
	minute = int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 {
		return 0, 0, validationErr("timeOfDay", "hour out of range")
	}
	if minute > 59 {
		return 0, 0, validationErr("timeOfDay", "minute out of range")
	}
	return hour, minute, nil
}
