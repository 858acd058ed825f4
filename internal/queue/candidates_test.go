/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"testing"
	"time"

	"github.com/friendsincode/skald/internal/models"
)

func slot(day int, tod string, capacity int) models.SlotDefinition {
	return models.SlotDefinition{
		ID:        "slot-" + tod,
		DayOfWeek: day,
		TimeOfDay: tod,
		Capacity:  capacity,
		IsActive:  true,
	}
}

func TestGeneratorDSTKeepsWallClock(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// US DST starts Sunday 2026-03-08. A Monday 09:00 slot must stay at
	// 09:00 local on both sides of the transition.
	from := time.Date(2026, time.February, 28, 12, 0, 0, 0, time.UTC)
	gen := NewGenerator([]models.SlotDefinition{slot(1, "09:00", 1)}, loc, from, 14)

	first, ok := gen.Next()
	if !ok {
		t.Fatal("expected first candidate")
	}
	// Monday 2026-03-02 09:00 EST is 14:00 UTC.
	if want := time.Date(2026, time.March, 2, 14, 0, 0, 0, time.UTC); !first.At.Equal(want) {
		t.Errorf("first candidate = %v, want %v", first.At, want)
	}

	second, ok := gen.Next()
	if !ok {
		t.Fatal("expected second candidate")
	}
	// Monday 2026-03-09 09:00 EDT is 13:00 UTC.
	if want := time.Date(2026, time.March, 9, 13, 0, 0, 0, time.UTC); !second.At.Equal(want) {
		t.Errorf("second candidate = %v, want %v", second.At, want)
	}
}

func TestGeneratorStrictlyAfterFrom(t *testing.T) {
	// from lands exactly on a slot occurrence; that occurrence must not
	// be yielded.
	from := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC) // a Monday
	gen := NewGenerator([]models.SlotDefinition{slot(1, "09:00", 1)}, time.UTC, from, 14)

	cand, ok := gen.Next()
	if !ok {
		t.Fatal("expected a candidate")
	}
	if want := time.Date(2026, time.March, 9, 9, 0, 0, 0, time.UTC); !cand.At.Equal(want) {
		t.Errorf("candidate = %v, want next week %v", cand.At, want)
	}
}

func TestGeneratorAscendingOrder(t *testing.T) {
	slots := []models.SlotDefinition{
		slot(3, "08:00", 1),
		slot(1, "17:30", 1),
		slot(1, "09:00", 1),
		slot(7, "12:00", 1),
	}
	from := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC) // Sunday midnight
	gen := NewGenerator(slots, time.UTC, from, 14)

	var prev time.Time
	n := 0
	for {
		cand, ok := gen.Next()
		if !ok {
			break
		}
		if !cand.At.After(prev) {
			t.Fatalf("candidate %v not after previous %v", cand.At, prev)
		}
		prev = cand.At
		n++
	}
	// 4 slots over 2 full weeks; the Sunday slot on day 0 is at 12:00,
	// after from, so it counts too.
	if n != 8 {
		t.Errorf("candidate count = %d, want 8", n)
	}
}

func TestGeneratorResetReplaysIdentically(t *testing.T) {
	slots := []models.SlotDefinition{slot(2, "10:00", 2), slot(5, "16:00", 1)}
	from := time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC)
	gen := NewGenerator(slots, time.UTC, from, 21)

	var firstPass []time.Time
	for {
		cand, ok := gen.Next()
		if !ok {
			break
		}
		firstPass = append(firstPass, cand.At)
	}

	gen.Reset()
	for i := 0; ; i++ {
		cand, ok := gen.Next()
		if !ok {
			if i != len(firstPass) {
				t.Fatalf("second pass ended at %d, want %d", i, len(firstPass))
			}
			break
		}
		if !cand.At.Equal(firstPass[i]) {
			t.Fatalf("second pass[%d] = %v, want %v", i, cand.At, firstPass[i])
		}
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{in: "00:00", hour: 0, minute: 0},
		{in: "09:30", hour: 9, minute: 30},
		{in: "23:59", hour: 23, minute: 59},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "9:00", wantErr: true},
		{in: "09:0", wantErr: true},
		{in: "0900", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		hour, minute, err := ParseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if hour != tt.hour || minute != tt.minute {
			t.Errorf("ParseClock(%q) = %d:%d, want %d:%d", tt.in, hour, minute, tt.hour, tt.minute)
		}
	}
}
