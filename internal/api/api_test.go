/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/skald/internal/db"
	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/jobs"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/slots"
	"github.com/friendsincode/skald/internal/timezone"
)

func setupAPI(t *testing.T) (*chi.Mux, *gorm.DB) {
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

	logger := zerolog.Nop()
	bus := events.NewBus()
	resolver := timezone.NewResolver(database, logger)
	store := jobs.NewMemoryStore()
	syncer := jobs.NewSyncer(store, logger)
	queueSvc := queue.New(database, resolver, syncer, bus, queue.DefaultLookaheadDays, logger)
	slotsSvc := slots.New(database, resolver, queueSvc, bus, logger)

	router := chi.NewRouter()
	New(database, queueSvc, slotsSvc, resolver, store, bus, logger).Routes(router)
	return router, database
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func createWorkspace(t *testing.T, router http.Handler, tier string) models.Workspace {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/workspaces", map[string]string{
		"name":     "ws-" + tier + "-" + time.Now().Format("150405.000000000"),
		"timezone": "UTC",
		"tier":     tier,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create workspace: status %d body %s", rec.Code, rec.Body.String())
	}
	return decode[models.Workspace](t, rec)
}

func TestWorkspaceLifecycle(t *testing.T) {
	router, _ := setupAPI(t)

	ws := createWorkspace(t, router, "creator")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/workspaces/"+ws.ID+"/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get workspace: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPatch, "/api/v1/workspaces/"+ws.ID+"/", map[string]string{"tier": "team"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch workspace: status %d body %s", rec.Code, rec.Body.String())
	}
	if got := decode[models.Workspace](t, rec); got.Tier != models.TierTeam {
		t.Errorf("tier = %s, want team", got.Tier)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/workspaces/"+ws.ID+"/", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete workspace: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/workspaces/"+ws.ID+"/", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted workspace: status %d, want 404", rec.Code)
	}
}

func TestWorkspaceValidation(t *testing.T) {
	router, _ := setupAPI(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{name: "missing name", body: map[string]string{"timezone": "UTC"}},
		{name: "bad timezone", body: map[string]string{"name": "x", "timezone": "Mars/Olympus"}},
		{name: "bad tier", body: map[string]string{"name": "y", "tier": "platinum"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/workspaces", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSlotEndpoints(t *testing.T) {
	router, _ := setupAPI(t)
	ws := createWorkspace(t, router, "creator")
	base := "/api/v1/workspaces/" + ws.ID + "/slots"

	slotBody := map[string]any{"dayOfWeek": 2, "timeOfDay": "10:00", "capacity": 2}
	rec := doJSON(t, router, http.MethodPost, base+"/", slotBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create slot: status %d body %s", rec.Code, rec.Body.String())
	}
	created := decode[models.SlotDefinition](t, rec)

	// Duplicate identity conflicts.
	rec = doJSON(t, router, http.MethodPost, base+"/", slotBody)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate slot: status %d, want 409", rec.Code)
	}

	// Malformed time is rejected up front.
	rec = doJSON(t, router, http.MethodPost, base+"/", map[string]any{"dayOfWeek": 2, "timeOfDay": "25:00"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad time: status %d, want 400", rec.Code)
	}

	capacity := 5
	rec = doJSON(t, router, http.MethodPatch, base+"/"+created.ID, map[string]any{"capacity": capacity})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch slot: status %d body %s", rec.Code, rec.Body.String())
	}
	if got := decode[models.SlotDefinition](t, rec); got.Capacity != capacity {
		t.Errorf("capacity = %d, want %d", got.Capacity, capacity)
	}

	rec = doJSON(t, router, http.MethodDelete, base+"/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete slot: status %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, base+"/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing slot: status %d, want 404", rec.Code)
	}
}

func TestGenerateDefaultsEndpoint(t *testing.T) {
	router, _ := setupAPI(t)
	ws := createWorkspace(t, router, "creator")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/slots/defaults", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate defaults: status %d body %s", rec.Code, rec.Body.String())
	}
	created := decode[[]models.SlotDefinition](t, rec)
	if len(created) != 10 {
		t.Errorf("created %d default slots, want 10", len(created))
	}

	// Idempotent: a second call finds every combination taken.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/slots/defaults", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("second defaults call: status %d", rec.Code)
	}
	again := decode[[]models.SlotDefinition](t, rec)
	if len(again) != 0 {
		t.Errorf("second defaults call created %d slots, want 0", len(again))
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/slots/defaults", map[string]any{
		"times": []string{"20:00"}, "days": []int{6},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("custom defaults call: status %d body %s", rec.Code, rec.Body.String())
	}
	custom := decode[[]models.SlotDefinition](t, rec)
	if len(custom) != 1 || custom[0].DayOfWeek != 6 || custom[0].TimeOfDay != "20:00" {
		t.Errorf("custom defaults = %+v, want one Saturday 20:00 slot", custom)
	}
}

func TestQueueFlow(t *testing.T) {
	router, _ := setupAPI(t)
	ws := createWorkspace(t, router, "creator")
	base := "/api/v1/workspaces/" + ws.ID

	rec := doJSON(t, router, http.MethodPost, base+"/slots/", map[string]any{
		"dayOfWeek": 2, "timeOfDay": "10:00", "capacity": 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create slot: %d", rec.Code)
	}

	var postIDs []string
	for i := 0; i < 3; i++ {
		rec = doJSON(t, router, http.MethodPost, base+"/posts/", map[string]string{
			"platform": "mastodon",
			"body":     fmt.Sprintf("post %d", i),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create post: %d", rec.Code)
		}
		postIDs = append(postIDs, decode[models.Post](t, rec).ID)
	}

	// Future from so queue listing and clearing (which only consider
	// upcoming instants) see the assignments.
	from := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rec = doJSON(t, router, http.MethodGet, base+"/queue/next?from="+from, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("queue next: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, base+"/queue/preview?count=3&from="+from, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview: status %d", rec.Code)
	}
	preview := decode[map[string][]time.Time](t, rec)
	if len(preview["slots"]) != 3 {
		t.Fatalf("preview slots = %d, want 3", len(preview["slots"]))
	}

	rec = doJSON(t, router, http.MethodPost, base+"/queue/assign", map[string]any{
		"postIds": postIDs,
		"from":    from,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign: status %d body %s", rec.Code, rec.Body.String())
	}
	result := decode[queue.AssignResult](t, rec)
	if len(result.Scheduled) != 3 {
		t.Fatalf("assigned %d, want 3", len(result.Scheduled))
	}
	// Assignment matches what the preview promised.
	for i, sp := range result.Scheduled {
		if !sp.ScheduledAt.Equal(preview["slots"][i]) {
			t.Errorf("assigned[%d] = %v, preview promised %v", i, sp.ScheduledAt, preview["slots"][i])
		}
	}

	rec = doJSON(t, router, http.MethodGet, base+"/queue/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("queue list: status %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, base+"/queue/rebuild", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rebuild: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodDelete, base+"/queue/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear: status %d", rec.Code)
	}
	cleared := decode[map[string]int](t, rec)
	if cleared["cleared"] != 3 {
		t.Errorf("cleared = %d, want 3", cleared["cleared"])
	}
}

func TestRebuildStatusFilter(t *testing.T) {
	router, _ := setupAPI(t)
	ws := createWorkspace(t, router, "creator")
	base := "/api/v1/workspaces/" + ws.ID

	rec := doJSON(t, router, http.MethodPost, base+"/slots/", map[string]any{
		"dayOfWeek": 1, "timeOfDay": "09:00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create slot: %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, base+"/posts/", map[string]string{
		"platform": "mastodon", "body": "draft only",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create post: %d", rec.Code)
	}

	// Restricted to already-scheduled posts, the draft stays out.
	rec = doJSON(t, router, http.MethodPost, base+"/queue/rebuild", map[string]any{
		"statuses": []string{"scheduled"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("rebuild: status %d body %s", rec.Code, rec.Body.String())
	}
	result := decode[queue.AssignResult](t, rec)
	if len(result.Scheduled) != 0 {
		t.Errorf("scheduled-only rebuild placed %d posts, want 0", len(result.Scheduled))
	}

	// The default rebuild pulls drafts in.
	rec = doJSON(t, router, http.MethodPost, base+"/queue/rebuild", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("default rebuild: status %d body %s", rec.Code, rec.Body.String())
	}
	result = decode[queue.AssignResult](t, rec)
	if len(result.Scheduled) != 1 {
		t.Errorf("default rebuild placed %d posts, want 1", len(result.Scheduled))
	}
}

func TestQueueErrorsMapToStatuses(t *testing.T) {
	router, _ := setupAPI(t)
	ws := createWorkspace(t, router, "free")
	base := "/api/v1/workspaces/" + ws.ID

	// No slots at all: planning finds nothing.
	rec := doJSON(t, router, http.MethodGet, base+"/queue/next", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("no slot available: status %d, want 409", rec.Code)
	}

	// Unknown workspace is a 404.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/workspaces/00000000-0000-0000-0000-000000000000/queue/next", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown workspace: status %d, want 404", rec.Code)
	}

	// Bad from parameter.
	rec = doJSON(t, router, http.MethodGet, base+"/queue/next?from=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad from: status %d, want 400", rec.Code)
	}

	// Quota: a free workspace holds at most 30 queued posts; a batch of
	// 31 ids is rejected before planning with 402.
	rec = doJSON(t, router, http.MethodPost, base+"/slots/", map[string]any{"dayOfWeek": 1, "timeOfDay": "09:00"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create slot: %d", rec.Code)
	}
	ids := make([]string, models.LimitsForTier(models.TierFree).MaxPostsInQueue+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("00000000-0000-0000-0000-%012d", i)
	}
	rec = doJSON(t, router, http.MethodPost, base+"/queue/assign", map[string]any{"postIds": ids})
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("quota exceeded: status %d, want 402", rec.Code)
	}

	// Empty batch is a validation error.
	rec = doJSON(t, router, http.MethodPost, base+"/queue/assign", map[string]any{"postIds": []string{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch: status %d, want 400", rec.Code)
	}
}
