/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/queue"
)

type assignRequest struct {
	PostIDs           []string `json:"postIds"`
	Platform          string   `json:"platform"`
	From              string   `json:"from"` // RFC 3339, optional
	Days              int      `json:"days"`
	MinSpacingMinutes int      `json:"minSpacingMinutes"`
}

type rebuildRequest struct {
	Platform string              `json:"platform"`
	From     string              `json:"from"`
	Days     int                 `json:"days"`
	Statuses []models.PostStatus `json:"statuses"` // default: draft and scheduled
}

// parseFrom accepts an optional RFC 3339 instant; empty means now.
func parseFrom(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func (a *API) handleQueueList(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	posts, err := a.queue.ListQueue(r.Context(), workspaceID, r.URL.Query().Get("platform"))
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (a *API) handleQueueNext(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	from, ok := parseFrom(r.URL.Query().Get("from"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_from")
		return
	}

	next, err := a.queue.NextAvailable(r.Context(), workspaceID, r.URL.Query().Get("platform"), from)
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nextAvailable": next})
}

func (a *API) handleQueuePreview(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	from, ok := parseFrom(r.URL.Query().Get("from"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_from")
		return
	}

	count := 0
	if v := r.URL.Query().Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_count")
			return
		}
		count = parsed
	}
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_days")
			return
		}
		days = parsed
	}

	instants, err := a.queue.Preview(r.Context(), workspaceID, r.URL.Query().Get("platform"), from, days, count)
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": instants})
}

func (a *API) handleQueueAssign(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	from, ok := parseFrom(req.From)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_from")
		return
	}

	result, err := a.queue.BulkAssign(r.Context(), workspaceID, req.PostIDs, queue.AssignOptions{
		Platform:          req.Platform,
		From:              from,
		Days:              req.Days,
		MinSpacingMinutes: req.MinSpacingMinutes,
	})
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleQueueRebuild(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	// An empty body rebuilds with defaults.
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	from, ok := parseFrom(req.From)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_from")
		return
	}

	result, err := a.queue.Rebuild(r.Context(), workspaceID, queue.RebuildOptions{
		Platform: req.Platform,
		From:     from,
		Days:     req.Days,
		Statuses: req.Statuses,
		Trigger:  "api",
	})
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	cleared, err := a.queue.ClearQueue(r.Context(), workspaceID, r.URL.Query().Get("platform"))
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}
