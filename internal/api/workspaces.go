/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/queue"
)

type workspaceCreateRequest struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
	Tier     string `json:"tier"`
}

type workspaceUpdateRequest struct {
	Name     *string `json:"name"`
	Timezone *string `json:"timezone"`
	Tier     *string `json:"tier"`
}

func validTier(tier string) bool {
	switch models.Tier(tier) {
	case models.TierFree, models.TierCreator, models.TierTeam:
		return true
	}
	return false
}

func (a *API) handleWorkspacesList(w http.ResponseWriter, r *http.Request) {
	var workspaces []models.Workspace
	if err := a.db.WithContext(r.Context()).Order("name ASC").Find(&workspaces).Error; err != nil {
		a.logger.Error().Err(err).Msg("list workspaces failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, workspaces)
}

func (a *API) handleWorkspacesCreate(w http.ResponseWriter, r *http.Request) {
	var req workspaceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_timezone")
		return
	}
	if req.Tier == "" {
		req.Tier = string(models.TierFree)
	}
	if !validTier(req.Tier) {
		writeError(w, http.StatusBadRequest, "invalid_tier")
		return
	}

	workspace := models.Workspace{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Timezone: req.Timezone,
		Tier:     models.Tier(req.Tier),
	}
	if err := a.db.WithContext(r.Context()).Create(&workspace).Error; err != nil {
		a.logger.Error().Err(err).Msg("create workspace failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().
		Str("workspace_id", workspace.ID).
		Str("timezone", workspace.Timezone).
		Str("tier", string(workspace.Tier)).
		Msg("workspace created")

	a.bus.Publish(events.EventWorkspaceCreated, events.Payload{"workspace_id": workspace.ID})

	writeJSON(w, http.StatusCreated, workspace)
}

func (a *API) handleWorkspacesGet(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	var workspace models.Workspace
	result := a.db.WithContext(r.Context()).First(&workspace, "id = ?", workspaceID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "workspace_not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, workspace)
}

func (a *API) handleWorkspacesUpdate(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	var req workspaceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var workspace models.Workspace
	result := a.db.WithContext(r.Context()).First(&workspace, "id = ?", workspaceID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "workspace_not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	updates := map[string]any{}
	timezoneChanged := false

	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "name_required")
			return
		}
		updates["name"] = *req.Name
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timezone")
			return
		}
		timezoneChanged = *req.Timezone != workspace.Timezone
		updates["timezone"] = *req.Timezone
	}
	if req.Tier != nil {
		if !validTier(*req.Tier) {
			writeError(w, http.StatusBadRequest, "invalid_tier")
			return
		}
		updates["tier"] = *req.Tier
	}

	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, workspace)
		return
	}

	if err := a.db.WithContext(r.Context()).Model(&workspace).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventWorkspaceUpdated, events.Payload{"workspace_id": workspace.ID})
	a.resolver.Invalidate(r.Context(), workspace.ID)

	// A timezone change moves every slot's wall-clock instants; repack so
	// queue positions follow.
	if timezoneChanged {
		if _, err := a.queue.Rebuild(r.Context(), workspace.ID, queue.RebuildOptions{
			Statuses: []models.PostStatus{models.PostScheduled},
			Trigger:  "timezone_change",
		}); err != nil {
			a.logger.Error().Err(err).
				Str("workspace_id", workspace.ID).
				Msg("rebuild after timezone change failed")
		}
	}

	writeJSON(w, http.StatusOK, workspace)
}

func (a *API) handleWorkspacesDelete(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	err := a.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.Workspace{}, "id = ?", workspaceID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Delete(&models.SlotDefinition{}, "workspace_id = ?", workspaceID).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, "workspace_id = ?", workspaceID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "workspace_not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("delete workspace failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventWorkspaceDeleted, events.Payload{"workspace_id": workspaceID})
	a.resolver.Invalidate(r.Context(), workspaceID)

	w.WriteHeader(http.StatusNoContent)
}
