/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/models"
)

type postCreateRequest struct {
	Platform string `json:"platform"`
	Body     string `json:"body"`
}

func (a *API) handlePostsList(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	if _, err := a.resolver.Workspace(r.Context(), workspaceID); err != nil {
		a.writeScheduleError(w, err)
		return
	}

	query := a.db.WithContext(r.Context()).Where("workspace_id = ?", workspaceID)
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if platform := r.URL.Query().Get("platform"); platform != "" {
		query = query.Where("platform = ?", platform)
	}

	var posts []models.Post
	if err := query.Order("created_at ASC").Find(&posts).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (a *API) handlePostsCreate(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	if _, err := a.resolver.Workspace(r.Context(), workspaceID); err != nil {
		a.writeScheduleError(w, err)
		return
	}

	var req postCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, "body_required")
		return
	}

	post := models.Post{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Platform:    req.Platform,
		Status:      models.PostDraft,
		Body:        req.Body,
	}
	if err := a.db.WithContext(r.Context()).Create(&post).Error; err != nil {
		a.logger.Error().Err(err).Msg("create post failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusCreated, post)
}

func (a *API) handlePostsGet(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	postID := chi.URLParam(r, "postID")

	var post models.Post
	result := a.db.WithContext(r.Context()).
		First(&post, "id = ? AND workspace_id = ?", postID, workspaceID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "post_not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (a *API) handlePostsDelete(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	postID := chi.URLParam(r, "postID")

	result := a.db.WithContext(r.Context()).
		Delete(&models.Post{}, "id = ? AND workspace_id = ?", postID, workspaceID)
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "post_not_found")
		return
	}

	// Deleting a scheduled post leaves a dangling job; drop it.
	if a.jobStore != nil {
		if err := a.jobStore.Cancel(r.Context(), postID); err != nil {
			a.logger.Warn().Err(err).Str("post_id", postID).Msg("publish job cancel failed")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
