/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/skald/internal/slots"
)

func (a *API) handleSlotsList(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	list, err := a.slots.List(r.Context(), workspaceID, r.URL.Query().Get("platform"))
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleSlotsCreate(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	var req slots.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	slot, err := a.slots.Create(r.Context(), workspaceID, req)
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (a *API) handleSlotsUpdate(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	slotID := chi.URLParam(r, "slotID")

	var req slots.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	slot, err := a.slots.Update(r.Context(), workspaceID, slotID, req)
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotsDelete(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	slotID := chi.URLParam(r, "slotID")

	if err := a.slots.Delete(r.Context(), workspaceID, slotID); err != nil {
		a.writeScheduleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSlotsGenerateDefaults(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	// An empty body seeds the standard weekday grid.
	var req slots.DefaultsInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	created, err := a.slots.GenerateDefaults(r.Context(), workspaceID, req)
	if err != nil {
		a.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
