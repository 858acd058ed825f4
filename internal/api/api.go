/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface of the scheduling engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/jobs"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/slots"
	"github.com/friendsincode/skald/internal/timezone"
)

// API exposes HTTP handlers.
type API struct {
	db       *gorm.DB
	queue    *queue.Service
	slots    *slots.Service
	resolver *timezone.Resolver
	jobStore jobs.Store
	bus      *events.Bus
	logger   zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, queueSvc *queue.Service, slotsSvc *slots.Service, resolver *timezone.Resolver, jobStore jobs.Store, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		db:       db,
		queue:    queueSvc,
		slots:    slotsSvc,
		resolver: resolver,
		jobStore: jobStore,
		bus:      bus,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", a.handleWorkspacesList)
			r.Post("/", a.handleWorkspacesCreate)

			r.Route("/{workspaceID}", func(r chi.Router) {
				r.Get("/", a.handleWorkspacesGet)
				r.Patch("/", a.handleWorkspacesUpdate)
				r.Delete("/", a.handleWorkspacesDelete)

				r.Route("/slots", func(r chi.Router) {
					r.Get("/", a.handleSlotsList)
					r.Post("/", a.handleSlotsCreate)
					r.Post("/defaults", a.handleSlotsGenerateDefaults)
					r.Patch("/{slotID}", a.handleSlotsUpdate)
					r.Delete("/{slotID}", a.handleSlotsDelete)
				})

				r.Route("/posts", func(r chi.Router) {
					r.Get("/", a.handlePostsList)
					r.Post("/", a.handlePostsCreate)
					r.Get("/{postID}", a.handlePostsGet)
					r.Delete("/{postID}", a.handlePostsDelete)
				})

				r.Route("/queue", func(r chi.Router) {
					r.Get("/", a.handleQueueList)
					r.Get("/next", a.handleQueueNext)
					r.Get("/preview", a.handleQueuePreview)
					r.Post("/assign", a.handleQueueAssign)
					r.Post("/rebuild", a.handleQueueRebuild)
					r.Delete("/", a.handleQueueClear)
				})
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeScheduleError maps engine errors onto HTTP statuses. Quota
// failures are terminal and billed as payment required; full-window
// failures are conflicts the caller can retry with other parameters.
func (a *API) writeScheduleError(w http.ResponseWriter, err error) {
	var verr *queue.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, timezone.ErrWorkspaceNotFound):
		writeError(w, http.StatusNotFound, "workspace_not_found")
	case errors.Is(err, slots.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found")
	case errors.Is(err, queue.ErrQuotaExceeded):
		writeError(w, http.StatusPaymentRequired, "quota_exceeded")
	case errors.Is(err, slots.ErrConflict):
		writeError(w, http.StatusConflict, "slot_conflict")
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusConflict, "queue_full")
	case errors.Is(err, queue.ErrNoSlotAvailable):
		writeError(w, http.StatusConflict, "no_slot_available")
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
