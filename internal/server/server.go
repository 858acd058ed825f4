/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the scheduling engine together and serves HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skald/internal/api"
	"github.com/friendsincode/skald/internal/cache"
	"github.com/friendsincode/skald/internal/config"
	"github.com/friendsincode/skald/internal/db"
	"github.com/friendsincode/skald/internal/events"
	"github.com/friendsincode/skald/internal/jobs"
	"github.com/friendsincode/skald/internal/leadership"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/slots"
	"github.com/friendsincode/skald/internal/telemetry"
	"github.com/friendsincode/skald/internal/timezone"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db                    *gorm.DB
	cache                 *cache.Cache
	bus                   *events.Bus
	resolver              *timezone.Resolver
	queue                 *queue.Service
	slots                 *slots.Service
	jobStore              jobs.Store
	dispatcher            *jobs.Dispatcher
	leaderAwareDispatcher *jobs.LeaderAwareDispatcher
	api                   *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("skald-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis cache for hot workspace reads. A missing Redis degrades to
	// uncached operation, never to a startup failure.
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	workspaceCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
	} else {
		s.cache = workspaceCache
		s.DeferClose(func() error { return s.cache.Close() })
	}

	s.resolver = timezone.NewResolver(database, s.logger)
	if s.cache != nil {
		s.resolver.SetCache(s.cache)
	}

	// Job store: Redis when reachable, in-process otherwise.
	if store, err := jobs.NewRedisStore(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB); err != nil {
		s.logger.Warn().Err(err).Msg("Redis job store unavailable, using in-memory store")
		s.jobStore = jobs.NewMemoryStore()
	} else {
		s.jobStore = store
	}
	s.DeferClose(func() error { return s.jobStore.Close() })

	syncer := jobs.NewSyncer(s.jobStore, s.logger)
	s.queue = queue.New(database, s.resolver, syncer, s.bus, s.cfg.LookaheadDays, s.logger)
	s.slots = slots.New(database, s.resolver, s.queue, s.bus, s.logger)

	s.dispatcher = jobs.NewDispatcher(database, s.jobStore, s.bus, jobs.DispatcherConfig{
		Interval:      s.cfg.DispatchInterval,
		BatchSize:     s.cfg.DispatchBatchSize,
		ReconcileSpec: s.cfg.ReconcileSpec,
	}, s.logger)

	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}

		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderAwareDispatcher = jobs.NewLeaderAware(s.dispatcher, election, s.logger)
		s.DeferClose(func() error { return s.leaderAwareDispatcher.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionConfig.InstanceID).
			Msg("leader election enabled for dispatcher")
	}

	s.api = api.New(database, s.queue, s.slots, s.resolver, s.jobStore, s.bus, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Dispatcher: leader-aware if configured, otherwise direct.
	if s.leaderAwareDispatcher != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAwareDispatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware dispatcher exited")
			}
		}()
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("dispatcher loop exited")
			}
		}()
	}

	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener drops cached workspace rows when their
// source of truth changes.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	created := s.bus.Subscribe(events.EventWorkspaceCreated)
	updated := s.bus.Subscribe(events.EventWorkspaceUpdated)
	deleted := s.bus.Subscribe(events.EventWorkspaceDeleted)

	defer func() {
		s.bus.Unsubscribe(events.EventWorkspaceCreated, created)
		s.bus.Unsubscribe(events.EventWorkspaceUpdated, updated)
		s.bus.Unsubscribe(events.EventWorkspaceDeleted, deleted)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	invalidate := func(payload events.Payload) {
		if workspaceID, ok := payload["workspace_id"].(string); ok {
			s.cache.InvalidateWorkspace(ctx, workspaceID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return
		case payload := <-created:
			invalidate(payload)
		case payload := <-updated:
			invalidate(payload)
		case payload := <-deleted:
			invalidate(payload)
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`
		if s.leaderAwareDispatcher != nil {
			if s.leaderAwareDispatcher.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
