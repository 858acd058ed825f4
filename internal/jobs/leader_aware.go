/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/leadership"
)

// LeaderAwareDispatcher wraps a dispatcher and only runs it while this
// instance holds leadership. With several replicas sharing the job
// store, exactly one dispatches.
type LeaderAwareDispatcher struct {
	dispatcher *Dispatcher
	election   *leadership.Election
	logger     zerolog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	running    bool
}

// NewLeaderAware creates a leader-aware dispatcher wrapper.
func NewLeaderAware(dispatcher *Dispatcher, election *leadership.Election, logger zerolog.Logger) *LeaderAwareDispatcher {
	return &LeaderAwareDispatcher{
		dispatcher: dispatcher,
		election:   election,
		logger:     logger.With().Str("component", "leader_aware_dispatcher").Logger(),
	}
}

// Start begins the election and manages the dispatcher lifecycle around
// leadership changes.
func (lad *LeaderAwareDispatcher) Start(ctx context.Context) error {
	lad.ctx = ctx

	lad.logger.Info().Msg("starting leader-aware dispatcher")

	if err := lad.election.Start(ctx); err != nil {
		return err
	}

	go lad.monitorLeadership()

	return nil
}

// Stop stops the dispatcher and releases leadership.
func (lad *LeaderAwareDispatcher) Stop() error {
	lad.logger.Info().Msg("stopping leader-aware dispatcher")

	if lad.running && lad.cancelFunc != nil {
		lad.cancelFunc()
		lad.running = false
	}

	return lad.election.Stop()
}

func (lad *LeaderAwareDispatcher) monitorLeadership() {
	leaderCh := lad.election.LeaderCh()

	if lad.election.IsLeader() {
		lad.startDispatcher()
	}

	for {
		select {
		case <-lad.ctx.Done():
			return
		case isLeader := <-leaderCh:
			if isLeader {
				lad.logger.Info().Msg("became leader, starting dispatcher")
				lad.startDispatcher()
			} else {
				lad.logger.Warn().Msg("lost leadership, stopping dispatcher")
				lad.stopDispatcher()
			}
		}
	}
}

func (lad *LeaderAwareDispatcher) startDispatcher() {
	if lad.running {
		lad.logger.Warn().Msg("dispatcher already running")
		return
	}

	ctx, cancel := context.WithCancel(lad.ctx)
	lad.cancelFunc = cancel
	lad.running = true

	go func() {
		lad.logger.Info().Msg("dispatcher started")
		if err := lad.dispatcher.Run(ctx); err != nil && err != context.Canceled {
			lad.logger.Error().Err(err).Msg("dispatcher error")
		}
		lad.running = false
		lad.logger.Info().Msg("dispatcher stopped")
	}()
}

func (lad *LeaderAwareDispatcher) stopDispatcher() {
	if !lad.running {
		return
	}

	if lad.cancelFunc != nil {
		lad.cancelFunc()
		lad.cancelFunc = nil
	}

	// Give the run loop a moment to observe cancellation.
	time.Sleep(100 * time.Millisecond)
	lad.running = false
}

// IsLeader returns whether this instance is the leader.
func (lad *LeaderAwareDispatcher) IsLeader() bool {
	return lad.election.IsLeader()
}
