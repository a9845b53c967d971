// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/massalabs/bootstrap-client/internal/config"
)

// SupervisorResult records the outcome of one scheduled staleness probe.
type SupervisorResult struct {
	Status    string // "completed", "failed", "skipped"
	Err       error
	Timestamp time.Time
}

// Supervisor (C13) periodically re-runs a refresh function (typically a
// wrapper around GetState) on a cron schedule, for long-lived node hosts
// that want to confirm they have not drifted from the network after the
// initial sync. It guards against overlapping runs the same way a single
// scheduled job on the teacher's Scheduler does.
type Supervisor struct {
	cron   *cron.Cron
	logger *slog.Logger
	refresh func(context.Context) error

	mu         sync.Mutex
	running    bool
	LastResult SupervisorResult
}

// NewSupervisor builds a Supervisor. A nil logger falls back to
// slog.Default(). Returns (nil, nil) if cfg is not Enabled().
func NewSupervisor(cfg config.SupervisorConfig, logger *slog.Logger, refresh func(context.Context) error) (*Supervisor, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		logger:  logger.With("component", "staleness_supervisor"),
		refresh: refresh,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(cfg.Schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("scheduling staleness supervisor: %w", err)
	}
	s.cron = c
	return s, nil
}

// Start begins the cron schedule.
func (s *Supervisor) Start() { s.cron.Start() }

// Stop stops the schedule, waiting up to ctx's deadline for any run in
// progress to finish.
func (s *Supervisor) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("staleness supervisor stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("staleness supervisor stop timed out")
	}
}

func (s *Supervisor) runOnce() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("staleness probe already running, skipping this tick")
		s.LastResult = SupervisorResult{Status: "skipped", Timestamp: time.Now()}
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("staleness probe triggered")
	err := s.refresh(context.Background())

	s.mu.Lock()
	if err != nil {
		s.logger.Error("staleness probe failed", "error", err)
		s.LastResult = SupervisorResult{Status: "failed", Err: err, Timestamp: time.Now()}
	} else {
		s.logger.Info("staleness probe completed")
		s.LastResult = SupervisorResult{Status: "completed", Timestamp: time.Now()}
	}
	s.mu.Unlock()
}
