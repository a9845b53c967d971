// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/massalabs/bootstrap-client/internal/config"
)

func TestNewSupervisor_DisabledReturnsNil(t *testing.T) {
	s, err := NewSupervisor(config.SupervisorConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	if s != nil {
		t.Fatal("expected nil Supervisor when schedule is empty")
	}
}

func TestNewSupervisor_RejectsBadSchedule(t *testing.T) {
	_, err := NewSupervisor(config.SupervisorConfig{Schedule: "not a schedule"}, nil, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for malformed cron schedule")
	}
}

func TestSupervisor_RunOnce_RecordsCompleted(t *testing.T) {
	s, err := NewSupervisor(config.SupervisorConfig{Schedule: "@every 1h"}, nil, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	s.runOnce()
	if s.LastResult.Status != "completed" {
		t.Errorf("LastResult.Status = %q, want completed", s.LastResult.Status)
	}
}

func TestSupervisor_RunOnce_RecordsFailed(t *testing.T) {
	probeErr := errors.New("node fell behind")
	s, err := NewSupervisor(config.SupervisorConfig{Schedule: "@every 1h"}, nil, func(context.Context) error { return probeErr })
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	s.runOnce()
	if s.LastResult.Status != "failed" || !errors.Is(s.LastResult.Err, probeErr) {
		t.Errorf("LastResult = %+v, want failed wrapping %v", s.LastResult, probeErr)
	}
}

func TestSupervisor_RunOnce_SkipsOverlappingRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, err := NewSupervisor(config.SupervisorConfig{Schedule: "@every 1h"}, nil, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runOnce()
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first runOnce never started")
	}

	s.runOnce() // should observe running=true and skip immediately
	if s.LastResult.Status != "skipped" {
		t.Errorf("LastResult.Status = %q, want skipped", s.LastResult.Status)
	}

	close(release)
	wg.Wait()
	if s.LastResult.Status != "completed" {
		t.Errorf("after release, LastResult.Status = %q, want completed", s.LastResult.Status)
	}
}
