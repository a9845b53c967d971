// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package diagnostics

import (
	"fmt"
	"time"

	"github.com/massalabs/bootstrap-client/internal/config"
)

// Recorder is the single write surface the bootstrap core uses to report
// what it is doing: operational events plus finished per-server attempts.
// A nil *Recorder is valid and every method on it is a no-op, so callers
// need not branch on whether diagnostics is enabled.
type Recorder struct {
	events   *EventStore
	sessions *sessionRing
}

// NewRecorder builds a Recorder from cfg, or returns nil if cfg.Enabled()
// is false.
func NewRecorder(cfg config.DiagnosticsConfig) (*Recorder, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	store, err := NewEventStore(cfg.EventLogPath, cfg.RingCapacity, cfg.MaxEventLines)
	if err != nil {
		return nil, fmt.Errorf("opening diagnostics event store: %w", err)
	}

	return &Recorder{
		events:   store,
		sessions: newSessionRing(cfg.RingCapacity),
	}, nil
}

// Event appends one operational event. No-op on a nil Recorder.
func (r *Recorder) Event(level, eventType, server, message string) {
	if r == nil {
		return
	}
	r.events.Push(Event{Level: level, Type: eventType, Server: server, Message: message})
}

// Attempt records the outcome of one finished connect+handshake+session
// cycle against server. No-op on a nil Recorder.
func (r *Recorder) Attempt(server string, started, finished time.Time, bytesLedger int64, result string, attemptErr error) {
	if r == nil {
		return
	}
	entry := Session{
		Server:      server,
		StartedAt:   started.Format(time.RFC3339),
		FinishedAt:  finished.Format(time.RFC3339),
		Duration:    finished.Sub(started).String(),
		BytesLedger: bytesLedger,
		Result:      result,
	}
	if attemptErr != nil {
		entry.Error = attemptErr.Error()
	}
	r.sessions.Push(entry)
}

// Len reports how many events the in-memory ring currently holds.
// Returns 0 on a nil Recorder.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	return r.events.Len()
}

// RecentEvents returns the most recent events, newest included, in
// chronological order. Returns an empty slice on a nil Recorder.
func (r *Recorder) RecentEvents(limit int) []Event {
	if r == nil {
		return []Event{}
	}
	return r.events.Recent(limit)
}

// RecentSessions returns the most recent finished attempts in
// chronological order. Returns an empty slice on a nil Recorder.
func (r *Recorder) RecentSessions(limit int) []Session {
	if r == nil {
		return []Session{}
	}
	return r.sessions.Recent(limit)
}

// Close releases the underlying event log file handle. No-op on a nil
// Recorder.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.events.Close()
}
