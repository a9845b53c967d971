// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package diagnostics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/massalabs/bootstrap-client/internal/config"
)

type fakeStatus struct {
	millis int64
	ok     bool
}

func (f fakeStatus) ClockCompensation() (int64, bool) { return f.millis, f.ok }

func TestNewServer_DisabledReturnsNil(t *testing.T) {
	s := NewServer(config.DiagnosticsConfig{}, nil, nil)
	if s != nil {
		t.Fatal("expected nil Server when diagnostics is disabled")
	}
	s.Start()
	if err := s.Stop(nil); err != nil { //nolint:staticcheck // nil context is fine, Stop on nil receiver short-circuits
		t.Errorf("Stop on nil Server: %v", err)
	}
}

func TestServer_StatusEventsSessionsEndpoints(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DiagnosticsConfig{
		ListenAddress:  "127.0.0.1:0",
		EventLogPath:   filepath.Join(dir, "events.jsonl"),
		RingCapacity:   50,
		MaxEventLines:  1000,
		AllowedSources: []string{"127.0.0.1/32"},
	}

	rec, err := NewRecorder(cfg)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer rec.Close()

	rec.Event("info", "connect", "node-1", "connected")
	rec.Attempt("node-1", time.Unix(1_700_000_000, 0), time.Unix(1_700_000_001, 0), 10, "ok", nil)

	a := newACL(cfg.AllowedSources)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", makeStatusHandler(rec, fakeStatus{millis: 42, ok: true}))
	mux.HandleFunc("GET /api/v1/events", makeEventsHandler(rec))
	mux.HandleFunc("GET /api/v1/sessions", makeSessionsHandler(rec))
	handler := a.middleware(mux)

	t.Run("status", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		req.RemoteAddr = "127.0.0.1:1"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp StatusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding status: %v", err)
		}
		if !resp.Compensated || resp.Compensation != 42 {
			t.Errorf("unexpected status response: %+v", resp)
		}
		if resp.EventCount != 1 {
			t.Errorf("expected EventCount 1, got %d", resp.EventCount)
		}
	})

	t.Run("events", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/events", nil)
		req.RemoteAddr = "127.0.0.1:1"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		var events []Event
		json.Unmarshal(rec.Body.Bytes(), &events)
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
	})

	t.Run("sessions", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
		req.RemoteAddr = "127.0.0.1:1"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		var sessions []Session
		json.Unmarshal(rec.Body.Bytes(), &sessions)
		if len(sessions) != 1 || sessions[0].Result != "ok" {
			t.Fatalf("unexpected sessions: %+v", sessions)
		}
	})

	t.Run("denied source gets 403", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/status", nil)
		req.RemoteAddr = "10.0.0.1:1"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})
}
