// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/massalabs/bootstrap-client/internal/config"
)

var startTime = time.Now()

// Version is set via ldflags at build time (-X ...Version=x.y.z).
var Version = "dev"

// StatusResponse is served by GET /api/v1/status.
type StatusResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Version     string `json:"version"`
	Go          string `json:"go"`
	GoRoutines  int    `json:"goroutines"`
	EventCount  int    `json:"event_count"`
	Compensated bool   `json:"clock_compensated"`
	Compensation int64 `json:"clock_compensation_millis,omitempty"`
}

// StatusProvider supplies the live bootstrap state GET /api/v1/status
// reports alongside process-level facts.
type StatusProvider interface {
	ClockCompensation() (int64, bool)
}

// Server is the read-only HTTP status/events/sessions surface (C12).
// A nil *Server (returned by NewServer when diagnostics is disabled) has
// Start/Stop as no-ops.
type Server struct {
	httpServer *http.Server
	mu         sync.Mutex
	started    bool
}

// NewServer builds the diagnostics HTTP server bound to
// cfg.ListenAddress, or returns nil if diagnostics is disabled. status
// may be nil, in which case the status endpoint reports
// clock_compensated false and omits the compensation value.
func NewServer(cfg config.DiagnosticsConfig, rec *Recorder, status StatusProvider) *Server {
	if !cfg.Enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", makeStatusHandler(rec, status))
	mux.HandleFunc("GET /api/v1/events", makeEventsHandler(rec))
	mux.HandleFunc("GET /api/v1/sessions", makeSessionsHandler(rec))

	a := newACL(cfg.AllowedSources)

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.ListenAddress,
			Handler: a.middleware(mux),
		},
	}
}

// Start launches the HTTP server in a background goroutine. A nil
// receiver is a no-op.
func (s *Server) Start() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down. A nil receiver is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func makeStatusHandler(rec *Recorder, status StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Status:     "ok",
			Uptime:     time.Since(startTime).String(),
			Version:    Version,
			Go:         runtime.Version(),
			GoRoutines: runtime.NumGoroutine(),
			EventCount: rec.Len(),
		}
		if status != nil {
			if millis, ok := status.ClockCompensation(); ok {
				resp.Compensated = true
				resp.Compensation = millis
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func makeEventsHandler(rec *Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseInt(r.URL.Query().Get("limit"), 50)
		writeJSON(w, http.StatusOK, rec.RecentEvents(limit))
	}
}

func makeSessionsHandler(rec *Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseInt(r.URL.Query().Get("limit"), 50)
		writeJSON(w, http.StatusOK, rec.RecentSessions(limit))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return defaultVal
	}
	return v
}
