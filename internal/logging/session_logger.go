// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler dispatching every record to two
// handlers. SessionLogger uses it to write simultaneously to the global
// handler and a bootstrap attempt's dedicated file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Check each handler's Enabled() individually so a debug record is
	// not forced onto a primary handler configured for info-and-above.
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A session file write failure must never take down global logging.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// SessionLogger is a logger fanning out to the global stream plus one
// append-only file per bootstrap attempt, and the path of that file.
type SessionLogger struct {
	Logger  *slog.Logger
	Path    string
	closer  io.Closer
}

// Close closes the attempt's log file.
func (s *SessionLogger) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// NewSessionLogger opens one append-only log file per bootstrap attempt,
// named by server address and an attempt counter the caller supplies (not
// time.Now, so this stays deterministic under test), at:
//
//	{dir}/{serverAddr}/{attempt}.log
//
// If dir is empty, returns the base logger unmodified (no per-attempt
// file is created).
func NewSessionLogger(baseLogger *slog.Logger, dir, serverAddr string, attempt int) (*SessionLogger, error) {
	if dir == "" {
		return &SessionLogger{Logger: baseLogger}, nil
	}

	safeAddr := sanitizeForFilename(serverAddr)
	attemptDir := filepath.Join(dir, safeAddr)
	if err := os.MkdirAll(attemptDir, 0755); err != nil {
		return nil, fmt.Errorf("creating session log directory %s: %w", attemptDir, err)
	}

	logPath := filepath.Join(attemptDir, fmt.Sprintf("%d.log", attempt))
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening session log file %s: %w", logPath, err)
	}

	// The per-attempt file always runs at debug level for maximum capture.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	combined := &fanOutHandler{primary: baseLogger.Handler(), secondary: fileHandler}

	return &SessionLogger{Logger: slog.New(combined), Path: logPath, closer: f}, nil
}

func sanitizeForFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
