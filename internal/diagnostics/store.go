// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package diagnostics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/pgzip"
)

// EventStore combines an in-memory eventRing with an append-only JSONL
// file. Every Push appends one JSON line. On startup, existing lines are
// loaded to repopulate the ring.
//
// Rotation: once the file exceeds maxLines, it is rewritten keeping only
// the newest maxLines/2 lines, and the discarded half is additionally
// written out gzip-compressed to "<path>.<n>.gz" via pgzip for long-term
// retention, where <n> is a monotonically increasing rotation counter.
type EventStore struct {
	ring      *eventRing
	file      *os.File
	mu        sync.Mutex
	maxLines  int
	lineCount int
	path      string
	rotations int
}

// NewEventStore opens (or creates) the JSONL file at path and loads its
// existing lines into a ring of the given capacity. maxLines bounds the
// file before rotation (default 10000 if <= 0).
func NewEventStore(path string, ringCap, maxLines int) (*EventStore, error) {
	if maxLines <= 0 {
		maxLines = 10000
	}

	ring := newEventRing(ringCap)

	entries, lineCount, err := loadEventJSONL(path)
	if err != nil {
		return nil, fmt.Errorf("loading events file: %w", err)
	}

	start := 0
	if len(entries) > ringCap {
		start = len(entries) - ringCap
	}
	for _, e := range entries[start:] {
		ring.Push(e)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening events file for append: %w", err)
	}

	return &EventStore{
		ring:      ring,
		file:      f,
		maxLines:  maxLines,
		lineCount: lineCount,
		path:      path,
	}, nil
}

func loadEventJSONL(path string) ([]Event, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	var entries []Event
	lineCount := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineCount++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip corrupted lines
		}
		entries = append(entries, e)
	}

	return entries, lineCount, scanner.Err()
}

// Push adds an event to the ring and persists it to the JSONL file,
// rotating the file if it now exceeds maxLines.
func (s *EventStore) Push(e Event) {
	s.ring.Push(e)

	recent := s.ring.Recent(1)
	if len(recent) == 0 {
		return
	}
	filled := recent[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(filled)
	if err != nil {
		return
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return
	}

	s.lineCount++
	if s.lineCount > s.maxLines {
		s.rotate()
	}
}

// Recent returns up to limit events in chronological order (oldest
// first).
func (s *EventStore) Recent(limit int) []Event {
	return s.ring.Recent(limit)
}

// Len reports how many events the in-memory ring currently holds.
func (s *EventStore) Len() int {
	return s.ring.Len()
}

// Close closes the JSONL file handle.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// rotate keeps the newest maxLines/2 lines in the live file and archives
// the discarded older half, gzip-compressed, to "<path>.<n>.gz". Must be
// called with s.mu already held.
func (s *EventStore) rotate() {
	keep := s.maxLines / 2

	entries, _, err := loadEventJSONL(s.path)
	if err != nil || len(entries) <= keep {
		return
	}

	discarded := entries[:len(entries)-keep]
	kept := entries[len(entries)-keep:]

	s.rotations++
	// Archiving is best-effort: losing the compressed copy must not block
	// rotation of the live file.
	_ = archiveGzip(fmt.Sprintf("%s.%d.gz", s.path, s.rotations), discarded)

	s.file.Close()

	f, err := os.Create(s.path)
	if err != nil {
		s.file, _ = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		return
	}

	w := bufio.NewWriter(f)
	for _, e := range kept {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	w.Flush()
	f.Close()

	s.file, err = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	s.lineCount = len(kept)
}

// archiveGzip writes entries as newline-delimited JSON, gzip-compressed
// via pgzip, to path.
func archiveGzip(path string, entries []Event) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gw := pgzip.NewWriter(f)
	defer gw.Close()

	enc := json.NewEncoder(gw)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return gw.Close()
}
