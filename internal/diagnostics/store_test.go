// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package diagnostics

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEventStore_PushAndRecent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	store, err := NewEventStore(path, 100, 10000)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	store.Push(Event{Level: "info", Type: "connect", Server: "node-1:31244", Message: "connected"})
	store.Push(Event{Level: "warn", Type: "failover", Server: "node-1:31244", Message: "server refused"})

	events := store.Recent(0)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "connect" {
		t.Errorf("expected first event 'connect', got %q", events[0].Type)
	}
	if events[1].Type != "failover" {
		t.Errorf("expected second event 'failover', got %q", events[1].Type)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty file")
	}
}

func TestEventStore_PersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	store1, err := NewEventStore(path, 100, 10000)
	if err != nil {
		t.Fatal(err)
	}
	store1.Push(Event{Level: "info", Message: "event-a"})
	store1.Push(Event{Level: "warn", Message: "event-b"})
	store1.Close()

	store2, err := NewEventStore(path, 100, 10000)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	events := store2.Recent(0)
	if len(events) != 2 {
		t.Fatalf("expected 2 persisted events, got %d", len(events))
	}
	if events[0].Message != "event-a" || events[1].Message != "event-b" {
		t.Errorf("unexpected loaded events: %+v", events)
	}
}

func TestEventStore_RotationArchivesDiscardedHalf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	store, err := NewEventStore(path, 100, 10)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 15; i++ {
		store.Push(Event{Level: "info", Message: "msg"})
	}
	store.Close()

	store2, err := NewEventStore(path, 100, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	if store2.lineCount > 10 {
		t.Errorf("expected lineCount <= 10 after rotation, got %d", store2.lineCount)
	}

	archive := filepath.Join(dir, "events.jsonl.1.gz")
	if _, err := os.Stat(archive); err != nil {
		t.Errorf("expected gzip archive %s to exist: %v", archive, err)
	}
}

func TestEventStore_CorruptLineSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	content := `{"timestamp":"2025-01-01T00:00:00Z","level":"info","type":"test","message":"ok"}
this is not json
{"timestamp":"2025-01-01T00:01:00Z","level":"warn","type":"test","message":"also ok"}
`
	os.WriteFile(path, []byte(content), 0644)

	store, err := NewEventStore(path, 100, 10000)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	events := store.Recent(0)
	if len(events) != 2 {
		t.Fatalf("expected 2 valid events (skipping corrupt line), got %d", len(events))
	}
}

func TestEventStore_RingCapLimitOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	store1, err := NewEventStore(path, 100, 10000)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		store1.Push(Event{Level: "info", Message: "msg"})
	}
	store1.Close()

	store2, err := NewEventStore(path, 10, 10000)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	events := store2.Recent(0)
	if len(events) != 10 {
		t.Fatalf("expected 10 events in ring (capped), got %d", len(events))
	}
}
