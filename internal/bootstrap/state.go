// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"sync"

	"github.com/massalabs/bootstrap-client/internal/wire"
)

// FinalState is the exclusively-writable store the streaming phase applies
// ledger data, async-pool data, PoS data and deltas to. Its concrete
// implementation (the ledger, async pool and PoS sub-stores, and their
// internal encodings) is an external collaborator of this core; callers
// supply one satisfying this interface. last_key/last_async_message_id/
// last_cycle/last_credits_slot are the resume-cursor fields each Set*
// method hands back.
type FinalState interface {
	// SetLedgerPart appends raw ledger_data and returns the new last_key
	// cursor (nil if the part carried no entries).
	SetLedgerPart(data []byte) ([]byte, error)
	// SetAsyncPoolPart appends raw async_pool_part bytes and returns the
	// new last_async_message_id cursor.
	SetAsyncPoolPart(data []byte) (*uint64, error)
	// SetCycleHistoryPart appends raw pos_cycle_part bytes and returns the
	// new last_cycle cursor.
	SetCycleHistoryPart(data []byte) (*uint64, error)
	// SetDeferredCreditsPart appends raw pos_credits_part bytes and
	// returns the new last_credits_slot cursor.
	SetDeferredCreditsPart(data []byte) (*wire.Slot, error)
	// ApplyChanges folds one FinalStateChange into the ledger, async pool
	// and PoS state at changesSlot, in that order. Any failure is
	// reported to the caller and mapped to KindBadFrame — no panics (see
	// DESIGN.md on the dropped upstream `unwrap`).
	ApplyChanges(changesSlot wire.Slot, ledgerChanges, asyncPoolChanges, rollStateChanges []byte) error
	// SetSlot records the store's current head slot.
	SetSlot(slot wire.Slot)
	// LoadInitialLedger is the cold-start path invoked only when the
	// episode starts before genesis; it performs no network I/O.
	LoadInitialLedger() error
	// CreateInitialCycle seeds the initial PoS cycle on cold start.
	CreateInitialCycle()
}

// GlobalBootstrapState (C7) aggregates everything a bootstrap episode
// produces: exclusive writer access to the final state, the optional peer
// list, the optional consensus graph, and the signed clock-compensation
// offset. It is created empty and filled in place as phases complete.
type GlobalBootstrapState struct {
	mu sync.Mutex

	final FinalState

	Peers              []string
	Graph              []byte
	CompensationMillis int64
	clockRan           bool
}

// NewGlobalBootstrapState wraps an externally-owned FinalState handle so
// subsystems outside this core can keep reading it after bootstrap
// completes.
func NewGlobalBootstrapState(final FinalState) *GlobalBootstrapState {
	return &GlobalBootstrapState{final: final}
}

// WithFinalState runs fn holding the exclusive writer guard. No network
// I/O may happen inside fn — callers of the streaming phase enforce this
// by construction (the guard is acquired and released entirely within one
// FinalStatePart application, before the next read).
func (g *GlobalBootstrapState) WithFinalState(fn func(FinalState) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.final)
}

// HasPeers reports whether AskBootstrapPeers has completed.
func (g *GlobalBootstrapState) HasPeers() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Peers != nil
}

// HasGraph reports whether AskConsensusState has completed.
func (g *GlobalBootstrapState) HasGraph() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Graph != nil
}

// SetPeers stores the received peer list.
func (g *GlobalBootstrapState) SetPeers(peers []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Peers = peers
}

// SetGraph stores the received consensus graph.
func (g *GlobalBootstrapState) SetGraph(graph []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Graph = graph
}

// SetCompensation stores the signed clock-compensation offset computed
// during the clock phase.
func (g *GlobalBootstrapState) SetCompensation(millis int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CompensationMillis = millis
}

// ClockCompensation reports the signed clock-compensation offset and
// whether the clock phase has actually run (clock synchronization may be
// disabled, in which case ok is false). Satisfies diagnostics.StatusProvider.
func (g *GlobalBootstrapState) ClockCompensation() (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.CompensationMillis, g.clockRan
}

func (g *GlobalBootstrapState) markClockRan() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clockRan = true
}
