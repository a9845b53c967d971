// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire defines the tagged-variant messages exchanged between a
// bootstrap client and a bootstrap server, and a size-capped binary codec
// for them. The domain payloads carried inside a FinalStatePart (ledger
// entries, async-pool entries, PoS cycle data, the consensus graph) are
// treated as opaque, size-capped byte blobs: their internal layout is an
// external collaborator of this package, not something it interprets.
package wire

// ClientMessageKind tags the variant of a ClientMessage.
type ClientMessageKind byte

const (
	AskFinalStatePart ClientMessageKind = iota
	AskBootstrapPeers
	AskConsensusState
	BootstrapSuccess
	ClientBootstrapError
)

// Slot identifies a position in the block DAG by (period, thread).
type Slot struct {
	Period uint64
	Thread uint8
}

// Cursor is the resume position carried across reconnects. Every field is
// optional; all fields are absent on the very first AskFinalStatePart of an
// episode.
type Cursor struct {
	LastKey            []byte
	Slot               *Slot
	LastAsyncMessageID *uint64
	LastCycle          *uint64
	LastCreditsSlot    *Slot
}

// Empty reports whether every cursor field is absent, the shape required
// right after a SlotTooOld reset or at the start of a fresh episode.
func (c Cursor) Empty() bool {
	return c.LastKey == nil && c.Slot == nil && c.LastAsyncMessageID == nil &&
		c.LastCycle == nil && c.LastCreditsSlot == nil
}

// ClientMessage is the tagged union sent by the client to the server.
type ClientMessage struct {
	Kind      ClientMessageKind
	Cursor    Cursor // valid when Kind == AskFinalStatePart
	ErrorText string // valid when Kind == ClientBootstrapError
}

// ServerMessageKind tags the variant of a ServerMessage.
type ServerMessageKind byte

const (
	BootstrapTime ServerMessageKind = iota
	FinalStatePart
	FinalStateFinished
	SlotTooOld
	BootstrapPeers
	ConsensusState
	ServerBootstrapError
)

// FinalStateChange is one slot-tagged delta the client must re-apply, in
// order, to keep previously received chunks consistent with the server's
// moving head slot.
type FinalStateChange struct {
	Slot             Slot
	LedgerChanges    []byte
	AsyncPoolChanges []byte
	RollStateChanges []byte
}

// ServerMessage is the tagged union sent by the server to the client.
type ServerMessage struct {
	Kind ServerMessageKind

	// BootstrapTime
	ServerTimeMillis int64
	Version          string

	// FinalStatePart
	LedgerData        []byte
	AsyncPoolPart     []byte
	PosCyclePart      []byte
	PosCreditsPart    []byte
	Slot              Slot
	FinalStateChanges []FinalStateChange

	// BootstrapPeers
	Peers []string

	// ConsensusState
	Graph []byte

	// ServerBootstrapError
	ErrorText string
}
