// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"errors"
	"reflect"
	"testing"
)

func TestClientMessage_RoundTrip(t *testing.T) {
	c := NewCodec(DefaultSizeCaps())
	asyncID := uint64(42)
	cycle := uint64(7)

	tests := []struct {
		name string
		msg  ClientMessage
	}{
		{"ask final state part, fresh", ClientMessage{Kind: AskFinalStatePart}},
		{"ask final state part, resumed", ClientMessage{
			Kind: AskFinalStatePart,
			Cursor: Cursor{
				LastKey:            []byte("addr-key"),
				Slot:               &Slot{Period: 100, Thread: 3},
				LastAsyncMessageID: &asyncID,
				LastCycle:          &cycle,
				LastCreditsSlot:    &Slot{Period: 99, Thread: 1},
			},
		}},
		{"ask bootstrap peers", ClientMessage{Kind: AskBootstrapPeers}},
		{"ask consensus state", ClientMessage{Kind: AskConsensusState}},
		{"bootstrap success", ClientMessage{Kind: BootstrapSuccess}},
		{"bootstrap error", ClientMessage{Kind: ClientBootstrapError, ErrorText: "no slots available"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := c.EncodeClientMessage(tt.msg)
			if err != nil {
				t.Fatalf("EncodeClientMessage: %v", err)
			}
			got, err := c.DecodeClientMessage(body)
			if err != nil {
				t.Fatalf("DecodeClientMessage: %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, tt.msg)
			}
		})
	}
}

func TestServerMessage_RoundTrip(t *testing.T) {
	c := NewCodec(DefaultSizeCaps())

	tests := []struct {
		name string
		msg  ServerMessage
	}{
		{"bootstrap time", ServerMessage{Kind: BootstrapTime, ServerTimeMillis: 1_700_000_000_000, Version: "SAND.26.1"}},
		{"final state part, empty changes", ServerMessage{
			Kind:           FinalStatePart,
			LedgerData:     []byte("ledger-bytes"),
			AsyncPoolPart:  []byte("pool-bytes"),
			PosCyclePart:   []byte("cycle-bytes"),
			PosCreditsPart: []byte("credits-bytes"),
			Slot:           Slot{Period: 10, Thread: 2},
		}},
		{"final state part, with changes", ServerMessage{
			Kind: FinalStatePart,
			Slot: Slot{Period: 11, Thread: 0},
			FinalStateChanges: []FinalStateChange{
				{Slot: Slot{Period: 10, Thread: 3}, LedgerChanges: []byte("lc"), AsyncPoolChanges: []byte("ac"), RollStateChanges: []byte("rc")},
				{Slot: Slot{Period: 10, Thread: 4}, LedgerChanges: []byte("lc2")},
			},
		}},
		{"final state finished", ServerMessage{Kind: FinalStateFinished}},
		{"slot too old", ServerMessage{Kind: SlotTooOld}},
		{"bootstrap peers", ServerMessage{Kind: BootstrapPeers, Peers: []string{"1.2.3.4:31244", "5.6.7.8:31244"}}},
		{"consensus state", ServerMessage{Kind: ConsensusState, Graph: []byte("graph-bytes")}},
		{"bootstrap error", ServerMessage{Kind: ServerBootstrapError, ErrorText: "no slots available"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := c.EncodeServerMessage(tt.msg)
			if err != nil {
				t.Fatalf("EncodeServerMessage: %v", err)
			}
			got, err := c.DecodeServerMessage(body)
			if err != nil {
				t.Fatalf("DecodeServerMessage: %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, tt.msg)
			}
		})
	}
}

func TestDecodeServerMessage_RejectsOversizeField(t *testing.T) {
	caps := DefaultSizeCaps()
	caps.MaxPeerCount = 2
	c := NewCodec(caps)

	msg := ServerMessage{Kind: BootstrapPeers, Peers: []string{"a", "b", "c"}}
	// Encode with a codec that allows 3 peers, then decode with the stricter one.
	lenient := NewCodec(DefaultSizeCaps())
	body, err := lenient.EncodeServerMessage(msg)
	if err != nil {
		t.Fatalf("EncodeServerMessage: %v", err)
	}

	_, err = c.DecodeServerMessage(body)
	if err == nil {
		t.Fatal("expected oversize field error, got nil")
	}
	var tooLarge *ErrFieldTooLarge
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected *ErrFieldTooLarge, got %T: %v", err, err)
	}
}
