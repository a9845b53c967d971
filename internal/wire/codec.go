// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"
)

// SizeCaps bounds every variable-length field a ServerMessage may carry.
// These mirror the per-type caps in BootstrapConfig (§3): the domain
// payloads themselves are opaque to this package, but a decoder that
// ignores their advertised caps would let a hostile server exhaust client
// memory before the binder's own max_message_size check ever applies to
// the fields individually.
type SizeCaps struct {
	MaxLedgerDataSize      uint32
	MaxAsyncPoolPartSize   uint32
	MaxPosCyclePartSize    uint32
	MaxPosCreditsPartSize  uint32
	MaxFinalStateChanges   uint32
	MaxLedgerChangesSize   uint32
	MaxAsyncChangesSize    uint32
	MaxRollChangesSize     uint32
	MaxPeerCount           uint32
	MaxPeerAddressLength   uint32
	MaxGraphSize           uint32
	MaxErrorTextLength     uint32
	MaxVersionLength       uint32
	MaxLastKeyLength       uint32
}

// DefaultSizeCaps returns generous but finite caps, suitable when a config
// file does not override them.
func DefaultSizeCaps() SizeCaps {
	return SizeCaps{
		MaxLedgerDataSize:     64 << 20,
		MaxAsyncPoolPartSize:  16 << 20,
		MaxPosCyclePartSize:   16 << 20,
		MaxPosCreditsPartSize: 16 << 20,
		MaxFinalStateChanges:  10_000,
		MaxLedgerChangesSize:  16 << 20,
		MaxAsyncChangesSize:   16 << 20,
		MaxRollChangesSize:    16 << 20,
		MaxPeerCount:          1_000,
		MaxPeerAddressLength:  256,
		MaxGraphSize:          64 << 20,
		MaxErrorTextLength:    4096,
		MaxVersionLength:      64,
		MaxLastKeyLength:      1024,
	}
}

// Codec encodes ClientMessage and decodes ServerMessage under a fixed set
// of size caps. It is the concrete, swappable boundary the spec calls out
// as "injected" serialization: the domain types it reads and writes as
// opaque blobs are specified elsewhere.
type Codec struct {
	caps SizeCaps
}

// NewCodec builds a Codec enforcing caps on every decode.
func NewCodec(caps SizeCaps) *Codec {
	return &Codec{caps: caps}
}

// ErrFieldTooLarge is surfaced as a decode failure (mapped to BadFrame by
// the binder) when a length-prefixed field exceeds its configured cap.
type ErrFieldTooLarge struct {
	Field string
	Got   uint32
	Max   uint32
}

func (e *ErrFieldTooLarge) Error() string {
	return fmt.Sprintf("wire: field %s length %d exceeds cap %d", e.Field, e.Got, e.Max)
}

func putUint32Bytes(dst []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, b...)
}

func putString(dst []byte, s string) []byte {
	return putUint32Bytes(dst, []byte(s))
}

func readUint32Bytes(buf []byte, field string, max uint32) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("wire: truncated length prefix for %s", field)
	}
	n := binary.BigEndian.Uint32(buf[:4])
	if n > max {
		return nil, nil, &ErrFieldTooLarge{Field: field, Got: n, Max: max}
	}
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, fmt.Errorf("wire: truncated body for %s", field)
	}
	return buf[:n], buf[n:], nil
}

func putOptionalUint64(dst []byte, v *uint64) []byte {
	if v == nil {
		return append(dst, 0)
	}
	var buf [9]byte
	buf[0] = 1
	binary.BigEndian.PutUint64(buf[1:], *v)
	return append(dst, buf[:]...)
}

func readOptionalUint64(buf []byte) (*uint64, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, fmt.Errorf("wire: truncated optional uint64 presence byte")
	}
	present := buf[0] != 0
	buf = buf[1:]
	if !present {
		return nil, buf, nil
	}
	if len(buf) < 8 {
		return nil, nil, fmt.Errorf("wire: truncated optional uint64 value")
	}
	v := binary.BigEndian.Uint64(buf[:8])
	return &v, buf[8:], nil
}

func putSlot(dst []byte, s Slot) []byte {
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], s.Period)
	buf[8] = s.Thread
	return append(dst, buf[:]...)
}

func readSlot(buf []byte) (Slot, []byte, error) {
	if len(buf) < 9 {
		return Slot{}, nil, fmt.Errorf("wire: truncated slot")
	}
	s := Slot{Period: binary.BigEndian.Uint64(buf[:8]), Thread: buf[8]}
	return s, buf[9:], nil
}

func putOptionalSlot(dst []byte, s *Slot) []byte {
	if s == nil {
		return append(dst, 0)
	}
	dst = append(dst, 1)
	return putSlot(dst, *s)
}

func readOptionalSlot(buf []byte) (*Slot, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, fmt.Errorf("wire: truncated optional slot presence byte")
	}
	present := buf[0] != 0
	buf = buf[1:]
	if !present {
		return nil, buf, nil
	}
	s, rest, err := readSlot(buf)
	if err != nil {
		return nil, nil, err
	}
	return &s, rest, nil
}

// EncodeClientMessage serializes msg into its wire body (no framing — the
// binder adds the length prefix and hash chain around this).
func (c *Codec) EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(msg.Kind))

	switch msg.Kind {
	case AskFinalStatePart:
		buf = putUint32Bytes(buf, msg.Cursor.LastKey)
		buf = putOptionalSlot(buf, msg.Cursor.Slot)
		buf = putOptionalUint64(buf, msg.Cursor.LastAsyncMessageID)
		buf = putOptionalUint64(buf, msg.Cursor.LastCycle)
		buf = putOptionalSlot(buf, msg.Cursor.LastCreditsSlot)
	case AskBootstrapPeers, AskConsensusState, BootstrapSuccess:
		// no payload
	case ClientBootstrapError:
		buf = putString(buf, msg.ErrorText)
	default:
		return nil, fmt.Errorf("wire: unknown client message kind %d", msg.Kind)
	}
	return buf, nil
}

// DecodeClientMessage is the server-side mirror, provided for symmetry and
// for tests that round-trip messages without a live server.
func (c *Codec) DecodeClientMessage(body []byte) (ClientMessage, error) {
	if len(body) < 1 {
		return ClientMessage{}, fmt.Errorf("wire: empty client message body")
	}
	kind := ClientMessageKind(body[0])
	buf := body[1:]

	var msg ClientMessage
	msg.Kind = kind

	switch kind {
	case AskFinalStatePart:
		lastKey, rest, err := readUint32Bytes(buf, "last_key", c.caps.MaxLastKeyLength)
		if err != nil {
			return ClientMessage{}, err
		}
		if len(lastKey) > 0 {
			msg.Cursor.LastKey = lastKey
		}
		slot, rest, err := readOptionalSlot(rest)
		if err != nil {
			return ClientMessage{}, err
		}
		msg.Cursor.Slot = slot
		asyncID, rest, err := readOptionalUint64(rest)
		if err != nil {
			return ClientMessage{}, err
		}
		msg.Cursor.LastAsyncMessageID = asyncID
		cycle, rest, err := readOptionalUint64(rest)
		if err != nil {
			return ClientMessage{}, err
		}
		msg.Cursor.LastCycle = cycle
		creditsSlot, _, err := readOptionalSlot(rest)
		if err != nil {
			return ClientMessage{}, err
		}
		msg.Cursor.LastCreditsSlot = creditsSlot
	case AskBootstrapPeers, AskConsensusState, BootstrapSuccess:
	case ClientBootstrapError:
		text, _, err := readUint32Bytes(buf, "error_text", c.caps.MaxErrorTextLength)
		if err != nil {
			return ClientMessage{}, err
		}
		msg.ErrorText = string(text)
	default:
		return ClientMessage{}, fmt.Errorf("wire: unknown client message kind %d", kind)
	}
	return msg, nil
}

// EncodeServerMessage is the client-side mirror, used by tests to build
// fixtures without a live server.
func (c *Codec) EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(msg.Kind))

	switch msg.Kind {
	case BootstrapTime:
		var tbuf [8]byte
		binary.BigEndian.PutUint64(tbuf[:], uint64(msg.ServerTimeMillis))
		buf = append(buf, tbuf[:]...)
		buf = putString(buf, msg.Version)
	case FinalStatePart:
		buf = putUint32Bytes(buf, msg.LedgerData)
		buf = putUint32Bytes(buf, msg.AsyncPoolPart)
		buf = putUint32Bytes(buf, msg.PosCyclePart)
		buf = putUint32Bytes(buf, msg.PosCreditsPart)
		buf = putSlot(buf, msg.Slot)
		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(msg.FinalStateChanges)))
		buf = append(buf, countBuf[:]...)
		for _, ch := range msg.FinalStateChanges {
			buf = putSlot(buf, ch.Slot)
			buf = putUint32Bytes(buf, ch.LedgerChanges)
			buf = putUint32Bytes(buf, ch.AsyncPoolChanges)
			buf = putUint32Bytes(buf, ch.RollStateChanges)
		}
	case FinalStateFinished, SlotTooOld:
	case BootstrapPeers:
		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(msg.Peers)))
		buf = append(buf, countBuf[:]...)
		for _, p := range msg.Peers {
			buf = putString(buf, p)
		}
	case ConsensusState:
		buf = putUint32Bytes(buf, msg.Graph)
	case ServerBootstrapError:
		buf = putString(buf, msg.ErrorText)
	default:
		return nil, fmt.Errorf("wire: unknown server message kind %d", msg.Kind)
	}
	return buf, nil
}

// DecodeServerMessage parses a ServerMessage body already extracted and
// signature-verified by the binder, enforcing every configured size cap.
func (c *Codec) DecodeServerMessage(body []byte) (ServerMessage, error) {
	if len(body) < 1 {
		return ServerMessage{}, fmt.Errorf("wire: empty server message body")
	}
	kind := ServerMessageKind(body[0])
	buf := body[1:]

	var msg ServerMessage
	msg.Kind = kind

	switch kind {
	case BootstrapTime:
		if len(buf) < 8 {
			return ServerMessage{}, fmt.Errorf("wire: truncated server time")
		}
		msg.ServerTimeMillis = int64(binary.BigEndian.Uint64(buf[:8]))
		version, _, err := readUint32Bytes(buf[8:], "version", c.caps.MaxVersionLength)
		if err != nil {
			return ServerMessage{}, err
		}
		msg.Version = string(version)
	case FinalStatePart:
		// Zero-length blobs decode as nil, so a round trip reproduces a
		// part whose absent fields were left nil.
		nilIfEmpty := func(b []byte) []byte {
			if len(b) == 0 {
				return nil
			}
			return b
		}
		var err error
		var rest []byte
		msg.LedgerData, rest, err = readUint32Bytes(buf, "ledger_data", c.caps.MaxLedgerDataSize)
		if err != nil {
			return ServerMessage{}, err
		}
		msg.AsyncPoolPart, rest, err = readUint32Bytes(rest, "async_pool_part", c.caps.MaxAsyncPoolPartSize)
		if err != nil {
			return ServerMessage{}, err
		}
		msg.PosCyclePart, rest, err = readUint32Bytes(rest, "pos_cycle_part", c.caps.MaxPosCyclePartSize)
		if err != nil {
			return ServerMessage{}, err
		}
		msg.PosCreditsPart, rest, err = readUint32Bytes(rest, "pos_credits_part", c.caps.MaxPosCreditsPartSize)
		if err != nil {
			return ServerMessage{}, err
		}
		msg.Slot, rest, err = readSlot(rest)
		if err != nil {
			return ServerMessage{}, err
		}
		msg.LedgerData, msg.AsyncPoolPart = nilIfEmpty(msg.LedgerData), nilIfEmpty(msg.AsyncPoolPart)
		msg.PosCyclePart, msg.PosCreditsPart = nilIfEmpty(msg.PosCyclePart), nilIfEmpty(msg.PosCreditsPart)
		if len(rest) < 4 {
			return ServerMessage{}, fmt.Errorf("wire: truncated final_state_changes count")
		}
		count := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if count > c.caps.MaxFinalStateChanges {
			return ServerMessage{}, &ErrFieldTooLarge{Field: "final_state_changes", Got: count, Max: c.caps.MaxFinalStateChanges}
		}
		if count > 0 {
			msg.FinalStateChanges = make([]FinalStateChange, 0, count)
		}
		for i := uint32(0); i < count; i++ {
			var ch FinalStateChange
			ch.Slot, rest, err = readSlot(rest)
			if err != nil {
				return ServerMessage{}, err
			}
			ch.LedgerChanges, rest, err = readUint32Bytes(rest, "final_state_changes.ledger_changes", c.caps.MaxLedgerChangesSize)
			if err != nil {
				return ServerMessage{}, err
			}
			ch.AsyncPoolChanges, rest, err = readUint32Bytes(rest, "final_state_changes.async_pool_changes", c.caps.MaxAsyncChangesSize)
			if err != nil {
				return ServerMessage{}, err
			}
			ch.RollStateChanges, rest, err = readUint32Bytes(rest, "final_state_changes.roll_state_changes", c.caps.MaxRollChangesSize)
			if err != nil {
				return ServerMessage{}, err
			}
			ch.LedgerChanges, ch.AsyncPoolChanges = nilIfEmpty(ch.LedgerChanges), nilIfEmpty(ch.AsyncPoolChanges)
			ch.RollStateChanges = nilIfEmpty(ch.RollStateChanges)
			msg.FinalStateChanges = append(msg.FinalStateChanges, ch)
		}
	case FinalStateFinished, SlotTooOld:
	case BootstrapPeers:
		if len(buf) < 4 {
			return ServerMessage{}, fmt.Errorf("wire: truncated peer count")
		}
		count := binary.BigEndian.Uint32(buf[:4])
		if count > c.caps.MaxPeerCount {
			return ServerMessage{}, &ErrFieldTooLarge{Field: "peers", Got: count, Max: c.caps.MaxPeerCount}
		}
		rest := buf[4:]
		msg.Peers = make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			var addr []byte
			var err error
			addr, rest, err = readUint32Bytes(rest, "peers[]", c.caps.MaxPeerAddressLength)
			if err != nil {
				return ServerMessage{}, err
			}
			msg.Peers = append(msg.Peers, string(addr))
		}
	case ConsensusState:
		graph, _, err := readUint32Bytes(buf, "graph", c.caps.MaxGraphSize)
		if err != nil {
			return ServerMessage{}, err
		}
		msg.Graph = graph
	case ServerBootstrapError:
		text, _, err := readUint32Bytes(buf, "error_text", c.caps.MaxErrorTextLength)
		if err != nil {
			return ServerMessage{}, err
		}
		msg.ErrorText = string(text)
	default:
		return ServerMessage{}, fmt.Errorf("wire: unknown server message kind %d", kind)
	}
	return msg, nil
}
