// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/massalabs/bootstrap-client/internal/pki"
	"github.com/massalabs/bootstrap-client/internal/wire"
)

// BootstrapRandomnessSizeBytes is the amount of cryptographically-strong
// random padding appended to the handshake payload.
const BootstrapRandomnessSizeBytes = 32

// minimalWidth returns the smallest byte width W such that 2^(8W) > max,
// the minimal big-endian encoding width for a length field capped at max.
func minimalWidth(max uint32) int {
	for w := 1; w <= 8; w++ {
		if uint64(max) < uint64(1)<<(8*uint(w)) {
			return w
		}
	}
	return 8
}

func encodeMinimalBE(v uint32, width int) []byte {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

func decodeMinimalBE(buf []byte) uint32 {
	var v uint32
	for _, b := range buf {
		v = v<<8 | uint32(b)
	}
	return v
}

// Binder (C3) implements length-prefixed, chained-hash, signed message
// framing over a rate-limited duplex. It owns the previous-message hash
// exclusively and mutates it atomically with every send and receive — see
// spec §4.3.
type Binder struct {
	conn               io.ReadWriter
	remotePubKey       ed25519.PublicKey
	verifier           pki.Verifier
	maxMessageSize     uint32
	sizeFieldWidth     int
	codec              *wire.Codec
	prevMessage        []byte // nil until the handshake (or first send) runs
}

// NewBinder constructs a Binder. conn should already be wrapped by a
// RateLimitedDuplex (C2) — the binder performs no rate limiting itself.
func NewBinder(conn io.ReadWriter, remotePubKey ed25519.PublicKey, maxMessageSize uint32, codec *wire.Codec) *Binder {
	return &Binder{
		conn:           conn,
		remotePubKey:   remotePubKey,
		verifier:       pki.Ed25519Verifier{},
		maxMessageSize: maxMessageSize,
		sizeFieldWidth: minimalWidth(maxMessageSize),
		codec:          codec,
	}
}

// Handshake sends our version plus random padding, then seeds the
// previous-message hash from the bytes just sent. No reply is read here —
// the first Next() call afterwards expects the server's first message
// chained off this hash.
func (b *Binder) Handshake(version string) error {
	versionBytes := []byte(version)
	buf := make([]byte, len(versionBytes)+BootstrapRandomnessSizeBytes)
	copy(buf, versionBytes)
	if _, err := rand.Read(buf[len(versionBytes):]); err != nil {
		return fmt.Errorf("bootstrap: generating handshake randomness: %w", err)
	}
	if _, err := b.conn.Write(buf); err != nil {
		return newErr(KindConnectFailed, "writing handshake", err)
	}
	sum := sha256.Sum256(buf)
	b.prevMessage = sum[:]
	return nil
}

// Next reads and verifies the next server message. Before the handshake
// (the session's error probe) the previous-message hash is absent and the
// signature is checked against H(body) alone; afterwards against
// H(prev_hash ‖ body).
func (b *Binder) Next() (wire.ServerMessage, error) {
	sig := make([]byte, ed25519.SignatureSize)
	if _, err := io.ReadFull(b.conn, sig); err != nil {
		return wire.ServerMessage{}, newErr(KindTimeout, "reading signature", err)
	}

	lenBytes := make([]byte, b.sizeFieldWidth)
	if _, err := io.ReadFull(b.conn, lenBytes); err != nil {
		return wire.ServerMessage{}, newErr(KindTimeout, "reading length", err)
	}
	length := decodeMinimalBE(lenBytes)
	if length > b.maxMessageSize {
		return wire.ServerMessage{}, newErr(KindOversizeFrame, fmt.Sprintf("length %d exceeds max %d", length, b.maxMessageSize), nil)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(b.conn, body); err != nil {
		return wire.ServerMessage{}, newErr(KindTimeout, "reading body", err)
	}

	hashInput := make([]byte, 0, len(b.prevMessage)+len(body))
	hashInput = append(hashInput, b.prevMessage...)
	hashInput = append(hashInput, body...)
	h := sha256.Sum256(hashInput)

	if !b.verifier.Verify(b.remotePubKey, h[:], sig) {
		return wire.ServerMessage{}, newErr(KindBadSignature, "signature verification failed", nil)
	}

	sigHash := sha256.Sum256(sig)
	b.prevMessage = sigHash[:]

	msg, err := b.codec.DecodeServerMessage(body)
	if err != nil {
		return wire.ServerMessage{}, newErr(KindBadFrame, "decoding server message", err)
	}
	return msg, nil
}

// Send serializes and writes msg, updating the previous-message hash chain
// first so a write failure mid-frame still leaves the binder's own view of
// the chain consistent with what was actually put on the wire up to that
// point (the caller must discard the whole binder on any Send error — see
// the cancellation note in spec §5).
func (b *Binder) Send(msg wire.ClientMessage) error {
	body, err := b.codec.EncodeClientMessage(msg)
	if err != nil {
		return newErr(KindBadFrame, "encoding client message", err)
	}
	if uint32(len(body)) > b.maxMessageSize {
		return newErr(KindOversizeFrame, fmt.Sprintf("body %d exceeds max %d", len(body), b.maxMessageSize), nil)
	}

	if b.prevMessage != nil {
		oldPrev := b.prevMessage
		hashInput := make([]byte, 0, len(oldPrev)+len(body))
		hashInput = append(hashInput, oldPrev...)
		hashInput = append(hashInput, body...)
		newPrev := sha256.Sum256(hashInput)
		b.prevMessage = newPrev[:]

		if _, err := b.conn.Write(oldPrev); err != nil {
			return newErr(KindConnectFailed, "writing prev-hash", err)
		}
	} else {
		sum := sha256.Sum256(body)
		b.prevMessage = sum[:]
	}

	lenBytes := encodeMinimalBE(uint32(len(body)), b.sizeFieldWidth)
	if _, err := b.conn.Write(lenBytes); err != nil {
		return newErr(KindConnectFailed, "writing length", err)
	}
	if _, err := b.conn.Write(body); err != nil {
		return newErr(KindConnectFailed, "writing body", err)
	}
	return nil
}
