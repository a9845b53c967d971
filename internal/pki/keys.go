// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pki loads the bootstrap server public keys the client verifies
// message signatures against. Unlike a server-authenticating mTLS
// handshake, this client never authenticates itself to the server with a
// keypair of its own: the framed binder (C3) only ever verifies signatures
// the server produces, so there is no client private key to load here.
package pki

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// ParsePublicKey decodes a base64-encoded Ed25519 public key, as configured
// per bootstrap-server entry in BootstrapConfig's server list.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// Verifier checks a signature against a message under a known public key.
// The framed binder depends on this interface rather than a concrete
// scheme so the signature primitive itself stays an external, swappable
// collaborator (see spec's Non-goal on authoring cryptographic
// primitives) — Ed25519Verifier below is the default, stdlib-backed
// implementation the client ships with.
type Verifier interface {
	Verify(pubKey ed25519.PublicKey, message, sig []byte) bool
}

// Ed25519Verifier verifies signatures using crypto/ed25519.
type Ed25519Verifier struct{}

// Verify reports whether sig is a valid Ed25519 signature of message under
// pubKey.
func (Ed25519Verifier) Verify(pubKey ed25519.PublicKey, message, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pubKey, message, sig)
}
