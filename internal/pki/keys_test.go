// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pki

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
)

func TestParsePublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(pub)

	got, err := ParsePublicKey(encoded)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if !got.Equal(pub) {
		t.Errorf("parsed key does not match original")
	}
}

func TestParsePublicKey_WrongSize(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("too-short"))
	if _, err := ParsePublicKey(encoded); err == nil {
		t.Fatal("expected error for wrong-size key, got nil")
	}
}

func TestEd25519Verifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg := []byte("prev_hash || body")
	sig := ed25519.Sign(priv, msg)

	var v Ed25519Verifier
	if !v.Verify(pub, msg, sig) {
		t.Error("expected valid signature to verify")
	}

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xFF
	if v.Verify(pub, tampered, sig) {
		t.Error("expected tampered message to fail verification")
	}
}
