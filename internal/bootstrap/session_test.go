// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"crypto/ed25519"
	"math"
	"net"
	"testing"
	"time"

	"github.com/massalabs/bootstrap-client/internal/wire"
)

// newTestSession wires a Session directly atop a net.Pipe, paired with a
// fakeServer (borrowed from binder_test.go) on the other end, skipping
// the real TCP Connector (C1) — irrelevant to the phase-machine logic
// under test here.
func newTestSession(t *testing.T, now func() time.Time) (*Session, *fakeServer) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	codec := wire.NewCodec(wire.DefaultSizeCaps())
	binder := NewBinder(clientConn, pub, 1<<20, codec)
	server := newFakeServer(serverConn, priv, 1<<20)

	session := NewSession(clientConn, binder, SessionOptions{
		Version: "TEST.1.0",
		MaxPing: time.Second,
		Timeouts: Timeouts{
			Connect: time.Second, ReadError: 50 * time.Millisecond,
			Read: time.Second, Write: time.Second, WriteError: time.Second,
		},
		Now: now,
	})
	return session, server
}

func handshakeBoth(t *testing.T, s *Session, server *fakeServer) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.binder.Handshake(s.opts.Version) }()
	if err := server.readHandshake(len(s.opts.Version) + BootstrapRandomnessSizeBytes); err != nil {
		t.Fatalf("server readHandshake: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Handshake: %v", err)
	}
}

func TestSession_Clock_ComputesSignedCompensation(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	tRecv := base.Add(100 * time.Millisecond) // ping = 100ms
	now := func() time.Time { return tRecv }

	session, server := newTestSession(t, now)
	handshakeBoth(t, session, server)

	tSend := base
	// Server's clock reads 5000ms ahead of our local midpoint.
	localMid := tRecv.Add(-50 * time.Millisecond) // tRecv - ping/2
	serverTimeMillis := localMid.UnixMilli() + 5000

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- server.send(wire.ServerMessage{Kind: wire.BootstrapTime, ServerTimeMillis: serverTimeMillis, Version: "TEST.1.0"}, session.binder.codec)
	}()

	session.opts.EnableClockSynchronization = true
	state := NewGlobalBootstrapState(nil)
	if err := session.clock(state, tSend); err != nil {
		t.Fatalf("clock: %v", err)
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("server send: %v", err)
	}

	if state.CompensationMillis != 5000 {
		t.Errorf("CompensationMillis = %d, want 5000 (positive, signed)", state.CompensationMillis)
	}
}

func TestSession_Clock_RejectsPingTooHigh(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	now := func() time.Time { return base.Add(10 * time.Second) } // ping exceeds MaxPing of 1s

	session, server := newTestSession(t, now)
	handshakeBoth(t, session, server)

	go server.send(wire.ServerMessage{Kind: wire.BootstrapTime, ServerTimeMillis: 1, Version: "TEST.1.0"}, session.binder.codec)

	state := NewGlobalBootstrapState(nil)
	err := session.clock(state, base)
	kind, ok := KindOf(err)
	if !ok || kind != KindPingTooHigh {
		t.Fatalf("expected KindPingTooHigh, got %v (ok=%v)", err, ok)
	}
}

func TestSession_Clock_RejectsIncompatibleVersion(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	session, server := newTestSession(t, func() time.Time { return base })
	handshakeBoth(t, session, server)

	go server.send(wire.ServerMessage{Kind: wire.BootstrapTime, ServerTimeMillis: 1, Version: "OTHER.9.0"}, session.binder.codec)

	state := NewGlobalBootstrapState(nil)
	err := session.clock(state, base)
	kind, ok := KindOf(err)
	if !ok || kind != KindIncompatibleVersion {
		t.Fatalf("expected KindIncompatibleVersion, got %v (ok=%v)", err, ok)
	}
}

func TestSession_ErrorProbe_ServerRefused(t *testing.T) {
	session, server := newTestSession(t, time.Now)
	handshakeBoth(t, session, server)

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- server.send(wire.ServerMessage{Kind: wire.ServerBootstrapError, ErrorText: "no free slots"}, session.binder.codec)
	}()

	err := session.errorProbe()
	if err := <-sendDone; err != nil {
		t.Fatalf("server send: %v", err)
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindServerRefused {
		t.Fatalf("expected KindServerRefused, got %v (ok=%v)", err, ok)
	}
}

func TestSubtractSigned64_Overflow(t *testing.T) {
	cases := []struct {
		name         string
		a, b         int64
		wantOverflow bool
	}{
		{"no overflow small", 100, 50, false},
		{"negative result", 50, 100, false},
		{"overflow toward +max", math.MaxInt64, -1, true},
		{"overflow toward -min", math.MinInt64, 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, overflowed := subtractSigned64(tc.a, tc.b)
			if overflowed != tc.wantOverflow {
				t.Errorf("subtractSigned64(%d, %d) overflow = %v, want %v", tc.a, tc.b, overflowed, tc.wantOverflow)
			}
		})
	}
}
