// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"
	"time"

	"github.com/massalabs/bootstrap-client/internal/wire"
)

// Timeouts is the per-phase timeout set a Session applies via the
// underlying net.Conn's read/write deadlines.
type Timeouts struct {
	Connect    time.Duration
	ReadError  time.Duration
	Read       time.Duration
	Write      time.Duration
	WriteError time.Duration
}

// SessionOptions configures one Session run.
type SessionOptions struct {
	Version                string
	VersionCompatible      func(ours, theirs string) bool
	EnableClockSynchronization bool
	MaxPing                time.Duration
	Timeouts               Timeouts
	Logger                 *slog.Logger
	// Now is injected so the clock phase is deterministically testable;
	// defaults to time.Now.
	Now func() time.Time
}

// DefaultVersionCompatible accepts any server whose dotted version shares
// our major component.
func DefaultVersionCompatible(ours, theirs string) bool {
	ourMajor := strings.SplitN(ours, ".", 2)[0]
	theirMajor := strings.SplitN(theirs, ".", 2)[0]
	return ourMajor == theirMajor
}

// Session (C4) drives one connection through the error-probe, handshake,
// clock and ask-loop phases. conn is used only for read/write deadlines —
// all framing goes through binder, which must already wrap conn (via a
// RateLimitedDuplex, typically).
type Session struct {
	conn   net.Conn
	binder *Binder
	opts   SessionOptions
}

// NewSession builds a Session. opts.VersionCompatible and opts.Now default
// to DefaultVersionCompatible and time.Now respectively when nil.
func NewSession(conn net.Conn, binder *Binder, opts SessionOptions) *Session {
	if opts.VersionCompatible == nil {
		opts.VersionCompatible = DefaultVersionCompatible
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{conn: conn, binder: binder, opts: opts}
}

// withReadDeadline sets conn's read deadline for the duration of fn and
// clears it afterwards, translating an expired deadline into KindTimeout.
func (s *Session) withReadDeadline(d time.Duration, fn func() error) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return newErr(KindConnectFailed, "setting read deadline", err)
	}
	defer s.conn.SetReadDeadline(time.Time{})

	err := fn()
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return newErr(KindTimeout, "read deadline exceeded", err)
	}
	return err
}

func (s *Session) withWriteDeadline(d time.Duration, fn func() error) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
		return newErr(KindConnectFailed, "setting write deadline", err)
	}
	defer s.conn.SetWriteDeadline(time.Time{})

	err := fn()
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return newErr(KindTimeout, "write deadline exceeded", err)
	}
	return err
}

// Run executes the full C4 phase machine against state, starting from and
// mutating *next in place (the Failover Controller owns next so the
// resume cursor survives a lost connection).
func (s *Session) Run(state *GlobalBootstrapState, final FinalState, next *wire.ClientMessage) error {
	if err := s.errorProbe(); err != nil {
		return err
	}

	tSend := s.opts.Now()
	if err := s.withWriteDeadline(s.opts.Timeouts.Write, func() error {
		return s.binder.Handshake(s.opts.Version)
	}); err != nil {
		return err
	}

	if err := s.clock(state, tSend); err != nil {
		return err
	}

	for {
		done, err := s.dispatch(state, final, next)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// errorProbe attempts one Next() under read_error_timeout: a timeout is
// the expected outcome when the server has slots to serve; any message
// received here is unsolicited and fatal to the connection.
func (s *Session) errorProbe() error {
	var msg wire.ServerMessage
	err := s.withReadDeadline(s.opts.Timeouts.ReadError, func() error {
		var innerErr error
		msg, innerErr = s.binder.Next()
		return innerErr
	})
	if err == nil {
		if msg.Kind == wire.ServerBootstrapError {
			return newErr(KindServerRefused, msg.ErrorText, nil)
		}
		return newErr(KindUnexpectedMessage, fmt.Sprintf("unsolicited message kind %v before handshake", msg.Kind), nil)
	}
	if kind, ok := KindOf(err); ok && kind == KindTimeout {
		return nil
	}
	return err
}

// clock runs the §4.4 step 3 clock phase, computing the SIGNED
// compensation offset (server_time - local_mid); the original
// implementation this was distilled from computed an unsigned magnitude,
// which silently broke negative-offset peers whose clock lags ours.
func (s *Session) clock(state *GlobalBootstrapState, tSend time.Time) error {
	var msg wire.ServerMessage
	err := s.withReadDeadline(s.opts.Timeouts.Read, func() error {
		var innerErr error
		msg, innerErr = s.binder.Next()
		return innerErr
	})
	if err != nil {
		return err
	}
	if msg.Kind != wire.BootstrapTime {
		return newErr(KindUnexpectedMessage, fmt.Sprintf("expected BootstrapTime, got %v", msg.Kind), nil)
	}
	if !s.opts.VersionCompatible(s.opts.Version, msg.Version) {
		return newErr(KindIncompatibleVersion, fmt.Sprintf("server version %q incompatible with %q", msg.Version, s.opts.Version), nil)
	}

	tRecv := s.opts.Now()
	ping := tRecv.Sub(tSend)
	if ping < 0 {
		ping = 0
	}
	if ping > s.opts.MaxPing {
		return newErr(KindPingTooHigh, fmt.Sprintf("ping %s exceeds max %s", ping, s.opts.MaxPing), nil)
	}

	if !s.opts.EnableClockSynchronization {
		state.SetCompensation(0)
		return nil
	}

	localMidMillis := tRecv.Add(-ping / 2).UnixMilli()
	compensation, overflowed := subtractSigned64(msg.ServerTimeMillis, localMidMillis)
	if overflowed {
		return newErr(KindClockOverflow, "clock compensation does not fit in signed 64-bit milliseconds", nil)
	}
	state.SetCompensation(compensation)
	state.markClockRan()
	return nil
}

// subtractSigned64 returns a-b, reporting overflow instead of wrapping.
func subtractSigned64(a, b int64) (diff int64, overflowed bool) {
	diff = a - b
	if b < 0 && a > math.MaxInt64+b {
		return 0, true
	}
	if b > 0 && a < math.MinInt64+b {
		return 0, true
	}
	return diff, false
}

// dispatch runs one iteration of the §4.4 step 4 ask loop, reporting
// done=true once BootstrapSuccess has been sent (no reply is read).
func (s *Session) dispatch(state *GlobalBootstrapState, final FinalState, next *wire.ClientMessage) (bool, error) {
	switch next.Kind {
	case wire.AskFinalStatePart:
		if err := s.streamFinalState(state, final, next); err != nil {
			return false, err
		}
		return false, nil

	case wire.AskBootstrapPeers:
		reply, err := s.askAndAwait(*next)
		if err != nil {
			return false, err
		}
		switch reply.Kind {
		case wire.BootstrapPeers:
			state.SetPeers(reply.Peers)
			*next = wire.ClientMessage{Kind: wire.AskConsensusState}
			return false, nil
		case wire.ServerBootstrapError:
			return false, newErr(KindServerRefused, reply.ErrorText, nil)
		default:
			return false, newErr(KindUnexpectedMessage, fmt.Sprintf("expected BootstrapPeers, got %v", reply.Kind), nil)
		}

	case wire.AskConsensusState:
		reply, err := s.askAndAwait(*next)
		if err != nil {
			return false, err
		}
		switch reply.Kind {
		case wire.ConsensusState:
			state.SetGraph(reply.Graph)
			*next = wire.ClientMessage{Kind: wire.BootstrapSuccess}
			return false, nil
		case wire.ServerBootstrapError:
			return false, newErr(KindServerRefused, reply.ErrorText, nil)
		default:
			return false, newErr(KindUnexpectedMessage, fmt.Sprintf("expected ConsensusState, got %v", reply.Kind), nil)
		}

	case wire.BootstrapSuccess:
		if !state.HasPeers() {
			*next = wire.ClientMessage{Kind: wire.AskBootstrapPeers}
			return false, nil
		}
		if !state.HasGraph() {
			*next = wire.ClientMessage{Kind: wire.AskConsensusState}
			return false, nil
		}
		if err := s.withWriteDeadline(s.opts.Timeouts.Write, func() error {
			return s.binder.Send(wire.ClientMessage{Kind: wire.BootstrapSuccess})
		}); err != nil {
			return false, err
		}
		return true, nil

	default:
		return false, newErr(KindUnexpectedMessage, fmt.Sprintf("invalid next_bootstrap_message state %v", next.Kind), nil)
	}
}

// askAndAwait sends msg under write_timeout then reads exactly one reply
// under read_timeout, the pattern shared by AskBootstrapPeers and
// AskConsensusState.
func (s *Session) askAndAwait(msg wire.ClientMessage) (wire.ServerMessage, error) {
	if err := s.withWriteDeadline(s.opts.Timeouts.Write, func() error {
		return s.binder.Send(msg)
	}); err != nil {
		return wire.ServerMessage{}, err
	}
	var reply wire.ServerMessage
	err := s.withReadDeadline(s.opts.Timeouts.Read, func() error {
		var innerErr error
		reply, innerErr = s.binder.Next()
		return innerErr
	})
	return reply, err
}
