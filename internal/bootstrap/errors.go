// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package bootstrap implements the bootstrap client core: a rate-limited,
// chained-signature framed connection to a bootstrap server, the session
// phase machine driven over it, resumable chunked final-state streaming,
// and the failover controller that rotates across a server list while
// carrying the resume cursor forward.
package bootstrap

import (
	"errors"
	"fmt"
)

// Kind classifies a session error so the failover controller (C6) knows
// whether to move to the next server, retry the episode, or die.
type Kind int

const (
	// KindTimeout: a timed operation exceeded its configured bound.
	KindTimeout Kind = iota
	// KindConnectFailed: the duplex could not be opened.
	KindConnectFailed
	// KindOversizeFrame: a frame's length field exceeded max_message_size.
	KindOversizeFrame
	// KindBadSignature: signature verification failed on a received frame.
	KindBadSignature
	// KindBadFrame: the frame body failed to decode under the size caps.
	KindBadFrame
	// KindUnexpectedMessage: the wrong message type arrived for the
	// current phase.
	KindUnexpectedMessage
	// KindIncompatibleVersion: the server's advertised version is not
	// compatible with ours.
	KindIncompatibleVersion
	// KindPingTooHigh: measured RTT during the clock phase exceeded
	// max_ping.
	KindPingTooHigh
	// KindServerRefused: the server sent a BootstrapError message.
	KindServerRefused
	// KindNoServers: the configured bootstrap list is empty.
	KindNoServers
	// KindClockOverflow: the clock compensation magnitude does not fit in
	// a signed 64-bit millisecond count.
	KindClockOverflow
	// KindEpisodeEnded: the episode deadline (end_timestamp) has passed.
	KindEpisodeEnded
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindConnectFailed:
		return "ConnectFailed"
	case KindOversizeFrame:
		return "OversizeFrame"
	case KindBadSignature:
		return "BadSignature"
	case KindBadFrame:
		return "BadFrame"
	case KindUnexpectedMessage:
		return "UnexpectedMessage"
	case KindIncompatibleVersion:
		return "IncompatibleVersion"
	case KindPingTooHigh:
		return "PingTooHigh"
	case KindServerRefused:
		return "ServerRefused"
	case KindNoServers:
		return "NoServers"
	case KindClockOverflow:
		return "ClockOverflow"
	case KindEpisodeEnded:
		return "EpisodeEnded"
	default:
		return "Unknown"
	}
}

// Error wraps a session-ending condition with its Kind so callers can
// switch on it without string matching, plus an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bootstrap: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("bootstrap: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, returning ok=false if err is not (and
// does not wrap) a *Error.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}

// retryable reports whether the failover controller should simply move to
// the next server on this error (every kind does except NoServers and
// EpisodeEnded, which are fatal to the whole episode).
func retryable(kind Kind) bool {
	switch kind {
	case KindNoServers, KindEpisodeEnded:
		return false
	default:
		return true
	}
}
