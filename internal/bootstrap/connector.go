// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"
)

// dscpValues maps DSCP names (RFC 2474/4594) to their numeric code point
// (6 bits). Shift left by 2 to get the full TOS byte (DSCP<<2 | ECN).
var dscpValues = map[string]int{
	"EF": 46,
	"AF11": 10, "AF12": 12, "AF13": 14,
	"AF21": 18, "AF22": 20, "AF23": 22,
	"AF31": 26, "AF32": 28, "AF33": 30,
	"AF41": 34, "AF42": 36, "AF43": 38,
	"CS0": 0, "CS1": 8, "CS2": 16, "CS3": 24,
	"CS4": 32, "CS5": 40, "CS6": 48, "CS7": 56,
}

// ParseDSCP converts a DSCP name (e.g. "AF41", "EF") to its numeric code
// point. An empty name returns 0, nil (disabled).
func ParseDSCP(name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	val, ok := dscpValues[name]
	if !ok {
		return 0, fmt.Errorf("unknown DSCP value %q (valid: EF, AF11..AF43, CS0..CS7)", name)
	}
	return val, nil
}

// applyDSCP sets the IP TOS field on a TCP connection so operators can mark
// bootstrap traffic below their consensus/gossip traffic. No-op if dscp==0.
func applyDSCP(conn net.Conn, dscp int) error {
	if dscp == 0 {
		return nil
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("cannot apply DSCP: conn is %T, not *net.TCPConn", conn)
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("getting raw conn for DSCP: %w", err)
	}
	tos := dscp << 2
	var sysErr error
	if err := rawConn.Control(func(fd uintptr) {
		sysErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tos)
	}); err != nil {
		return fmt.Errorf("control fd for DSCP: %w", err)
	}
	if sysErr != nil {
		return fmt.Errorf("setsockopt IP_TOS=%d: %w", tos, sysErr)
	}
	return nil
}

// Connector (C1) establishes a raw duplex byte stream to a bootstrap
// server within a timeout. The returned connection is unrate-limited;
// wrapping it in a rate limiter is the caller's job (C2).
type Connector struct {
	dialer net.Dialer
	dscp   int
	logger *slog.Logger
}

// NewConnector builds a Connector. dscpName may be empty. A nil logger
// falls back to slog.Default().
func NewConnector(dscpName string, logger *slog.Logger) (*Connector, error) {
	dscp, err := ParseDSCP(dscpName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{dscp: dscp, logger: logger}, nil
}

// Connect dials addr, failing with KindConnectFailed on a network error or
// KindTimeout if the socket does not come up within connectTimeout.
func (c *Connector) Connect(ctx context.Context, addr string, connectTimeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, newErr(KindTimeout, fmt.Sprintf("connect to %s timed out", addr), err)
		}
		return nil, newErr(KindConnectFailed, fmt.Sprintf("connect to %s", addr), err)
	}

	if err := applyDSCP(conn, c.dscp); err != nil {
		// Not fatal to the connection: a missing DSCP capability should
		// never block bootstrapping, only degrade its traffic priority.
		c.logger.Debug("could not apply DSCP to bootstrap connection", "error", err)
	}

	return conn, nil
}
