// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/massalabs/bootstrap-client/internal/config"
	"github.com/massalabs/bootstrap-client/internal/diagnostics"
	"github.com/massalabs/bootstrap-client/internal/logging"
	"github.com/massalabs/bootstrap-client/internal/pki"
	"github.com/massalabs/bootstrap-client/internal/wire"
)

// SnapshotFetcher is the optional C11 fast path: a single non-resumable
// attempt to seed the final state from an object store before falling
// back to the normal per-server loop. A nil fetcher disables the path
// regardless of configuration.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, cfg config.SnapshotConfig) error
}

// GetStateOptions carries everything GetState needs beyond the
// server-list-and-version essentials already on BootstrapConfig.
type GetStateOptions struct {
	Version          string
	GenesisTimestamp time.Time
	EndTimestamp     time.Time // zero value means "no deadline"
	Snapshot         SnapshotFetcher
	Logger           *slog.Logger
	Now              func() time.Time
	// Diagnostics records operational events and finished per-server
	// attempts (C12). Nil disables recording entirely.
	Diagnostics *diagnostics.Recorder
}

// GetState (C6) is the top-level entry point: cold-start shortcut, then a
// connect/handshake/session loop across a shuffled server list, carrying
// the resume cursor forward across reconnects and servers.
func GetState(ctx context.Context, cfg *config.BootstrapConfig, final FinalState, opts GetStateOptions) (*GlobalBootstrapState, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	state := NewGlobalBootstrapState(final)

	if opts.Now().Before(opts.GenesisTimestamp) {
		if err := state.WithFinalState(func(fs FinalState) error {
			if err := fs.LoadInitialLedger(); err != nil {
				return err
			}
			fs.CreateInitialCycle()
			return nil
		}); err != nil {
			return nil, newErr(KindBadFrame, "cold-start ledger load failed", err)
		}
		return state, nil
	}

	if len(cfg.Servers) == 0 {
		return nil, newErr(KindNoServers, "bootstrap server list is empty", nil)
	}

	next := &wire.ClientMessage{Kind: wire.AskFinalStatePart}

	connector, err := NewConnector(cfg.DSCP, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("building connector: %w", err)
	}

	firstAttempt := true
	attempt := 0
	for {
		if !opts.EndTimestamp.IsZero() && !opts.Now().Before(opts.EndTimestamp) {
			return nil, newErr(KindEpisodeEnded, "episode deadline reached", nil)
		}

		if firstAttempt && opts.Snapshot != nil && cfg.Snapshot.Enabled() && next.Cursor.Empty() {
			if err := opts.Snapshot.Fetch(ctx, cfg.Snapshot); err != nil {
				opts.Logger.Warn("snapshot fast path failed, falling back to server loop", "error", err)
				opts.Diagnostics.Event("warn", "snapshot", "", err.Error())
			} else {
				opts.Diagnostics.Event("info", "snapshot", "", "final state seeded from snapshot")
				return state, nil
			}
		}
		firstAttempt = false

		servers, err := shuffleServers(cfg.Servers)
		if err != nil {
			return nil, fmt.Errorf("shuffling server list: %w", err)
		}

		for _, server := range servers {
			if !opts.EndTimestamp.IsZero() && !opts.Now().Before(opts.EndTimestamp) {
				return nil, newErr(KindEpisodeEnded, "episode deadline reached", nil)
			}

			started := opts.Now()
			attempt++
			err := attemptServer(ctx, connector, cfg, server, final, state, next, opts, attempt)
			if err == nil {
				opts.Diagnostics.Attempt(server.Address, started, opts.Now(), 0, "ok", nil)
				opts.Diagnostics.Event("info", "failover", server.Address, "bootstrap completed")
				return state, nil
			}

			kind, _ := KindOf(err)
			if kind == KindServerRefused {
				opts.Diagnostics.Attempt(server.Address, started, opts.Now(), 0, "refused", err)
				opts.Logger.Warn("server refused bootstrap", "server", server.Address, "error", err)
				continue
			}
			opts.Diagnostics.Attempt(server.Address, started, opts.Now(), 0, "error", err)
			opts.Logger.Warn("bootstrap attempt failed", "server", server.Address, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}
}

// attemptServer runs one connect+handshake+session cycle against a single
// server, reporting the best-effort ClientBootstrapError notification on
// any non-ServerRefused failure before returning it to the caller. attempt
// is the failover loop's monotonic counter across the whole episode, used
// to name this attempt's append-only trace file (SPEC_FULL §4.9).
func attemptServer(ctx context.Context, connector *Connector, cfg *config.BootstrapConfig, server config.ServerEntry, final FinalState, state *GlobalBootstrapState, next *wire.ClientMessage, opts GetStateOptions, attempt int) error {
	pubKey, err := pki.ParsePublicKey(server.PublicKey)
	if err != nil {
		return fmt.Errorf("parsing public key for %s: %w", server.Address, err)
	}

	sessionLog, err := logging.NewSessionLogger(opts.Logger, cfg.Logging.SessionDir, server.Address, attempt)
	if err != nil {
		return fmt.Errorf("opening session log for %s: %w", server.Address, err)
	}
	defer sessionLog.Close()

	conn, err := connector.Connect(ctx, server.Address, cfg.Timeouts.Connect)
	if err != nil {
		return err
	}
	defer conn.Close()

	duplex := NewRateLimitedDuplex(ctx, conn, cfg.RateLimitBytesPerSecRaw)
	codec := wire.NewCodec(sizeCapsFromConfig(cfg.SizeCaps))
	binder := NewBinder(duplex, pubKey, uint32(cfg.MaxMessageSizeRaw), codec)

	session := NewSession(conn, binder, SessionOptions{
		Version:                    opts.Version,
		EnableClockSynchronization: cfg.EnableClockSynchronization,
		MaxPing:                    cfg.MaxPing,
		Timeouts: Timeouts{
			Connect:    cfg.Timeouts.Connect,
			ReadError:  cfg.Timeouts.ReadError,
			Read:       cfg.Timeouts.Read,
			Write:      cfg.Timeouts.Write,
			WriteError: cfg.Timeouts.WriteError,
		},
		Logger: sessionLog.Logger,
		Now:    opts.Now,
	})

	err = session.Run(state, final, next)
	if err != nil && !isServerRefused(err) {
		notifyServerOfError(conn, binder, cfg.Timeouts.WriteError, err)
	}
	return err
}

func isServerRefused(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindServerRefused
}

// notifyServerOfError makes a best-effort attempt to tell the server why
// we are disconnecting. Its own failure is deliberately ignored: it must
// never mask the original error that triggered the notification.
func notifyServerOfError(conn interface{ SetWriteDeadline(time.Time) error }, binder *Binder, timeout time.Duration, cause error) {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	_ = binder.Send(wire.ClientMessage{Kind: wire.ClientBootstrapError, ErrorText: cause.Error()})
}

// shuffleServers returns a cryptographically-seeded random permutation of
// servers, leaving the input slice untouched.
func shuffleServers(servers []config.ServerEntry) ([]config.ServerEntry, error) {
	shuffled := append([]config.ServerEntry(nil), servers...)
	for i := len(shuffled) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		j := int(jBig.Int64())
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled, nil
}

func sizeCapsFromConfig(c config.SizeCapsConfig) wire.SizeCaps {
	caps := wire.DefaultSizeCaps()
	if c.MaxLedgerDataSizeRaw > 0 {
		caps.MaxLedgerDataSize = uint32(c.MaxLedgerDataSizeRaw)
	}
	if c.MaxAsyncPoolPartSizeRaw > 0 {
		caps.MaxAsyncPoolPartSize = uint32(c.MaxAsyncPoolPartSizeRaw)
	}
	if c.MaxPosCyclePartSizeRaw > 0 {
		caps.MaxPosCyclePartSize = uint32(c.MaxPosCyclePartSizeRaw)
	}
	if c.MaxPosCreditsPartSizeRaw > 0 {
		caps.MaxPosCreditsPartSize = uint32(c.MaxPosCreditsPartSizeRaw)
	}
	if c.MaxFinalStateChanges > 0 {
		caps.MaxFinalStateChanges = uint32(c.MaxFinalStateChanges)
	}
	if c.MaxLedgerChangesSizeRaw > 0 {
		caps.MaxLedgerChangesSize = uint32(c.MaxLedgerChangesSizeRaw)
	}
	if c.MaxAsyncChangesSizeRaw > 0 {
		caps.MaxAsyncChangesSize = uint32(c.MaxAsyncChangesSizeRaw)
	}
	if c.MaxRollChangesSizeRaw > 0 {
		caps.MaxRollChangesSize = uint32(c.MaxRollChangesSizeRaw)
	}
	if c.MaxPeerCount > 0 {
		caps.MaxPeerCount = uint32(c.MaxPeerCount)
	}
	if c.MaxPeerAddressLength > 0 {
		caps.MaxPeerAddressLength = uint32(c.MaxPeerAddressLength)
	}
	if c.MaxGraphSizeRaw > 0 {
		caps.MaxGraphSize = uint32(c.MaxGraphSizeRaw)
	}
	if c.MaxErrorTextLength > 0 {
		caps.MaxErrorTextLength = uint32(c.MaxErrorTextLength)
	}
	if c.MaxVersionLength > 0 {
		caps.MaxVersionLength = uint32(c.MaxVersionLength)
	}
	if c.MaxLastKeyLength > 0 {
		caps.MaxLastKeyLength = uint32(c.MaxLastKeyLength)
	}
	return caps
}
