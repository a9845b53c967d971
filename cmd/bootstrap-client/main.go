// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/massalabs/bootstrap-client/internal/bootstrap"
	"github.com/massalabs/bootstrap-client/internal/config"
	"github.com/massalabs/bootstrap-client/internal/diagnostics"
	"github.com/massalabs/bootstrap-client/internal/logging"
	"github.com/massalabs/bootstrap-client/internal/wire"
)

// clientVersion is the version string offered during the handshake and
// version-compatibility check. Overridden via ldflags at build time.
var clientVersion = "bootstrap-client/dev"

func main() {
	configPath := flag.String("config", "/etc/bootstrap-client/config.yaml", "path to bootstrap client config file")
	once := flag.Bool("once", false, "run one get_state episode and exit (no staleness supervisor)")
	genesis := flag.String("genesis", "", "genesis timestamp, RFC3339 (required)")
	deadline := flag.String("deadline", "", "episode deadline, RFC3339 (optional, no deadline if empty)")
	flag.Parse()

	cfg, err := config.LoadBootstrapConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	if *genesis == "" {
		logger.Error("-genesis is required")
		os.Exit(1)
	}
	genesisTime, err := parseOptionalTime(*genesis)
	if err != nil {
		logger.Error("invalid -genesis", "error", err)
		os.Exit(1)
	}
	deadlineTime, err := parseOptionalTime(*deadline)
	if err != nil {
		logger.Error("invalid -deadline", "error", err)
		os.Exit(1)
	}

	rec, err := diagnostics.NewRecorder(cfg.Diagnostics)
	if err != nil {
		logger.Error("starting diagnostics recorder", "error", err)
		os.Exit(1)
	}
	defer rec.Close()

	final := newInMemoryFinalState()
	status := &statusHolder{}
	diagServer := diagnostics.NewServer(cfg.Diagnostics, rec, status)
	diagServer.Start()
	defer diagServer.Stop(context.Background())

	if report, err := bootstrap.CheckPreflight(os.TempDir()); err == nil {
		if diskLow, memLow := report.Below(cfg.Preflight); diskLow || memLow {
			logger.Warn("preflight headroom check below configured threshold", "disk_low", diskLow, "mem_low", memLow)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var snapshotFetcher bootstrap.SnapshotFetcher
	if cfg.Snapshot.Enabled() {
		snapshotFetcher = bootstrap.S3Snapshot{}
	}

	runOnce := func(ctx context.Context) error {
		result, err := bootstrap.GetState(ctx, cfg, final, bootstrap.GetStateOptions{
			Version:          clientVersion,
			GenesisTimestamp: genesisTime,
			EndTimestamp:     deadlineTime,
			Snapshot:         snapshotFetcher,
			Logger:           logger,
			Diagnostics:      rec,
		})
		if err != nil {
			return err
		}
		status.set(result)
		return nil
	}

	if err := runOnce(ctx); err != nil {
		logger.Error("bootstrap episode failed", "error", err)
		os.Exit(1)
	}
	peers, hasGraph := status.summary()
	logger.Info("bootstrap episode completed", "peers", peers, "has_graph", hasGraph)

	if *once {
		return
	}

	supervisor, err := bootstrap.NewSupervisor(cfg.Supervisor, logger, runOnce)
	if err != nil {
		logger.Error("starting staleness supervisor", "error", err)
		os.Exit(1)
	}
	if supervisor == nil {
		logger.Info("staleness supervisor disabled, exiting after initial sync")
		return
	}

	supervisor.Start()
	<-ctx.Done()
	logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	supervisor.Stop(stopCtx)
}

// statusHolder exposes the most recent completed episode's
// GlobalBootstrapState to the diagnostics HTTP server, without handing
// that server a pointer it could hold across a reconnect (each episode
// builds its own GlobalBootstrapState, so a plain pointer swap — never a
// copy of the locked struct — is what is published here).
type statusHolder struct {
	mu    sync.Mutex
	state *bootstrap.GlobalBootstrapState
}

func (h *statusHolder) set(state *bootstrap.GlobalBootstrapState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
}

func (h *statusHolder) summary() (peers int, hasGraph bool) {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state == nil {
		return 0, false
	}
	return len(state.Peers), state.HasGraph()
}

// ClockCompensation satisfies diagnostics.StatusProvider.
func (h *statusHolder) ClockCompensation() (int64, bool) {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state == nil {
		return 0, false
	}
	return state.ClockCompensation()
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// inMemoryFinalState is a minimal bootstrap.FinalState used when this
// binary runs standalone without a real node attached. A production
// node supplies its own ledger/async-pool/PoS store instead (see
// bootstrap.FinalState's doc comment: serialization and storage of these
// domain types is an external collaborator of this core).
type inMemoryFinalState struct {
	ledger       []byte
	asyncPool    []byte
	cycleHistory []byte
	deferred     []byte
	slot         wire.Slot
}

func newInMemoryFinalState() *inMemoryFinalState { return &inMemoryFinalState{} }

func (f *inMemoryFinalState) SetLedgerPart(data []byte) ([]byte, error) {
	f.ledger = append(f.ledger, data...)
	if len(data) == 0 {
		return nil, nil
	}
	key := append([]byte(nil), data[len(data)-1:]...)
	return key, nil
}

func (f *inMemoryFinalState) SetAsyncPoolPart(data []byte) (*uint64, error) {
	f.asyncPool = append(f.asyncPool, data...)
	id := uint64(len(f.asyncPool))
	return &id, nil
}

func (f *inMemoryFinalState) SetCycleHistoryPart(data []byte) (*uint64, error) {
	f.cycleHistory = append(f.cycleHistory, data...)
	cycle := uint64(len(f.cycleHistory))
	return &cycle, nil
}

func (f *inMemoryFinalState) SetDeferredCreditsPart(data []byte) (*wire.Slot, error) {
	f.deferred = append(f.deferred, data...)
	slot := f.slot
	return &slot, nil
}

func (f *inMemoryFinalState) ApplyChanges(changesSlot wire.Slot, ledgerChanges, asyncPoolChanges, rollStateChanges []byte) error {
	f.ledger = append(f.ledger, ledgerChanges...)
	f.asyncPool = append(f.asyncPool, asyncPoolChanges...)
	f.cycleHistory = append(f.cycleHistory, rollStateChanges...)
	return nil
}

func (f *inMemoryFinalState) SetSlot(slot wire.Slot) { f.slot = slot }

func (f *inMemoryFinalState) LoadInitialLedger() error { return nil }

func (f *inMemoryFinalState) CreateInitialCycle() {}
