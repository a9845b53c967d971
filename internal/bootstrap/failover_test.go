// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/massalabs/bootstrap-client/internal/config"
	"github.com/massalabs/bootstrap-client/internal/wire"
)

// coldStartFinalState is a minimal in-memory FinalState used only to observe
// whether the cold-start path ran, without any of the streaming machinery.
type coldStartFinalState struct {
	loadedLedger bool
	createdCycle bool
}

func (f *coldStartFinalState) SetLedgerPart(data []byte) ([]byte, error)    { return nil, nil }
func (f *coldStartFinalState) SetAsyncPoolPart(data []byte) (*uint64, error) { return nil, nil }
func (f *coldStartFinalState) SetCycleHistoryPart(data []byte) (*uint64, error) { return nil, nil }
func (f *coldStartFinalState) SetDeferredCreditsPart(data []byte) (*wire.Slot, error) { return nil, nil }
func (f *coldStartFinalState) ApplyChanges(wire.Slot, []byte, []byte, []byte) error { return nil }
func (f *coldStartFinalState) SetSlot(wire.Slot)                            {}
func (f *coldStartFinalState) LoadInitialLedger() error                     { f.loadedLedger = true; return nil }
func (f *coldStartFinalState) CreateInitialCycle()                          { f.createdCycle = true }

func TestGetState_ColdStartBeforeGenesis(t *testing.T) {
	final := &coldStartFinalState{}
	genesis := time.Unix(2_000_000_000, 0)
	now := genesis.Add(-time.Hour)

	state, err := GetState(context.Background(), &config.BootstrapConfig{}, final, GetStateOptions{
		GenesisTimestamp: genesis,
		Now:              func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !final.loadedLedger || !final.createdCycle {
		t.Errorf("cold-start path did not seed the final state: %+v", final)
	}
	if state == nil {
		t.Fatal("expected non-nil state")
	}
}

func TestGetState_NoServersIsFatal(t *testing.T) {
	final := &coldStartFinalState{}
	genesis := time.Unix(2_000_000_000, 0)
	now := genesis.Add(time.Hour) // past genesis, so the cold-start shortcut does not apply

	_, err := GetState(context.Background(), &config.BootstrapConfig{}, final, GetStateOptions{
		GenesisTimestamp: genesis,
		Now:              func() time.Time { return now },
	})
	kind, ok := KindOf(err)
	if !ok || kind != KindNoServers {
		t.Fatalf("expected KindNoServers, got %v (ok=%v)", err, ok)
	}
}

func TestGetState_DeadlineAlreadyPassedIsFatal(t *testing.T) {
	final := &coldStartFinalState{}
	genesis := time.Unix(2_000_000_000, 0)
	deadline := genesis.Add(time.Minute)
	now := deadline.Add(time.Second) // past both genesis and the deadline

	cfg := &config.BootstrapConfig{
		Servers: []config.ServerEntry{{Address: "127.0.0.1:1234", PublicKey: "AAAA"}},
	}
	_, err := GetState(context.Background(), cfg, final, GetStateOptions{
		GenesisTimestamp: genesis,
		EndTimestamp:     deadline,
		Now:              func() time.Time { return now },
	})
	kind, ok := KindOf(err)
	if !ok || kind != KindEpisodeEnded {
		t.Fatalf("expected KindEpisodeEnded, got %v (ok=%v)", err, ok)
	}
}

func TestShuffleServers_IsPermutationAndDoesNotMutateInput(t *testing.T) {
	original := []config.ServerEntry{
		{Address: "a:1"}, {Address: "b:2"}, {Address: "c:3"}, {Address: "d:4"}, {Address: "e:5"},
	}
	snapshot := append([]config.ServerEntry(nil), original...)

	shuffled, err := shuffleServers(original)
	if err != nil {
		t.Fatalf("shuffleServers: %v", err)
	}

	for i := range original {
		if original[i] != snapshot[i] {
			t.Fatalf("input slice was mutated: %v", original)
		}
	}

	if len(shuffled) != len(original) {
		t.Fatalf("len(shuffled) = %d, want %d", len(shuffled), len(original))
	}
	counts := map[string]int{}
	for _, s := range shuffled {
		counts[s.Address]++
	}
	for _, s := range original {
		if counts[s.Address] != 1 {
			t.Errorf("shuffled result is not a permutation: %s appears %d times", s.Address, counts[s.Address])
		}
	}
}

func TestSizeCapsFromConfig_OverridesOnlySetFields(t *testing.T) {
	defaults := wire.DefaultSizeCaps()
	caps := sizeCapsFromConfig(config.SizeCapsConfig{MaxLedgerDataSizeRaw: 12345})
	if caps.MaxLedgerDataSize != 12345 {
		t.Errorf("MaxLedgerDataSize = %d, want 12345", caps.MaxLedgerDataSize)
	}
	if caps.MaxAsyncPoolPartSize != defaults.MaxAsyncPoolPartSize {
		t.Errorf("unset field MaxAsyncPoolPartSize = %d, want default %d", caps.MaxAsyncPoolPartSize, defaults.MaxAsyncPoolPartSize)
	}
}
