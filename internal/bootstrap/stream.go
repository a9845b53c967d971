// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"fmt"

	"github.com/massalabs/bootstrap-client/internal/wire"
)

// streamFinalState (C5) sends the current AskFinalStatePart and applies
// every FinalStatePart chunk the server replies with, advancing the
// resume cursor in *next after each chunk so a connection loss mid-stream
// resumes exactly where it left off.
func (s *Session) streamFinalState(state *GlobalBootstrapState, final FinalState, next *wire.ClientMessage) error {
	if err := s.withWriteDeadline(s.opts.Timeouts.Write, func() error {
		return s.binder.Send(*next)
	}); err != nil {
		return err
	}

	for {
		var msg wire.ServerMessage
		err := s.withReadDeadline(s.opts.Timeouts.Read, func() error {
			var innerErr error
			msg, innerErr = s.binder.Next()
			return innerErr
		})
		if err != nil {
			return err
		}

		switch msg.Kind {
		case wire.FinalStatePart:
			cursor, err := applyFinalStatePart(state, final, msg)
			if err != nil {
				return err
			}
			next.Kind = wire.AskFinalStatePart
			next.Cursor = cursor

		case wire.FinalStateFinished:
			*next = wire.ClientMessage{Kind: wire.AskBootstrapPeers}
			return nil

		case wire.SlotTooOld:
			*next = wire.ClientMessage{Kind: wire.AskFinalStatePart, Cursor: wire.Cursor{}}
			return nil

		case wire.ServerBootstrapError:
			return newErr(KindServerRefused, msg.ErrorText, nil)

		default:
			return newErr(KindUnexpectedMessage, fmt.Sprintf("unexpected message %v while streaming final state", msg.Kind), nil)
		}
	}
}

// applyFinalStatePart performs §4.5 steps 1-8 under the exclusive writer
// guard, building the next resume cursor from whatever each Set* call
// hands back; the caller stores that cursor in next (step 9).
func applyFinalStatePart(state *GlobalBootstrapState, final FinalState, msg wire.ServerMessage) (wire.Cursor, error) {
	var cursor wire.Cursor
	err := state.WithFinalState(func(fs FinalState) error {
		lastKey, err := fs.SetLedgerPart(msg.LedgerData)
		if err != nil {
			return fmt.Errorf("applying ledger part: %w", err)
		}
		lastAsyncID, err := fs.SetAsyncPoolPart(msg.AsyncPoolPart)
		if err != nil {
			return fmt.Errorf("applying async pool part: %w", err)
		}
		lastCycle, err := fs.SetCycleHistoryPart(msg.PosCyclePart)
		if err != nil {
			return fmt.Errorf("applying PoS cycle part: %w", err)
		}
		lastCreditsSlot, err := fs.SetDeferredCreditsPart(msg.PosCreditsPart)
		if err != nil {
			return fmt.Errorf("applying deferred credits part: %w", err)
		}

		for _, change := range msg.FinalStateChanges {
			if err := fs.ApplyChanges(change.Slot, change.LedgerChanges, change.AsyncPoolChanges, change.RollStateChanges); err != nil {
				return fmt.Errorf("applying final state change at slot %+v: %w", change.Slot, err)
			}
		}

		fs.SetSlot(msg.Slot)

		cursor = wire.Cursor{
			LastKey:            lastKey,
			Slot:               &msg.Slot,
			LastAsyncMessageID: lastAsyncID,
			LastCycle:          lastCycle,
			LastCreditsSlot:    lastCreditsSlot,
		}
		return nil
	})
	if err != nil {
		return wire.Cursor{}, newErr(KindBadFrame, "final state part rejected by store", err)
	}
	return cursor, nil
}
