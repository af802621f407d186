package core

import (
	"fmt"

	"BetLedger/internal/ledger"
	"BetLedger/internal/state"
)

// SnapshotState is the complete in-memory ledger state at one sequence.
// Restoring it and replaying events from Sequence+1 reproduces the exact
// state and hash chain.
type SnapshotState struct {
	Sequence     int64
	StateHash    [32]byte
	Vaults       map[ledger.CurrencyID]ledger.Vault
	Bets         []*state.Bet
	Admin        ledger.Principal
	PendingAdmin ledger.Principal
	Oracles      []ledger.Principal
	Paused       bool
	Params       Params
	RequestKeys  []string
}

// CreateSnapshotState captures the current core state. Must run on the
// core's goroutine like every other operation.
func (c *Core) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:     c.sequence,
		StateHash:    c.hasher.GetPrevHash(),
		Vaults:       c.vaults.Snapshot(),
		Bets:         c.bets.All(),
		Admin:        c.gov.Admin(),
		PendingAdmin: c.gov.PendingAdmin(),
		Oracles:      c.gov.Oracles(),
		Paused:       c.gov.Paused(),
		Params:       c.params,
		RequestKeys:  c.deduper.Keys(),
	}
}

// RestoreFromSnapshot overwrites the core state from a snapshot. Called once
// during startup, before the dispatcher begins accepting operations.
func (c *Core) RestoreFromSnapshot(snap *SnapshotState) error {
	c.sequence = snap.Sequence
	c.hasher.SetPrevHash(snap.StateHash)

	for currency, vault := range snap.Vaults {
		c.vaults.Restore(currency, vault)
	}
	for _, b := range snap.Bets {
		c.bets.Restore(b)
	}
	c.gov.Restore(snap.Admin, snap.PendingAdmin, snap.Oracles, snap.Paused)
	c.params = snap.Params
	c.deduper.WarmFromKeys(snap.RequestKeys)

	if err := c.validator.ValidateAll(); err != nil {
		return fmt.Errorf("snapshot restore produced invalid state: %w", err)
	}
	return nil
}
