package state

import (
	"fmt"

	"BetLedger/internal/ledger"
)

// Governance is the platform's control state: who administers it, who may
// settle bets, and whether new bets are accepted. Admin handover is
// two-phase so a mistyped principal can never permanently lock governance.
type Governance struct {
	admin        ledger.Principal
	pendingAdmin ledger.Principal
	oracles      map[ledger.Principal]struct{}
	paused       bool
}

// NewGovernance initializes governance with pending_admin == admin.
func NewGovernance(admin ledger.Principal) *Governance {
	return &Governance{
		admin:        admin,
		pendingAdmin: admin,
		oracles:      make(map[ledger.Principal]struct{}),
	}
}

func (g *Governance) Admin() ledger.Principal        { return g.admin }
func (g *Governance) PendingAdmin() ledger.Principal { return g.pendingAdmin }
func (g *Governance) Paused() bool                   { return g.paused }

// IsAdmin reports whether the caller holds governance authority.
func (g *Governance) IsAdmin(caller ledger.Principal) bool {
	return caller == g.admin
}

// IsOracle reports membership in the settlement allowlist.
func (g *Governance) IsOracle(caller ledger.Principal) bool {
	_, ok := g.oracles[caller]
	return ok
}

// CanSettle reports settlement authority: admin or allowlisted oracle.
// Oracles never gain governance or treasury authority.
func (g *Governance) CanSettle(caller ledger.Principal) bool {
	return g.IsAdmin(caller) || g.IsOracle(caller)
}

// ProposeAdmin stages a new admin. Only the current admin may propose.
func (g *Governance) ProposeAdmin(caller, next ledger.Principal) error {
	if !g.IsAdmin(caller) {
		return fmt.Errorf("propose admin: caller %s is not admin", caller)
	}
	g.pendingAdmin = next
	return nil
}

// AcceptAdmin commits the handover. Only the staged principal may accept,
// which proves the new admin is reachable before authority moves.
func (g *Governance) AcceptAdmin(caller ledger.Principal) error {
	if caller != g.pendingAdmin {
		return fmt.Errorf("accept admin: caller %s is not the pending admin", caller)
	}
	g.admin = caller
	return nil
}

// AddOracle grants settlement authority. Idempotent.
func (g *Governance) AddOracle(caller, oracle ledger.Principal) error {
	if !g.IsAdmin(caller) {
		return fmt.Errorf("add oracle: caller %s is not admin", caller)
	}
	g.oracles[oracle] = struct{}{}
	return nil
}

// RemoveOracle revokes settlement authority. Removing an absent principal
// is a no-op success.
func (g *Governance) RemoveOracle(caller, oracle ledger.Principal) error {
	if !g.IsAdmin(caller) {
		return fmt.Errorf("remove oracle: caller %s is not admin", caller)
	}
	delete(g.oracles, oracle)
	return nil
}

// SetPause toggles the accept-new-bets flag.
func (g *Governance) SetPause(caller ledger.Principal, paused bool) error {
	if !g.IsAdmin(caller) {
		return fmt.Errorf("set pause: caller %s is not admin", caller)
	}
	g.paused = paused
	return nil
}

// Oracles returns the allowlist (used for snapshots). Order is unspecified.
func (g *Governance) Oracles() []ledger.Principal {
	out := make([]ledger.Principal, 0, len(g.oracles))
	for p := range g.oracles {
		out = append(out, p)
	}
	return out
}

// Restore overwrites governance state from a snapshot.
func (g *Governance) Restore(admin, pendingAdmin ledger.Principal, oracles []ledger.Principal, paused bool) {
	g.admin = admin
	g.pendingAdmin = pendingAdmin
	g.oracles = make(map[ledger.Principal]struct{}, len(oracles))
	for _, p := range oracles {
		g.oracles[p] = struct{}{}
	}
	g.paused = paused
}
