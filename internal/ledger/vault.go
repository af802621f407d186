package ledger

import "fmt"

// Vault holds the accounting totals for one settlement currency.
// Treasury is actual custody; Liability is the sum of potential payouts over
// pending bets; AccruedFees is operator revenue tagged inside the treasury;
// RefundsOwed tracks voided stakes the treasury could not refund.
type Vault struct {
	Treasury    int64
	Volume      int64
	Liability   int64
	AccruedFees int64
	RefundsOwed int64
}

// VaultTracker maintains the per-currency vaults.
// Not thread-safe — only accessed from the single-threaded operation core.
type VaultTracker struct {
	vaults map[CurrencyID]*Vault
}

func NewVaultTracker() *VaultTracker {
	vt := &VaultTracker{
		vaults: make(map[CurrencyID]*Vault, len(Currencies())),
	}
	for _, c := range Currencies() {
		vt.vaults[c] = &Vault{}
	}
	return vt
}

// Vault returns the vault for a currency (always non-nil for known currencies).
func (vt *VaultTracker) Vault(c CurrencyID) *Vault {
	v, ok := vt.vaults[c]
	if !ok {
		v = &Vault{}
		vt.vaults[c] = v
	}
	return v
}

// CanCover reports whether accepting a new stake keeps the vault solvent:
// treasury + stake >= liability + payout.
func (vt *VaultTracker) CanCover(c CurrencyID, stake, payout int64) bool {
	v := vt.Vault(c)
	return v.Treasury+stake >= v.Liability+payout
}

// AcceptStake escrows an incoming stake and books the payout obligation.
func (vt *VaultTracker) AcceptStake(c CurrencyID, stake, payout int64) {
	v := vt.Vault(c)
	v.Treasury += stake
	v.Volume += stake
	v.Liability += payout
}

// ReleaseLiability removes a resolved bet's payout obligation.
func (vt *VaultTracker) ReleaseLiability(c CurrencyID, payout int64) error {
	v := vt.Vault(c)
	if v.Liability < payout {
		return fmt.Errorf("liability underflow: have=%d, release=%d", v.Liability, payout)
	}
	v.Liability -= payout
	return nil
}

// PayOut debits the treasury for an outbound transfer.
func (vt *VaultTracker) PayOut(c CurrencyID, amount int64) error {
	v := vt.Vault(c)
	if v.Treasury < amount {
		return fmt.Errorf("treasury underflow: have=%d, debit=%d", v.Treasury, amount)
	}
	v.Treasury -= amount
	return nil
}

// AccrueFees tags operator revenue inside the treasury. No funds move.
func (vt *VaultTracker) AccrueFees(c CurrencyID, amount int64) {
	vt.Vault(c).AccruedFees += amount
}

// Deposit credits the treasury with an admin liquidity top-up.
func (vt *VaultTracker) Deposit(c CurrencyID, amount int64) {
	vt.Vault(c).Treasury += amount
}

// Surplus returns treasury minus liability — funds safely withdrawable.
func (vt *VaultTracker) Surplus(c CurrencyID) int64 {
	v := vt.Vault(c)
	return v.Treasury - v.Liability
}

// Withdrawable returns the fee amount the operator may extract without
// breaking solvency: min(accrued_fees, max(0, surplus)).
func (vt *VaultTracker) Withdrawable(c CurrencyID) int64 {
	v := vt.Vault(c)
	surplus := v.Treasury - v.Liability
	if surplus < 0 {
		surplus = 0
	}
	if v.AccruedFees < surplus {
		return v.AccruedFees
	}
	return surplus
}

// WithdrawFees debits the treasury and reduces the accrued-fee tag.
// The caller must have verified the amount against Withdrawable.
func (vt *VaultTracker) WithdrawFees(c CurrencyID, amount int64) error {
	v := vt.Vault(c)
	if amount > v.AccruedFees {
		return fmt.Errorf("accrued fee underflow: have=%d, debit=%d", v.AccruedFees, amount)
	}
	if err := vt.PayOut(c, amount); err != nil {
		return err
	}
	v.AccruedFees -= amount
	return nil
}

// RecordOwedRefund books a refund the treasury could not cover at void time.
func (vt *VaultTracker) RecordOwedRefund(c CurrencyID, amount int64) {
	vt.Vault(c).RefundsOwed += amount
}

// Snapshot returns a copy of all vaults keyed by currency ID.
func (vt *VaultTracker) Snapshot() map[CurrencyID]Vault {
	snap := make(map[CurrencyID]Vault, len(vt.vaults))
	for c, v := range vt.vaults {
		snap[c] = *v
	}
	return snap
}

// Restore overwrites a vault from a snapshot.
func (vt *VaultTracker) Restore(c CurrencyID, v Vault) {
	copied := v
	vt.vaults[c] = &copied
}
