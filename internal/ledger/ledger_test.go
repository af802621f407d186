package ledger_test

import (
	"BetLedger/internal/ledger"
	"testing"
)

// ============================================================================
// Test: currency registry
// ============================================================================

func TestGetCurrencyID_Known(t *testing.T) {
	id, ok := ledger.GetCurrencyID("STX")
	if !ok {
		t.Fatal("STX should be a known currency")
	}
	if id == 0 {
		t.Error("STX currency ID should be non-zero")
	}
}

func TestGetCurrencyID_Unknown(t *testing.T) {
	_, ok := ledger.GetCurrencyID("DOGE")
	if ok {
		t.Error("DOGE should not be a known currency")
	}
}

func TestCurrencies_RoundTripNames(t *testing.T) {
	for _, c := range ledger.Currencies() {
		name, ok := ledger.GetCurrencyName(c)
		if !ok {
			t.Fatalf("currency %d has no name", c)
		}
		back, ok := ledger.GetCurrencyID(name)
		if !ok || back != c {
			t.Errorf("currency %d round-trip failed via %q", c, name)
		}
	}
}

// ============================================================================
// Test: VaultTracker
// ============================================================================

func stx(t *testing.T) ledger.CurrencyID {
	t.Helper()
	id, ok := ledger.GetCurrencyID("STX")
	if !ok {
		t.Fatal("STX not registered")
	}
	return id
}

func TestVaultTracker_InitialVaultZero(t *testing.T) {
	vt := ledger.NewVaultTracker()
	v := vt.Vault(stx(t))
	if v.Treasury != 0 || v.Liability != 0 || v.Volume != 0 || v.AccruedFees != 0 {
		t.Errorf("fresh vault should be all-zero, got %+v", v)
	}
}

func TestVaultTracker_AcceptStake(t *testing.T) {
	vt := ledger.NewVaultTracker()
	c := stx(t)

	vt.AcceptStake(c, 100, 200)

	v := vt.Vault(c)
	if v.Treasury != 100 {
		t.Errorf("treasury: got %d, want 100", v.Treasury)
	}
	if v.Volume != 100 {
		t.Errorf("volume: got %d, want 100", v.Volume)
	}
	if v.Liability != 200 {
		t.Errorf("liability: got %d, want 200", v.Liability)
	}
}

func TestVaultTracker_CanCover(t *testing.T) {
	vt := ledger.NewVaultTracker()
	c := stx(t)
	vt.Deposit(c, 100)

	// treasury 100 + stake 100 == liability 0 + payout 200: exactly solvent
	if !vt.CanCover(c, 100, 200) {
		t.Error("exactly-solvent placement should be coverable")
	}
	if vt.CanCover(c, 100, 201) {
		t.Error("payout exceeding treasury+stake should not be coverable")
	}
}

func TestVaultTracker_ReleaseLiabilityUnderflow(t *testing.T) {
	vt := ledger.NewVaultTracker()
	c := stx(t)
	vt.AcceptStake(c, 100, 200)

	if err := vt.ReleaseLiability(c, 300); err == nil {
		t.Error("releasing more than booked liability should fail")
	}
	if err := vt.ReleaseLiability(c, 200); err != nil {
		t.Errorf("release failed: %v", err)
	}
	if vt.Vault(c).Liability != 0 {
		t.Errorf("liability: got %d, want 0", vt.Vault(c).Liability)
	}
}

func TestVaultTracker_PayOutUnderflow(t *testing.T) {
	vt := ledger.NewVaultTracker()
	c := stx(t)
	vt.Deposit(c, 50)

	if err := vt.PayOut(c, 51); err == nil {
		t.Error("overdraw should fail")
	}
	if vt.Vault(c).Treasury != 50 {
		t.Errorf("failed payout must not mutate treasury, got %d", vt.Vault(c).Treasury)
	}
}

func TestVaultTracker_Withdrawable(t *testing.T) {
	vt := ledger.NewVaultTracker()
	c := stx(t)

	// treasury=1000, liability=600, accrued=700 => surplus=400, withdrawable=400
	vt.Deposit(c, 1000)
	vt.AcceptStake(c, 0, 600)
	vt.AccrueFees(c, 700)

	if got := vt.Surplus(c); got != 400 {
		t.Errorf("surplus: got %d, want 400", got)
	}
	if got := vt.Withdrawable(c); got != 400 {
		t.Errorf("withdrawable: got %d, want 400", got)
	}

	// accrued below surplus caps withdrawable at accrued
	vt2 := ledger.NewVaultTracker()
	vt2.Deposit(c, 1000)
	vt2.AccrueFees(c, 10)
	if got := vt2.Withdrawable(c); got != 10 {
		t.Errorf("withdrawable capped by accrued: got %d, want 10", got)
	}
}

func TestVaultTracker_WithdrawFees(t *testing.T) {
	vt := ledger.NewVaultTracker()
	c := stx(t)
	vt.Deposit(c, 500)
	vt.AccrueFees(c, 200)

	if err := vt.WithdrawFees(c, 150); err != nil {
		t.Fatalf("WithdrawFees failed: %v", err)
	}
	v := vt.Vault(c)
	if v.Treasury != 350 {
		t.Errorf("treasury: got %d, want 350", v.Treasury)
	}
	if v.AccruedFees != 50 {
		t.Errorf("accrued fees: got %d, want 50", v.AccruedFees)
	}

	if err := vt.WithdrawFees(c, 51); err == nil {
		t.Error("withdrawing beyond accrued fees should fail")
	}
}

func TestVaultTracker_SnapshotRestore(t *testing.T) {
	vt := ledger.NewVaultTracker()
	c := stx(t)
	vt.Deposit(c, 1234)
	vt.AcceptStake(c, 100, 150)
	vt.AccrueFees(c, 7)

	snap := vt.Snapshot()

	restored := ledger.NewVaultTracker()
	for id, v := range snap {
		restored.Restore(id, v)
	}

	got := restored.Vault(c)
	want := vt.Vault(c)
	if *got != *want {
		t.Errorf("restored vault mismatch: got %+v, want %+v", got, want)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_SolventVaultPasses(t *testing.T) {
	vt := ledger.NewVaultTracker()
	c := stx(t)
	vt.Deposit(c, 1000)
	vt.AcceptStake(c, 100, 200)

	validator := ledger.NewInvariantValidator(vt)
	if err := validator.ValidateAll(); err != nil {
		t.Errorf("solvent ledger should validate: %v", err)
	}
}

func TestInvariantValidator_DetectsInsolvency(t *testing.T) {
	vt := ledger.NewVaultTracker()
	c := stx(t)
	// liability booked without backing treasury
	vt.AcceptStake(c, 0, 500)

	validator := ledger.NewInvariantValidator(vt)
	if err := validator.ValidateSolvency(c); err == nil {
		t.Error("insolvent vault should fail validation")
	}
}
