package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *VaultTracker
}

func NewInvariantValidator(tracker *VaultTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateSolvency verifies treasury >= liability for one currency.
func (v *InvariantValidator) ValidateSolvency(c CurrencyID) error {
	vault := v.tracker.Vault(c)
	if vault.Treasury < vault.Liability {
		name, _ := GetCurrencyName(c)
		return fmt.Errorf("solvency violated for %s: treasury=%d < liability=%d",
			name, vault.Treasury, vault.Liability)
	}
	return nil
}

// ValidateNonNegative verifies no vault counter has gone below zero.
func (v *InvariantValidator) ValidateNonNegative(c CurrencyID) error {
	vault := v.tracker.Vault(c)
	name, _ := GetCurrencyName(c)
	if vault.Treasury < 0 {
		return fmt.Errorf("%s treasury negative: %d", name, vault.Treasury)
	}
	if vault.Liability < 0 {
		return fmt.Errorf("%s liability negative: %d", name, vault.Liability)
	}
	if vault.AccruedFees < 0 {
		return fmt.Errorf("%s accrued fees negative: %d", name, vault.AccruedFees)
	}
	if vault.RefundsOwed < 0 {
		return fmt.Errorf("%s refunds owed negative: %d", name, vault.RefundsOwed)
	}
	return nil
}

// ValidateAll runs every invariant across every settlement currency.
func (v *InvariantValidator) ValidateAll() error {
	for _, c := range Currencies() {
		if err := v.ValidateSolvency(c); err != nil {
			return err
		}
		if err := v.ValidateNonNegative(c); err != nil {
			return err
		}
	}
	return nil
}
