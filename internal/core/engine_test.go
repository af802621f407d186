package core_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/event"
	"BetLedger/internal/ledger"
	"BetLedger/internal/state"

	"github.com/google/uuid"
)

// --- Test helpers ---

const (
	testAdmin  = ledger.Principal("SP000ADMIN")
	testOracle = ledger.Principal("SP000ORACLE")
	testBettor = ledger.Principal("SP000BETTOR")
)

// newTestCore creates a Core with buffered channels, no DB checker, and the
// reference parameters: 1% fee, bets between 10 and 1,000,000 units.
func newTestCore() (*core.Core, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	params := core.Params{FeeBps: 100, MinBet: 10, MaxBet: 1_000_000}
	c := core.NewCore(0, testAdmin, params, persistChan, projChan, nil, 1024, nil)
	return c, persistChan, projChan
}

func ts(n int64) time.Time {
	return time.UnixMicro(1_000_000 + n*1000)
}

func mustDeposit(t *testing.T, c *core.Core, currency string, amount int64) {
	t.Helper()
	err := c.DepositLiquidity(core.TreasuryCmd{
		RequestID: uuid.New().String(),
		Caller:    testAdmin,
		Currency:  currency,
		Amount:    amount,
		Timestamp: ts(0),
	})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
}

func mustPlace(t *testing.T, c *core.Core, currency string, stake, odds int64) uint64 {
	t.Helper()
	betID, err := c.PlaceBet(core.PlaceBetCmd{
		RequestID: uuid.New().String(),
		Bettor:    testBettor,
		Currency:  currency,
		Stake:     stake,
		Odds:      odds,
		EventRef:  "event-1",
		MarketRef: "market-1",
		Timestamp: ts(1),
	})
	if err != nil {
		t.Fatalf("place bet failed: %v", err)
	}
	return betID
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// ============================================================================
// Test: Placing bets
// ============================================================================

func TestPlaceBet_EscrowsStakeAndBooksLiability(t *testing.T) {
	c, persistCh, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	drainOutputs(persistCh)

	betID := mustPlace(t, c, "STX", 100, 200)
	if betID != 1 {
		t.Fatalf("expected first bet ID 1, got %d", betID)
	}

	v, _ := c.VaultView("STX")
	if v.Treasury != 1_100 {
		t.Errorf("expected treasury 1100, got %d", v.Treasury)
	}
	if v.Liability != 200 {
		t.Errorf("expected liability 200, got %d", v.Liability)
	}
	if v.Volume != 100 {
		t.Errorf("expected volume 100, got %d", v.Volume)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Envelope.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", outputs[0].Envelope.Sequence)
	}
}

func TestPlaceBet_RejectsWhenPaused(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)

	err := c.SetPause(core.GovernanceCmd{
		RequestID: uuid.New().String(), Caller: testAdmin, Paused: true, Timestamp: ts(1),
	})
	if err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	_, err = c.PlaceBet(core.PlaceBetCmd{
		RequestID: uuid.New().String(), Bettor: testBettor,
		Currency: "STX", Stake: 100, Odds: 200, Timestamp: ts(2),
	})
	if !errors.Is(err, core.ErrPlatformPaused) {
		t.Fatalf("expected ErrPlatformPaused, got %v", err)
	}
}

func TestPlaceBet_EnforcesBounds(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 10_000_000)

	_, err := c.PlaceBet(core.PlaceBetCmd{
		RequestID: uuid.New().String(), Bettor: testBettor,
		Currency: "STX", Stake: 5, Odds: 200, Timestamp: ts(1),
	})
	if !errors.Is(err, core.ErrBelowMinimum) {
		t.Errorf("stake 5: expected ErrBelowMinimum, got %v", err)
	}

	_, err = c.PlaceBet(core.PlaceBetCmd{
		RequestID: uuid.New().String(), Bettor: testBettor,
		Currency: "STX", Stake: 2_000_000, Odds: 200, Timestamp: ts(2),
	})
	if !errors.Is(err, core.ErrAboveMaximum) {
		t.Errorf("stake 2M: expected ErrAboveMaximum, got %v", err)
	}
}

func TestPlaceBet_RejectsNonPositiveStake(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)

	for _, stake := range []int64{0, -50} {
		_, err := c.PlaceBet(core.PlaceBetCmd{
			RequestID: uuid.New().String(), Bettor: testBettor,
			Currency: "STX", Stake: stake, Odds: 200, Timestamp: ts(1),
		})
		if !errors.Is(err, core.ErrInvalidAmount) {
			t.Errorf("stake %d: expected ErrInvalidAmount, got %v", stake, err)
		}
	}

	v, _ := c.VaultView("STX")
	if v.Treasury != 1_000 || v.Liability != 0 || v.Volume != 0 {
		t.Errorf("rejected stake mutated the vault: %+v", v)
	}
	if c.TotalBetCount() != 0 {
		t.Errorf("rejected stake created a bet: count=%d", c.TotalBetCount())
	}
}

func TestPlaceBet_RejectsSubUnitOdds(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)

	// Odds of 99 would guarantee a payout below the stake.
	_, err := c.PlaceBet(core.PlaceBetCmd{
		RequestID: uuid.New().String(), Bettor: testBettor,
		Currency: "STX", Stake: 100, Odds: 99, Timestamp: ts(1),
	})
	if !errors.Is(err, core.ErrInvalidOdds) {
		t.Fatalf("expected ErrInvalidOdds, got %v", err)
	}
}

func TestPlaceBet_UnitOddsNeedNoTreasury(t *testing.T) {
	c, _, _ := newTestCore()

	// Odds exactly at one: payout == stake, so the stake covers itself.
	betID := mustPlace(t, c, "STX", 100, 100)
	bet, ok := c.Bet(betID)
	if !ok {
		t.Fatal("bet not found")
	}
	if bet.PotentialPayout != 100 {
		t.Errorf("expected payout 100, got %d", bet.PotentialPayout)
	}
}

func TestPlaceBet_RejectsInsufficientLiquidity(t *testing.T) {
	c, _, _ := newTestCore()

	// Empty treasury: payout 200 > stake 100 cannot be covered.
	_, err := c.PlaceBet(core.PlaceBetCmd{
		RequestID: uuid.New().String(), Bettor: testBettor,
		Currency: "STX", Stake: 100, Odds: 200, Timestamp: ts(1),
	})
	if !errors.Is(err, core.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}

	v, _ := c.VaultView("STX")
	if v.Treasury != 0 || v.Liability != 0 || v.Volume != 0 {
		t.Errorf("rejected bet mutated the vault: %+v", v)
	}
}

func TestPlaceBet_RejectsUnknownCurrency(t *testing.T) {
	c, _, _ := newTestCore()

	_, err := c.PlaceBet(core.PlaceBetCmd{
		RequestID: uuid.New().String(), Bettor: testBettor,
		Currency: "DOGE", Stake: 100, Odds: 200, Timestamp: ts(1),
	})
	if !errors.Is(err, core.ErrUnknownCurrency) {
		t.Fatalf("expected ErrUnknownCurrency, got %v", err)
	}
}

func TestPlaceBet_CurrenciesAreIndependent(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)

	// sBTC vault is empty, so an sBTC bet with profit potential must fail
	// even though the STX vault is funded.
	_, err := c.PlaceBet(core.PlaceBetCmd{
		RequestID: uuid.New().String(), Bettor: testBettor,
		Currency: "SBTC", Stake: 100, Odds: 200, Timestamp: ts(1),
	})
	if !errors.Is(err, core.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity for sBTC, got %v", err)
	}
}

// ============================================================================
// Test: Settlement
// ============================================================================

func TestSettleBet_WinPaysNetAndAccruesFee(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)

	// Payout 200, profit 100, fee 1% of profit = 1, net 199.
	net, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: true, Timestamp: ts(2),
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if net != 199 {
		t.Fatalf("expected net payout 199, got %d", net)
	}

	v, _ := c.VaultView("STX")
	if v.Treasury != 901 {
		t.Errorf("expected treasury 901, got %d", v.Treasury)
	}
	if v.Liability != 0 {
		t.Errorf("expected liability 0, got %d", v.Liability)
	}
	if v.AccruedFees != 1 {
		t.Errorf("expected accrued fees 1, got %d", v.AccruedFees)
	}

	bet, _ := c.Bet(betID)
	if bet.Status != state.BetStatusWon {
		t.Errorf("expected status Won, got %s", bet.Status)
	}
	if bet.PlatformFee != 1 {
		t.Errorf("expected platform fee 1, got %d", bet.PlatformFee)
	}
}

func TestSettleBet_LossKeepsStakeAsRevenue(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)

	net, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: false, Timestamp: ts(2),
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if net != 0 {
		t.Fatalf("expected net payout 0 on loss, got %d", net)
	}

	v, _ := c.VaultView("STX")
	if v.Treasury != 1_100 {
		t.Errorf("expected treasury 1100, got %d", v.Treasury)
	}
	if v.AccruedFees != 100 {
		t.Errorf("expected accrued fees 100 (the stake), got %d", v.AccruedFees)
	}

	bet, _ := c.Bet(betID)
	if bet.Status != state.BetStatusLost {
		t.Errorf("expected status Lost, got %s", bet.Status)
	}
}

func TestSettleBet_SecondSettlementRejected(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)

	_, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: true, Timestamp: ts(2),
	})
	if err != nil {
		t.Fatalf("first settle failed: %v", err)
	}

	before, _ := c.VaultView("STX")

	// A second settlement, even with the opposite outcome, must not pay twice.
	_, err = c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: false, Timestamp: ts(3),
	})
	if !errors.Is(err, core.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}

	after, _ := c.VaultView("STX")
	if before != after {
		t.Errorf("second settlement mutated the vault: %+v vs %+v", before, after)
	}
}

func TestSettleBet_UnknownBet(t *testing.T) {
	c, _, _ := newTestCore()

	_, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: 42, Won: true, Timestamp: ts(1),
	})
	if !errors.Is(err, core.ErrUnknownBet) {
		t.Fatalf("expected ErrUnknownBet, got %v", err)
	}
}

func TestSettleBet_RequiresSettlementAuthority(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)

	// The bettor has no settlement authority.
	_, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testBettor,
		BetID: betID, Won: true, Timestamp: ts(2),
	})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	bet, _ := c.Bet(betID)
	if !bet.IsPending() {
		t.Error("unauthorized settle changed bet status")
	}
}

func TestSettleBet_OracleAuthority(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)

	err := c.AddOracle(core.GovernanceCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Principal: testOracle, Timestamp: ts(2),
	})
	if err != nil {
		t.Fatalf("add oracle failed: %v", err)
	}

	if _, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testOracle,
		BetID: betID, Won: false, Timestamp: ts(3),
	}); err != nil {
		t.Fatalf("oracle settle failed: %v", err)
	}

	// A removed oracle loses authority.
	betID2 := mustPlace(t, c, "STX", 100, 200)
	if err := c.RemoveOracle(core.GovernanceCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Principal: testOracle, Timestamp: ts(4),
	}); err != nil {
		t.Fatalf("remove oracle failed: %v", err)
	}

	_, err = c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testOracle,
		BetID: betID2, Won: false, Timestamp: ts(5),
	})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after removal, got %v", err)
	}
}

// ============================================================================
// Test: Voiding
// ============================================================================

func TestVoidBet_RefundsStake(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)

	refunded, err := c.VoidBet(core.VoidBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Timestamp: ts(2),
	})
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if refunded != 100 {
		t.Fatalf("expected refund 100, got %d", refunded)
	}

	// Place then void is a full round trip: the vault is back where it started
	// except for volume, which counts every accepted stake.
	v, _ := c.VaultView("STX")
	if v.Treasury != 1_000 {
		t.Errorf("expected treasury 1000, got %d", v.Treasury)
	}
	if v.Liability != 0 {
		t.Errorf("expected liability 0, got %d", v.Liability)
	}
	if v.AccruedFees != 0 {
		t.Errorf("expected no fee on void, got %d", v.AccruedFees)
	}
	if v.Volume != 100 {
		t.Errorf("expected volume 100, got %d", v.Volume)
	}

	bet, _ := c.Bet(betID)
	if bet.Status != state.BetStatusVoid {
		t.Errorf("expected status Void, got %s", bet.Status)
	}
}

func TestVoidBet_TreasuryShortfallRecordsOwedRefund(t *testing.T) {
	// A restored vault can satisfy treasury >= liability yet hold less than a
	// pending stake if it was damaged upstream. Voiding still terminates the
	// bet; the unpayable refund is recorded, not dropped.
	stx, _ := ledger.GetCurrencyID("STX")
	snap := &core.SnapshotState{
		Sequence: 7,
		Vaults: map[ledger.CurrencyID]ledger.Vault{
			stx: {Treasury: 50, Volume: 100, Liability: 10},
		},
		Bets: []*state.Bet{{
			ID: 1, Bettor: testBettor, Currency: stx,
			Odds: 10, Stake: 100, PotentialPayout: 10, FeeBps: 100,
			Status: state.BetStatusPending, PlacedAt: ts(1),
		}},
		Admin:        testAdmin,
		PendingAdmin: testAdmin,
		Params:       core.Params{FeeBps: 100, MinBet: 10, MaxBet: 1_000_000},
	}

	c, persistCh, _ := newTestCore()
	if err := c.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	refunded, err := c.VoidBet(core.VoidBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: 1, Timestamp: ts(2),
	})
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if refunded != 0 {
		t.Fatalf("expected refund 0, got %d", refunded)
	}

	v, _ := c.VaultView("STX")
	if v.Treasury != 50 {
		t.Errorf("expected treasury unchanged at 50, got %d", v.Treasury)
	}
	if v.Liability != 0 {
		t.Errorf("expected liability 0, got %d", v.Liability)
	}
	if v.RefundsOwed != 100 {
		t.Errorf("expected refunds owed 100, got %d", v.RefundsOwed)
	}

	bet, _ := c.Bet(1)
	if bet.Status != state.BetStatusVoid {
		t.Errorf("expected status Void, got %s", bet.Status)
	}
	if bet.RefundOwed != 100 {
		t.Errorf("expected bet refund owed 100, got %d", bet.RefundOwed)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	var p event.BetVoided
	if err := json.Unmarshal(outputs[0].Envelope.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Refunded != 0 || p.Owed != 100 {
		t.Errorf("expected payload refunded=0 owed=100, got %+v", p)
	}
}

func TestVoidBet_ThenSettleRejected(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)

	if _, err := c.VoidBet(core.VoidBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Timestamp: ts(2),
	}); err != nil {
		t.Fatalf("void failed: %v", err)
	}

	_, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: true, Timestamp: ts(3),
	})
	if !errors.Is(err, core.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestDuplicateRequest_Rejected(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)

	requestID := uuid.New().String()
	cmd := core.PlaceBetCmd{
		RequestID: requestID, Bettor: testBettor,
		Currency: "STX", Stake: 100, Odds: 200, Timestamp: ts(1),
	}

	if _, err := c.PlaceBet(cmd); err != nil {
		t.Fatalf("first place failed: %v", err)
	}

	_, err := c.PlaceBet(cmd)
	if !errors.Is(err, core.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	if c.TotalBetCount() != 1 {
		t.Errorf("duplicate created a second bet: count=%d", c.TotalBetCount())
	}
	v, _ := c.VaultView("STX")
	if v.Volume != 100 {
		t.Errorf("duplicate escrowed a second stake: volume=%d", v.Volume)
	}
}

func TestDuplicateRequest_DifferentOpsDoNotCollide(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)

	// The same request ID under different operations is two distinct requests.
	requestID := uuid.New().String()
	betID, err := c.PlaceBet(core.PlaceBetCmd{
		RequestID: requestID, Bettor: testBettor,
		Currency: "STX", Stake: 100, Odds: 200, Timestamp: ts(1),
	})
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}

	if _, err := c.SettleBet(core.SettleBetCmd{
		RequestID: requestID, Caller: testAdmin,
		BetID: betID, Won: false, Timestamp: ts(2),
	}); err != nil {
		t.Fatalf("settle with reused request ID failed: %v", err)
	}
}

// ============================================================================
// Test: Treasury
// ============================================================================

func TestWithdrawFees_BoundedByAccrued(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)
	if _, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: false, Timestamp: ts(2),
	}); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	// Accrued is 100 (the lost stake). 101 must be rejected.
	err := c.WithdrawFees(core.TreasuryCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Currency: "STX", Amount: 101, Timestamp: ts(3),
	})
	if !errors.Is(err, core.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}

	if err := c.WithdrawFees(core.TreasuryCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Currency: "STX", Amount: 100, Timestamp: ts(4),
	}); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	v, _ := c.VaultView("STX")
	if v.Treasury != 1_000 {
		t.Errorf("expected treasury 1000, got %d", v.Treasury)
	}
	if v.AccruedFees != 0 {
		t.Errorf("expected accrued fees 0, got %d", v.AccruedFees)
	}
}

func TestWithdrawFees_BoundedBySurplus(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)
	if _, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: false, Timestamp: ts(2),
	}); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	// Pin down the treasury with a large pending bet so surplus < accrued.
	mustPlace(t, c, "STX", 10, 11_000) // payout 1100

	v, _ := c.VaultView("STX")
	surplus := v.Treasury - v.Liability
	if surplus >= v.AccruedFees {
		t.Fatalf("test setup: surplus %d not below accrued %d", surplus, v.AccruedFees)
	}

	err := c.WithdrawFees(core.TreasuryCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Currency: "STX", Amount: surplus + 1, Timestamp: ts(3),
	})
	if !errors.Is(err, core.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity above surplus, got %v", err)
	}

	if err := c.WithdrawFees(core.TreasuryCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Currency: "STX", Amount: surplus, Timestamp: ts(4),
	}); err != nil {
		t.Fatalf("withdraw at surplus failed: %v", err)
	}
}

func TestEmergencyWithdraw_RequiresPause(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)
	if _, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: false, Timestamp: ts(2),
	}); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	err := c.EmergencyWithdraw(core.TreasuryCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Currency: "STX", Amount: 50, Timestamp: ts(3),
	})
	if !errors.Is(err, core.ErrPlatformNotPaused) {
		t.Fatalf("expected ErrPlatformNotPaused, got %v", err)
	}

	if err := c.SetPause(core.GovernanceCmd{
		RequestID: uuid.New().String(), Caller: testAdmin, Paused: true, Timestamp: ts(4),
	}); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	if err := c.EmergencyWithdraw(core.TreasuryCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Currency: "STX", Amount: 50, Timestamp: ts(5),
	}); err != nil {
		t.Fatalf("emergency withdraw while paused failed: %v", err)
	}
}

func TestDepositLiquidity_AdminOnly(t *testing.T) {
	c, _, _ := newTestCore()

	err := c.DepositLiquidity(core.TreasuryCmd{
		RequestID: uuid.New().String(), Caller: testBettor,
		Currency: "STX", Amount: 1_000, Timestamp: ts(1),
	})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

// ============================================================================
// Test: Governance
// ============================================================================

func TestAdminHandover_TwoPhase(t *testing.T) {
	c, _, _ := newTestCore()
	next := ledger.Principal("SP000NEXT")

	if err := c.ProposeAdmin(core.GovernanceCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Principal: next, Timestamp: ts(1),
	}); err != nil {
		t.Fatalf("propose failed: %v", err)
	}

	// Proposal alone moves no authority.
	if c.Admin() != testAdmin {
		t.Fatalf("proposal changed admin to %s", c.Admin())
	}

	// Only the staged principal may accept.
	err := c.AcceptAdmin(core.GovernanceCmd{
		RequestID: uuid.New().String(), Caller: testBettor, Timestamp: ts(2),
	})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong accepter, got %v", err)
	}

	if err := c.AcceptAdmin(core.GovernanceCmd{
		RequestID: uuid.New().String(), Caller: next, Timestamp: ts(3),
	}); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if c.Admin() != next {
		t.Fatalf("expected admin %s, got %s", next, c.Admin())
	}

	// The old admin has lost all authority.
	err = c.SetPause(core.GovernanceCmd{
		RequestID: uuid.New().String(), Caller: testAdmin, Paused: true, Timestamp: ts(4),
	})
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected old admin to be unauthorized, got %v", err)
	}
}

func TestUpdateFeeRate_AppliesToSubsequentBetsOnly(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 10_000)
	betID := mustPlace(t, c, "STX", 100, 200)

	// Raise the fee to the cap after placement.
	if err := c.UpdateFeeRate(core.UpdateFeeCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		FeeBps: 1_000, Timestamp: ts(2),
	}); err != nil {
		t.Fatalf("update fee failed: %v", err)
	}

	// The earlier bet settles at its placement-time 1% rate.
	net, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: true, Timestamp: ts(3),
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if net != 199 {
		t.Fatalf("expected net 199 at placement-time rate, got %d", net)
	}

	// A new bet picks up the 10% rate: profit 100, fee 10, net 190.
	betID2 := mustPlace(t, c, "STX", 100, 200)
	net2, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID2, Won: true, Timestamp: ts(4),
	})
	if err != nil {
		t.Fatalf("second settle failed: %v", err)
	}
	if net2 != 190 {
		t.Fatalf("expected net 190 at new rate, got %d", net2)
	}
}

func TestUpdateFeeRate_RejectsAboveCap(t *testing.T) {
	c, _, _ := newTestCore()

	err := c.UpdateFeeRate(core.UpdateFeeCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		FeeBps: 1_001, Timestamp: ts(1),
	})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount above cap, got %v", err)
	}
}

func TestUpdateLimits_Validation(t *testing.T) {
	c, _, _ := newTestCore()

	cases := []struct {
		name     string
		min, max int64
		wantErr  bool
	}{
		{"valid", 10, 100, false},
		{"min equals max", 50, 50, false},
		{"zero min", 0, 100, true},
		{"min above max", 200, 100, true},
	}

	for _, tc := range cases {
		err := c.UpdateLimits(core.UpdateLimitsCmd{
			RequestID: uuid.New().String(), Caller: testAdmin,
			MinBet: tc.min, MaxBet: tc.max, Timestamp: ts(1),
		})
		if tc.wantErr && !errors.Is(err, core.ErrInvalidAmount) {
			t.Errorf("%s: expected ErrInvalidAmount, got %v", tc.name, err)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

// ============================================================================
// Test: Event chain & recovery
// ============================================================================

func TestEventChain_HashesLink(t *testing.T) {
	c, persistCh, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	betID := mustPlace(t, c, "STX", 100, 200)
	if _, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: true, Timestamp: ts(2),
	}); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outputs))
	}
	for i, o := range outputs {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("output %d: expected sequence %d, got %d", i, i, o.Envelope.Sequence)
		}
		if i > 0 && o.Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("output %d: prev hash does not link to previous state hash", i)
		}
	}
}

func TestReplay_ReproducesStateAndHashChain(t *testing.T) {
	c, persistCh, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	mustDeposit(t, c, "SBTC", 5_000)
	betID := mustPlace(t, c, "STX", 100, 200)
	if _, err := c.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		BetID: betID, Won: true, Timestamp: ts(2),
	}); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if err := c.UpdateFeeRate(core.UpdateFeeCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		FeeBps: 250, Timestamp: ts(3),
	}); err != nil {
		t.Fatalf("update fee failed: %v", err)
	}

	outputs := drainOutputs(persistCh)

	replayed, _, _ := newTestCore()
	for _, o := range outputs {
		ev := core.ReplayEvent{
			Sequence:  o.Envelope.Sequence,
			EventType: o.Envelope.EventType,
			RequestID: o.Envelope.RequestID,
			Payload:   o.Envelope.Payload,
			StateHash: o.Envelope.StateHash,
			Timestamp: o.Envelope.Timestamp.UnixNano(),
		}
		if err := replayed.ApplyReplayEvent(ev); err != nil {
			t.Fatalf("replay failed: %v", err)
		}
	}

	if replayed.GetSequence() != c.GetSequence() {
		t.Errorf("sequence mismatch: %d vs %d", replayed.GetSequence(), c.GetSequence())
	}
	if replayed.GetStateHash() != c.GetStateHash() {
		t.Error("replayed state hash differs from live state hash")
	}
	origVault, _ := c.VaultView("STX")
	replVault, _ := replayed.VaultView("STX")
	if origVault != replVault {
		t.Errorf("vault mismatch: %+v vs %+v", origVault, replVault)
	}
	if replayed.Params().FeeBps != 250 {
		t.Errorf("expected replayed fee 250, got %d", replayed.Params().FeeBps)
	}

	// The audit record keeps its timestamps across replay.
	liveBet, _ := c.Bet(betID)
	replBet, ok := replayed.Bet(betID)
	if !ok {
		t.Fatal("replayed core lost the bet")
	}
	if !replBet.PlacedAt.Equal(liveBet.PlacedAt) {
		t.Errorf("replayed placed_at %v, want %v", replBet.PlacedAt, liveBet.PlacedAt)
	}
	if !replBet.SettledAt.Equal(liveBet.SettledAt) {
		t.Errorf("replayed settled_at %v, want %v", replBet.SettledAt, liveBet.SettledAt)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 1_000)
	mustPlace(t, c, "STX", 100, 200)
	if err := c.AddOracle(core.GovernanceCmd{
		RequestID: uuid.New().String(), Caller: testAdmin,
		Principal: testOracle, Timestamp: ts(2),
	}); err != nil {
		t.Fatalf("add oracle failed: %v", err)
	}

	snap := c.CreateSnapshotState()

	restored, _, _ := newTestCore()
	if err := restored.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if restored.GetSequence() != c.GetSequence() {
		t.Errorf("sequence mismatch: %d vs %d", restored.GetSequence(), c.GetSequence())
	}
	if restored.GetStateHash() != c.GetStateHash() {
		t.Error("state hash mismatch after restore")
	}
	if !restored.IsOracle(testOracle) {
		t.Error("oracle allowlist not restored")
	}
	origVault, _ := c.VaultView("STX")
	restVault, _ := restored.VaultView("STX")
	if origVault != restVault {
		t.Errorf("vault mismatch: %+v vs %+v", origVault, restVault)
	}

	// The restored core continues the chain: settle the outstanding bet.
	if _, err := restored.SettleBet(core.SettleBetCmd{
		RequestID: uuid.New().String(), Caller: testOracle,
		BetID: 1, Won: false, Timestamp: ts(3),
	}); err != nil {
		t.Fatalf("settle on restored core failed: %v", err)
	}
}

// ============================================================================
// Test: Solvency under a workload
// ============================================================================

func TestSolvency_HoldsAcrossMixedWorkload(t *testing.T) {
	c, _, _ := newTestCore()
	mustDeposit(t, c, "STX", 50_000)

	// Deterministic mix of wins, losses, and voids. Every operation either
	// applies or rejects; the treasury must cover liability throughout.
	for i := int64(0); i < 50; i++ {
		betID, err := c.PlaceBet(core.PlaceBetCmd{
			RequestID: uuid.New().String(), Bettor: testBettor,
			Currency: "STX", Stake: 100 + i*7, Odds: 150 + i*13,
			Timestamp: ts(i),
		})
		if err != nil {
			// Liquidity rejections are fine; anything else is a bug.
			if !errors.Is(err, core.ErrInsufficientLiquidity) {
				t.Fatalf("place %d: %v", i, err)
			}
			continue
		}

		switch i % 3 {
		case 0:
			_, err = c.SettleBet(core.SettleBetCmd{
				RequestID: uuid.New().String(), Caller: testAdmin,
				BetID: betID, Won: true, Timestamp: ts(i),
			})
		case 1:
			_, err = c.SettleBet(core.SettleBetCmd{
				RequestID: uuid.New().String(), Caller: testAdmin,
				BetID: betID, Won: false, Timestamp: ts(i),
			})
		case 2:
			_, err = c.VoidBet(core.VoidBetCmd{
				RequestID: uuid.New().String(), Caller: testAdmin,
				BetID: betID, Timestamp: ts(i),
			})
		}
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}

		v, _ := c.VaultView("STX")
		if v.Treasury < v.Liability {
			t.Fatalf("iteration %d: insolvent, treasury=%d liability=%d", i, v.Treasury, v.Liability)
		}
		if v.Treasury < 0 || v.Liability < 0 || v.AccruedFees < 0 {
			t.Fatalf("iteration %d: negative counter: %+v", i, v)
		}
	}
}
