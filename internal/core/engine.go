package core

import (
	"encoding/json"
	"fmt"
	"time"

	"BetLedger/internal/event"
	"BetLedger/internal/ledger"
	"BetLedger/internal/observability"
	"BetLedger/internal/policy"
	"BetLedger/internal/state"
)

// Params are the platform's mutable betting parameters. Fee-rate and bound
// updates apply to subsequently placed bets only: every bet captures the fee
// rate in force at placement.
type Params struct {
	FeeBps int64
	MinBet int64
	MaxBet int64
}

// Core is the single-threaded operation processor for the betting ledger.
// It owns the singleton platform record and every bet; all mutations are
// funneled through one goroutine (see Dispatcher), so each operation is an
// indivisible unit and operations form a strict total order.
type Core struct {
	sequence  int64
	hasher    *StateHasher
	vaults    *ledger.VaultTracker
	validator *ledger.InvariantValidator
	bets      *state.BetRegistry
	gov       *state.Governance
	params    Params
	deduper   *RequestDeduper
	metrics   *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput carries one applied operation's envelope to the persistence
// and projection workers.
type CoreOutput struct {
	Envelope *event.EventEnvelope
}

func NewCore(
	startSequence int64,
	admin ledger.Principal,
	params Params,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBRequestChecker,
	dedupCapacity int,
	metrics *observability.Metrics,
) *Core {
	vaults := ledger.NewVaultTracker()
	return &Core{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		vaults:         vaults,
		validator:      ledger.NewInvariantValidator(vaults),
		bets:           state.NewBetRegistry(),
		gov:            state.NewGovernance(admin),
		params:         params,
		deduper:        NewRequestDeduper(dedupCapacity, dbChecker),
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// ============================================================================
// Bet lifecycle
// ============================================================================

// PlaceBet validates and escrows a new wager, returning its ledger ID.
func (c *Core) PlaceBet(cmd PlaceBetCmd) (uint64, error) {
	start := time.Now()

	if c.deduper.IsDuplicate(OpPlaceBet, cmd.RequestID) {
		return 0, c.reject(OpPlaceBet, ErrDuplicateRequest)
	}

	currency, ok := ledger.GetCurrencyID(cmd.Currency)
	if !ok {
		return 0, c.reject(OpPlaceBet, ErrUnknownCurrency)
	}
	if c.gov.Paused() {
		return 0, c.reject(OpPlaceBet, ErrPlatformPaused)
	}
	if cmd.Stake <= 0 {
		return 0, c.reject(OpPlaceBet, ErrInvalidAmount)
	}
	switch policy.CheckBounds(cmd.Stake, c.params.MinBet, c.params.MaxBet) {
	case policy.BoundBelowMinimum:
		return 0, c.reject(OpPlaceBet, ErrBelowMinimum)
	case policy.BoundAboveMaximum:
		return 0, c.reject(OpPlaceBet, ErrAboveMaximum)
	}

	payout, err := policy.PotentialPayout(cmd.Stake, cmd.Odds)
	if err != nil {
		return 0, c.reject(OpPlaceBet, ErrInvalidOdds)
	}

	// Solvency gate (I1): the escrowed stake must keep the vault able to
	// cover every pending payout including this one.
	if !c.vaults.CanCover(currency, cmd.Stake, payout) {
		return 0, c.reject(OpPlaceBet, ErrInsufficientLiquidity)
	}

	c.vaults.AcceptStake(currency, cmd.Stake, payout)

	bet := &state.Bet{
		Bettor:          cmd.Bettor,
		Currency:        currency,
		EventRef:        cmd.EventRef,
		MarketRef:       cmd.MarketRef,
		PredictionRef:   cmd.PredictionRef,
		ContentRef:      cmd.ContentRef,
		Odds:            cmd.Odds,
		Stake:           cmd.Stake,
		PotentialPayout: payout,
		FeeBps:          c.params.FeeBps,
		Status:          state.BetStatusPending,
		PlacedAt:        cmd.Timestamp,
	}
	betID := c.bets.Add(bet)

	c.postCheckInvariants()

	c.emit(event.EventTypeBetPlaced, cmd.RequestID, cmd.Bettor, &betID, &cmd.Currency, cmd.Timestamp, event.BetPlaced{
		BetID:           betID,
		Bettor:          string(cmd.Bettor),
		Currency:        cmd.Currency,
		Stake:           cmd.Stake,
		Odds:            cmd.Odds,
		PotentialPayout: payout,
		FeeBps:          c.params.FeeBps,
		EventRef:        cmd.EventRef,
		MarketRef:       cmd.MarketRef,
		PredictionRef:   cmd.PredictionRef,
		ContentRef:      cmd.ContentRef,
	})
	c.applied(OpPlaceBet, cmd.RequestID, currency, start)

	return betID, nil
}

// SettleBet resolves a pending bet as won or lost. Only the admin or an
// allowlisted oracle may settle. Returns the net payout (0 on loss).
func (c *Core) SettleBet(cmd SettleBetCmd) (int64, error) {
	start := time.Now()

	if c.deduper.IsDuplicate(OpSettleBet, cmd.RequestID) {
		return 0, c.reject(OpSettleBet, ErrDuplicateRequest)
	}
	if !c.gov.CanSettle(cmd.Caller) {
		return 0, c.reject(OpSettleBet, ErrUnauthorized)
	}

	bet, ok := c.bets.Get(cmd.BetID)
	if !ok {
		return 0, c.reject(OpSettleBet, ErrUnknownBet)
	}
	if !bet.IsPending() {
		return 0, c.reject(OpSettleBet, ErrAlreadySettled)
	}

	currencyName, _ := ledger.GetCurrencyName(bet.Currency)

	var netPayout, fee int64
	if cmd.Won {
		s := policy.FeeOnWin(bet.PotentialPayout, bet.Stake, bet.FeeBps)
		// Validate the payment before touching any counter so a failed
		// settlement leaves the ledger unchanged.
		if c.vaults.Vault(bet.Currency).Treasury < s.NetPayout {
			return 0, c.reject(OpSettleBet, ErrInsufficientLiquidity)
		}
		netPayout, fee = s.NetPayout, s.Fee
	}

	// Liability resolves regardless of outcome.
	if err := c.vaults.ReleaseLiability(bet.Currency, bet.PotentialPayout); err != nil {
		panic(fmt.Sprintf("FATAL: liability accounting broken: %v", err))
	}

	var status state.BetStatus
	if cmd.Won {
		if err := c.vaults.PayOut(bet.Currency, netPayout); err != nil {
			panic(fmt.Sprintf("FATAL: payout after solvency check: %v", err))
		}
		c.vaults.AccrueFees(bet.Currency, fee)
		status = state.BetStatusWon
	} else {
		// The losing stake is already in the treasury; tag it as revenue.
		c.vaults.AccrueFees(bet.Currency, policy.RevenueOnLoss(bet.Stake))
		status = state.BetStatusLost
	}

	if _, err := c.bets.Transition(cmd.BetID, status); err != nil {
		panic(fmt.Sprintf("FATAL: bet transition after pending check: %v", err))
	}
	bet.PlatformFee = fee
	bet.SettledAt = cmd.Timestamp

	c.postCheckInvariants()

	c.emit(event.EventTypeBetSettled, cmd.RequestID, cmd.Caller, &cmd.BetID, &currencyName, cmd.Timestamp, event.BetSettled{
		BetID:     cmd.BetID,
		Bettor:    string(bet.Bettor),
		Currency:  currencyName,
		Won:       cmd.Won,
		NetPayout: netPayout,
		Fee:       fee,
		Settler:   string(cmd.Caller),
	})
	c.applied(OpSettleBet, cmd.RequestID, bet.Currency, start)

	return netPayout, nil
}

// VoidBet cancels a pending bet and refunds the stake. If the treasury
// cannot cover the refund the bet still voids, but the shortfall is recorded
// as an explicit owed-but-unpaid amount instead of vanishing silently.
func (c *Core) VoidBet(cmd VoidBetCmd) (int64, error) {
	start := time.Now()

	if c.deduper.IsDuplicate(OpVoidBet, cmd.RequestID) {
		return 0, c.reject(OpVoidBet, ErrDuplicateRequest)
	}
	if !c.gov.CanSettle(cmd.Caller) {
		return 0, c.reject(OpVoidBet, ErrUnauthorized)
	}

	bet, ok := c.bets.Get(cmd.BetID)
	if !ok {
		return 0, c.reject(OpVoidBet, ErrUnknownBet)
	}
	if !bet.IsPending() {
		return 0, c.reject(OpVoidBet, ErrAlreadySettled)
	}

	currencyName, _ := ledger.GetCurrencyName(bet.Currency)

	if err := c.vaults.ReleaseLiability(bet.Currency, bet.PotentialPayout); err != nil {
		panic(fmt.Sprintf("FATAL: liability accounting broken: %v", err))
	}

	// Under I1 the treasury always covers a pending stake (the bet's payout
	// was part of liability and payout >= stake), so the owed branch is
	// unreachable unless the vault was corrupted externally.
	var refunded, owed int64
	if c.vaults.Vault(bet.Currency).Treasury >= bet.Stake {
		if err := c.vaults.PayOut(bet.Currency, bet.Stake); err != nil {
			panic(fmt.Sprintf("FATAL: refund after treasury check: %v", err))
		}
		refunded = bet.Stake
	} else {
		owed = bet.Stake
		c.vaults.RecordOwedRefund(bet.Currency, owed)
		bet.RefundOwed = owed
	}

	if _, err := c.bets.Transition(cmd.BetID, state.BetStatusVoid); err != nil {
		panic(fmt.Sprintf("FATAL: bet transition after pending check: %v", err))
	}
	bet.SettledAt = cmd.Timestamp

	c.postCheckInvariants()

	c.emit(event.EventTypeBetVoided, cmd.RequestID, cmd.Caller, &cmd.BetID, &currencyName, cmd.Timestamp, event.BetVoided{
		BetID:    cmd.BetID,
		Bettor:   string(bet.Bettor),
		Currency: currencyName,
		Refunded: refunded,
		Owed:     owed,
		Voider:   string(cmd.Caller),
	})
	c.applied(OpVoidBet, cmd.RequestID, bet.Currency, start)

	return refunded, nil
}

// ============================================================================
// Treasury & fee management
// ============================================================================

// DepositLiquidity is an admin-only treasury top-up with no bet side effects.
func (c *Core) DepositLiquidity(cmd TreasuryCmd) error {
	start := time.Now()

	if c.deduper.IsDuplicate(OpDepositLiquidity, cmd.RequestID) {
		return c.reject(OpDepositLiquidity, ErrDuplicateRequest)
	}
	if !c.gov.IsAdmin(cmd.Caller) {
		return c.reject(OpDepositLiquidity, ErrUnauthorized)
	}
	currency, ok := ledger.GetCurrencyID(cmd.Currency)
	if !ok {
		return c.reject(OpDepositLiquidity, ErrUnknownCurrency)
	}
	if cmd.Amount <= 0 {
		return c.reject(OpDepositLiquidity, ErrInvalidAmount)
	}

	c.vaults.Deposit(currency, cmd.Amount)
	c.postCheckInvariants()

	c.emit(event.EventTypeLiquidityDeposited, cmd.RequestID, cmd.Caller, nil, &cmd.Currency, cmd.Timestamp, event.LiquidityDeposited{
		Currency: cmd.Currency,
		Amount:   cmd.Amount,
		Admin:    string(cmd.Caller),
	})
	c.applied(OpDepositLiquidity, cmd.RequestID, currency, start)
	return nil
}

// WithdrawFees extracts accrued operator revenue, bounded by both the accrued
// total and the solvency surplus.
func (c *Core) WithdrawFees(cmd TreasuryCmd) error {
	return c.withdrawFees(OpWithdrawFees, cmd, false)
}

// EmergencyWithdraw applies the same bound as WithdrawFees but additionally
// requires the platform to be paused — a stop-the-world safeguard against
// capital extraction while bets are still being accepted.
func (c *Core) EmergencyWithdraw(cmd TreasuryCmd) error {
	return c.withdrawFees(OpEmergencyWithdraw, cmd, true)
}

func (c *Core) withdrawFees(op string, cmd TreasuryCmd, emergency bool) error {
	start := time.Now()

	if c.deduper.IsDuplicate(op, cmd.RequestID) {
		return c.reject(op, ErrDuplicateRequest)
	}
	if !c.gov.IsAdmin(cmd.Caller) {
		return c.reject(op, ErrUnauthorized)
	}
	if emergency && !c.gov.Paused() {
		return c.reject(op, ErrPlatformNotPaused)
	}
	currency, ok := ledger.GetCurrencyID(cmd.Currency)
	if !ok {
		return c.reject(op, ErrUnknownCurrency)
	}
	if cmd.Amount <= 0 {
		return c.reject(op, ErrInvalidAmount)
	}
	if cmd.Amount > c.vaults.Withdrawable(currency) {
		return c.reject(op, ErrInsufficientLiquidity)
	}

	if err := c.vaults.WithdrawFees(currency, cmd.Amount); err != nil {
		panic(fmt.Sprintf("FATAL: fee withdrawal after bound check: %v", err))
	}
	c.postCheckInvariants()

	evtType := event.EventTypeFeesWithdrawn
	if emergency {
		evtType = event.EventTypeEmergencyWithdrawn
	}
	c.emit(evtType, cmd.RequestID, cmd.Caller, nil, &cmd.Currency, cmd.Timestamp, event.FeesWithdrawn{
		Currency:  cmd.Currency,
		Amount:    cmd.Amount,
		Admin:     string(cmd.Caller),
		Emergency: emergency,
	})
	c.applied(op, cmd.RequestID, currency, start)
	return nil
}

// ============================================================================
// Governance
// ============================================================================

// AddOracle grants settlement authority to a principal. Idempotent.
func (c *Core) AddOracle(cmd GovernanceCmd) error {
	start := time.Now()

	if c.deduper.IsDuplicate(OpAddOracle, cmd.RequestID) {
		return c.reject(OpAddOracle, ErrDuplicateRequest)
	}
	if err := c.gov.AddOracle(cmd.Caller, cmd.Principal); err != nil {
		return c.reject(OpAddOracle, ErrUnauthorized)
	}

	c.emit(event.EventTypeOracleAdded, cmd.RequestID, cmd.Caller, nil, nil, cmd.Timestamp, event.OracleChanged{
		Oracle: string(cmd.Principal),
		Added:  true,
	})
	c.appliedGlobal(OpAddOracle, cmd.RequestID, start)
	return nil
}

// RemoveOracle revokes settlement authority from a principal.
func (c *Core) RemoveOracle(cmd GovernanceCmd) error {
	start := time.Now()

	if c.deduper.IsDuplicate(OpRemoveOracle, cmd.RequestID) {
		return c.reject(OpRemoveOracle, ErrDuplicateRequest)
	}
	if err := c.gov.RemoveOracle(cmd.Caller, cmd.Principal); err != nil {
		return c.reject(OpRemoveOracle, ErrUnauthorized)
	}

	c.emit(event.EventTypeOracleRemoved, cmd.RequestID, cmd.Caller, nil, nil, cmd.Timestamp, event.OracleChanged{
		Oracle: string(cmd.Principal),
		Added:  false,
	})
	c.appliedGlobal(OpRemoveOracle, cmd.RequestID, start)
	return nil
}

// ProposeAdmin stages the first half of the two-phase admin handover.
func (c *Core) ProposeAdmin(cmd GovernanceCmd) error {
	start := time.Now()

	if c.deduper.IsDuplicate(OpProposeAdmin, cmd.RequestID) {
		return c.reject(OpProposeAdmin, ErrDuplicateRequest)
	}
	if err := c.gov.ProposeAdmin(cmd.Caller, cmd.Principal); err != nil {
		return c.reject(OpProposeAdmin, ErrUnauthorized)
	}

	c.emit(event.EventTypeAdminProposed, cmd.RequestID, cmd.Caller, nil, nil, cmd.Timestamp, event.AdminProposed{
		Proposed: string(cmd.Principal),
	})
	c.appliedGlobal(OpProposeAdmin, cmd.RequestID, start)
	return nil
}

// AcceptAdmin commits the handover; only the staged principal may call it.
func (c *Core) AcceptAdmin(cmd GovernanceCmd) error {
	start := time.Now()

	if c.deduper.IsDuplicate(OpAcceptAdmin, cmd.RequestID) {
		return c.reject(OpAcceptAdmin, ErrDuplicateRequest)
	}
	if err := c.gov.AcceptAdmin(cmd.Caller); err != nil {
		return c.reject(OpAcceptAdmin, ErrUnauthorized)
	}

	c.emit(event.EventTypeAdminAccepted, cmd.RequestID, cmd.Caller, nil, nil, cmd.Timestamp, event.AdminAccepted{
		NewAdmin: string(cmd.Caller),
	})
	c.appliedGlobal(OpAcceptAdmin, cmd.RequestID, start)
	return nil
}

// UpdateFeeRate changes the operator fee rate for subsequently placed bets.
func (c *Core) UpdateFeeRate(cmd UpdateFeeCmd) error {
	start := time.Now()

	if c.deduper.IsDuplicate(OpUpdateFee, cmd.RequestID) {
		return c.reject(OpUpdateFee, ErrDuplicateRequest)
	}
	if !c.gov.IsAdmin(cmd.Caller) {
		return c.reject(OpUpdateFee, ErrUnauthorized)
	}
	if !policy.ValidFeeRate(cmd.FeeBps) {
		return c.reject(OpUpdateFee, ErrInvalidAmount)
	}

	c.params.FeeBps = cmd.FeeBps

	c.emit(event.EventTypeFeeRateUpdated, cmd.RequestID, cmd.Caller, nil, nil, cmd.Timestamp, event.FeeRateUpdated{
		FeeBps: cmd.FeeBps,
	})
	c.appliedGlobal(OpUpdateFee, cmd.RequestID, start)
	return nil
}

// UpdateLimits changes the bet-size bounds for subsequently placed bets.
func (c *Core) UpdateLimits(cmd UpdateLimitsCmd) error {
	start := time.Now()

	if c.deduper.IsDuplicate(OpUpdateLimits, cmd.RequestID) {
		return c.reject(OpUpdateLimits, ErrDuplicateRequest)
	}
	if !c.gov.IsAdmin(cmd.Caller) {
		return c.reject(OpUpdateLimits, ErrUnauthorized)
	}
	if !policy.ValidBetBounds(cmd.MinBet, cmd.MaxBet) {
		return c.reject(OpUpdateLimits, ErrInvalidAmount)
	}

	c.params.MinBet = cmd.MinBet
	c.params.MaxBet = cmd.MaxBet

	c.emit(event.EventTypeLimitsUpdated, cmd.RequestID, cmd.Caller, nil, nil, cmd.Timestamp, event.LimitsUpdated{
		MinBet: cmd.MinBet,
		MaxBet: cmd.MaxBet,
	})
	c.appliedGlobal(OpUpdateLimits, cmd.RequestID, start)
	return nil
}

// SetPause toggles acceptance of new bets. Settlement remains possible
// while paused so outstanding liability can still resolve.
func (c *Core) SetPause(cmd GovernanceCmd) error {
	start := time.Now()

	if c.deduper.IsDuplicate(OpSetPause, cmd.RequestID) {
		return c.reject(OpSetPause, ErrDuplicateRequest)
	}
	if err := c.gov.SetPause(cmd.Caller, cmd.Paused); err != nil {
		return c.reject(OpSetPause, ErrUnauthorized)
	}

	c.emit(event.EventTypePauseSet, cmd.RequestID, cmd.Caller, nil, nil, cmd.Timestamp, event.PauseSet{
		Paused: cmd.Paused,
	})
	c.appliedGlobal(OpSetPause, cmd.RequestID, start)
	return nil
}

// ============================================================================
// Read-only surface
// ============================================================================

func (c *Core) Bet(id uint64) (*state.Bet, bool) { return c.bets.Get(id) }
func (c *Core) TotalBetCount() uint64            { return c.bets.Count() }
func (c *Core) Params() Params                   { return c.params }
func (c *Core) Admin() ledger.Principal          { return c.gov.Admin() }
func (c *Core) PendingAdmin() ledger.Principal   { return c.gov.PendingAdmin() }
func (c *Core) IsOracle(p ledger.Principal) bool { return c.gov.IsOracle(p) }
func (c *Core) Paused() bool                     { return c.gov.Paused() }
func (c *Core) GetSequence() int64               { return c.sequence }
func (c *Core) GetStateHash() [32]byte           { return c.hasher.GetPrevHash() }

// VaultView returns a copy of one currency's vault.
func (c *Core) VaultView(symbol string) (ledger.Vault, bool) {
	id, ok := ledger.GetCurrencyID(symbol)
	if !ok {
		return ledger.Vault{}, false
	}
	return *c.vaults.Vault(id), true
}

// ============================================================================
// Internals
// ============================================================================

func (c *Core) reject(op string, err error) error {
	if c.metrics != nil {
		c.metrics.OpsRejected.WithLabelValues(op, observability.RejectReason(err)).Inc()
	}
	return err
}

func (c *Core) applied(op, requestID string, currency ledger.CurrencyID, start time.Time) {
	c.deduper.MarkApplied(op, requestID)
	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(op).Inc()
		c.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		c.metrics.LedgerSequence.Set(float64(c.sequence))
		if name, ok := ledger.GetCurrencyName(currency); ok {
			v := c.vaults.Vault(currency)
			c.metrics.SetVaultGauges(name, v.Treasury, v.Liability, v.AccruedFees, c.vaults.Surplus(currency))
		}
	}
}

func (c *Core) appliedGlobal(op, requestID string, start time.Time) {
	c.deduper.MarkApplied(op, requestID)
	if c.metrics != nil {
		c.metrics.OpsApplied.WithLabelValues(op).Inc()
		c.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		c.metrics.LedgerSequence.Set(float64(c.sequence))
	}
}

// postCheckInvariants validates the ledger after every mutation. A violation
// here means the mutation itself was wrong, not the caller — crash loudly
// rather than persist a corrupted state.
func (c *Core) postCheckInvariants() {
	if err := c.validator.ValidateAll(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
}

// computeStateDigest creates canonical bytes for the state hash: every vault
// in currency order, the platform parameters, and the governance fields.
func (c *Core) computeStateDigest() []byte {
	digest := make([]byte, 0, 256)

	for _, id := range ledger.Currencies() {
		v := c.vaults.Vault(id)
		digest = append(digest, byte(id), byte(id>>8))
		digest = appendInt64LE(digest, v.Treasury)
		digest = appendInt64LE(digest, v.Volume)
		digest = appendInt64LE(digest, v.Liability)
		digest = appendInt64LE(digest, v.AccruedFees)
		digest = appendInt64LE(digest, v.RefundsOwed)
	}

	digest = appendInt64LE(digest, int64(c.bets.Count()))
	digest = appendInt64LE(digest, c.params.FeeBps)
	digest = appendInt64LE(digest, c.params.MinBet)
	digest = appendInt64LE(digest, c.params.MaxBet)

	if c.gov.Paused() {
		digest = append(digest, 1)
	} else {
		digest = append(digest, 0)
	}
	admin := string(c.gov.Admin())
	digest = append(digest, byte(len(admin)))
	digest = append(digest, []byte(admin)...)
	pending := string(c.gov.PendingAdmin())
	digest = append(digest, byte(len(pending)))
	digest = append(digest, []byte(pending)...)

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// emit appends one envelope to the audit trail. The persist channel blocks
// (backpressure guarantees no event is lost); the projection channel drops
// on full — projections rebuild from the event log if they fall behind.
func (c *Core) emit(
	evtType event.EventType,
	requestID string,
	actor ledger.Principal,
	betID *uint64,
	currency *string,
	ts time.Time,
	payload interface{},
) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s payload: %v", evtType, err))
	}

	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, c.computeStateDigest())

	envelope := &event.EventEnvelope{
		Sequence:  c.sequence,
		RequestID: requestID,
		EventType: evtType,
		Actor:     string(actor),
		BetID:     betID,
		Currency:  currency,
		Timestamp: ts,
		Payload:   data,
		StateHash: stateHash,
		PrevHash:  prevHash,
	}
	c.sequence++

	output := CoreOutput{Envelope: envelope}

	if c.persistChan != nil {
		c.persistChan <- output
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}
}
