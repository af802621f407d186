package core

import (
	"time"

	"BetLedger/internal/ledger"
)

// Commands are validated requests handed to the operation core. Timestamps
// are versioned inputs stamped by the shell (HTTP handler or NATS parser);
// the core never reads the wall clock, so replay reproduces identical state.

// Op names used for idempotency keys, event subjects, and metrics labels.
const (
	OpPlaceBet          = "place_bet"
	OpSettleBet         = "settle_bet"
	OpVoidBet           = "void_bet"
	OpDepositLiquidity  = "deposit_liquidity"
	OpWithdrawFees      = "withdraw_fees"
	OpEmergencyWithdraw = "emergency_withdraw"
	OpAddOracle         = "add_oracle"
	OpRemoveOracle      = "remove_oracle"
	OpProposeAdmin      = "propose_admin"
	OpAcceptAdmin       = "accept_admin"
	OpUpdateFee         = "update_fee"
	OpUpdateLimits      = "update_limits"
	OpSetPause          = "set_pause"
)

type PlaceBetCmd struct {
	RequestID     string
	Bettor        ledger.Principal
	Currency      string
	Stake         int64
	Odds          int64
	EventRef      string
	MarketRef     string
	PredictionRef string
	ContentRef    string
	Timestamp     time.Time
}

type SettleBetCmd struct {
	RequestID string
	Caller    ledger.Principal
	BetID     uint64
	Won       bool
	Timestamp time.Time
}

type VoidBetCmd struct {
	RequestID string
	Caller    ledger.Principal
	BetID     uint64
	Timestamp time.Time
}

// TreasuryCmd covers deposit_liquidity, withdraw_fees, and emergency_withdraw.
type TreasuryCmd struct {
	RequestID string
	Caller    ledger.Principal
	Currency  string
	Amount    int64
	Timestamp time.Time
}

// GovernanceCmd covers oracle management, admin handover, and pause toggling.
type GovernanceCmd struct {
	RequestID string
	Caller    ledger.Principal
	Principal ledger.Principal // Oracle or proposed admin, when applicable
	Paused    bool             // set_pause only
	Timestamp time.Time
}

type UpdateFeeCmd struct {
	RequestID string
	Caller    ledger.Principal
	FeeBps    int64
	Timestamp time.Time
}

type UpdateLimitsCmd struct {
	RequestID string
	Caller    ledger.Principal
	MinBet    int64
	MaxBet    int64
	Timestamp time.Time
}
