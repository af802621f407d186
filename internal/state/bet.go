package state

import (
	"time"

	"BetLedger/internal/ledger"
)

// BetStatus tracks a wager's lifecycle
type BetStatus int32

const (
	BetStatusPending BetStatus = iota
	BetStatusWon
	BetStatusLost
	BetStatusVoid
)

func (s BetStatus) String() string {
	switch s {
	case BetStatusPending:
		return "Pending"
	case BetStatusWon:
		return "Won"
	case BetStatusLost:
		return "Lost"
	case BetStatusVoid:
		return "Void"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions. A bet settles or voids
// exactly once; terminal states never revert.
func (s BetStatus) CanTransitionTo(next BetStatus) bool {
	validTransitions := map[BetStatus][]BetStatus{
		BetStatusPending: {
			BetStatusWon,
			BetStatusLost,
			BetStatusVoid,
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the bet has been resolved.
func (s BetStatus) IsTerminal() bool {
	return s != BetStatusPending
}

// Bet is the permanent audit record of one wager. The event, market,
// prediction, and content references are opaque at the ledger boundary;
// outcome determination belongs to the external oracle layer.
type Bet struct {
	ID              uint64
	Bettor          ledger.Principal
	Currency        ledger.CurrencyID
	EventRef        string
	MarketRef       string
	PredictionRef   string
	ContentRef      string
	Odds            int64 // Fixed-point: OddsUnit scale
	Stake           int64
	PotentialPayout int64
	FeeBps          int64 // Fee rate captured at placement; later rate changes don't apply
	PlatformFee     int64 // Filled at settlement
	RefundOwed      int64 // Non-zero only for the void-without-treasury edge
	Status          BetStatus
	PlacedAt        time.Time
	SettledAt       time.Time // Zero while pending
}

// IsPending reports whether the bet still carries liability.
func (b *Bet) IsPending() bool {
	return b.Status == BetStatusPending
}
