package query

import "time"

// BetResponse represents one wager for API queries.
type BetResponse struct {
	BetID           uint64     `json:"bet_id"`
	Bettor          string     `json:"bettor"`
	Currency        string     `json:"currency"`
	EventRef        string     `json:"event_ref"`
	MarketRef       string     `json:"market_ref"`
	PredictionRef   string     `json:"prediction_ref"`
	ContentRef      string     `json:"content_ref,omitempty"`
	Odds            int64      `json:"odds"`
	Stake           int64      `json:"stake"`
	PotentialPayout int64      `json:"potential_payout"`
	FeeBps          int64      `json:"fee_bps"`
	NetPayout       int64      `json:"net_payout"`
	PlatformFee     int64      `json:"platform_fee"`
	RefundOwed      int64      `json:"refund_owed"`
	Status          string     `json:"status"`
	PlacedAt        time.Time  `json:"placed_at"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	AsOfSequence    int64      `json:"as_of_sequence"`
}

// PlatformResponse represents one currency's vault totals.
type PlatformResponse struct {
	Currency     string `json:"currency"`
	Treasury     int64  `json:"treasury"`
	Volume       int64  `json:"volume"`
	Liability    int64  `json:"liability"`
	AccruedFees  int64  `json:"accrued_fees"`
	RefundsOwed  int64  `json:"refunds_owed"`
	Surplus      int64  `json:"surplus"` // Derived at query time
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GovernanceResponse represents the platform control state.
type GovernanceResponse struct {
	Admin        string   `json:"admin"`
	PendingAdmin string   `json:"pending_admin"`
	Oracles      []string `json:"oracles"`
	Paused       bool     `json:"paused"`
	FeeBps       int64    `json:"fee_bps"`
	MinBet       int64    `json:"min_bet"`
	MaxBet       int64    `json:"max_bet"`
	AsOfSequence int64    `json:"as_of_sequence"`
}

// EventHistoryEntry represents one audit-log entry for API queries.
type EventHistoryEntry struct {
	Sequence  int64          `json:"sequence"`
	EventType string         `json:"event_type"`
	Actor     string         `json:"actor"`
	BetID     *uint64        `json:"bet_id,omitempty"`
	Currency  *string        `json:"currency,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy           bool                `json:"is_healthy"`
	HashChainBreaks     []int64             `json:"hash_chain_breaks,omitempty"`
	InsolventCurrencies []InsolventCurrency `json:"insolvent_currencies,omitempty"`
}

// InsolventCurrency flags a vault whose treasury no longer covers liability.
type InsolventCurrency struct {
	Currency  string `json:"currency"`
	Treasury  int64  `json:"treasury"`
	Liability int64  `json:"liability"`
}
