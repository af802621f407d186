package event

// Payload structs for the append-only log. All amounts are integer units of
// the named settlement currency; odds use the fixed-point OddsUnit scale.

type BetPlaced struct {
	BetID           uint64 `json:"bet_id"`
	Bettor          string `json:"bettor"`
	Currency        string `json:"currency"`
	Stake           int64  `json:"stake"`
	Odds            int64  `json:"odds"`
	PotentialPayout int64  `json:"potential_payout"`
	FeeBps          int64  `json:"fee_bps"` // Rate in force at placement
	EventRef        string `json:"event_ref"`
	MarketRef       string `json:"market_ref"`
	PredictionRef   string `json:"prediction_ref"`
	ContentRef      string `json:"content_ref,omitempty"`
}

type BetSettled struct {
	BetID     uint64 `json:"bet_id"`
	Bettor    string `json:"bettor"`
	Currency  string `json:"currency"`
	Won       bool   `json:"won"`
	NetPayout int64  `json:"net_payout"` // 0 on loss
	Fee       int64  `json:"fee"`
	Settler   string `json:"settler"`
}

type BetVoided struct {
	BetID    uint64 `json:"bet_id"`
	Bettor   string `json:"bettor"`
	Currency string `json:"currency"`
	Refunded int64  `json:"refunded"`
	Owed     int64  `json:"owed"` // Non-zero only when the treasury could not refund
	Voider   string `json:"voider"`
}

type LiquidityDeposited struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
	Admin    string `json:"admin"`
}

type FeesWithdrawn struct {
	Currency  string `json:"currency"`
	Amount    int64  `json:"amount"`
	Admin     string `json:"admin"`
	Emergency bool   `json:"emergency"`
}

type OracleChanged struct {
	Oracle string `json:"oracle"`
	Added  bool   `json:"added"`
}

type AdminProposed struct {
	Proposed string `json:"proposed"`
}

type AdminAccepted struct {
	NewAdmin string `json:"new_admin"`
}

type FeeRateUpdated struct {
	FeeBps int64 `json:"fee_bps"`
}

type LimitsUpdated struct {
	MinBet int64 `json:"min_bet"`
	MaxBet int64 `json:"max_bet"`
}

type PauseSet struct {
	Paused bool `json:"paused"`
}
