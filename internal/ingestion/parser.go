package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/ledger"
)

// Command is the parsed form of a raw NATS command, ready for the dispatcher.
// Exactly one field is non-nil, matching Op.
type Command struct {
	Op       string
	Place    *core.PlaceBetCmd
	Settle   *core.SettleBetCmd
	Void     *core.VoidBetCmd
	Treasury *core.TreasuryCmd
	Gov      *core.GovernanceCmd
	Fee      *core.UpdateFeeCmd
	Limits   *core.UpdateLimitsCmd
}

// ParseCommand validates and converts a raw command into its typed form.
// The intake timestamp becomes the operation's versioned timestamp so the
// core never reads the wall clock.
func ParseCommand(raw RawCommand) (*Command, error) {
	switch raw.Op {
	case core.OpPlaceBet:
		return parsePlace(raw)
	case core.OpSettleBet:
		return parseSettle(raw)
	case core.OpVoidBet:
		return parseVoid(raw)
	case core.OpDepositLiquidity, core.OpWithdrawFees, core.OpEmergencyWithdraw:
		return parseTreasury(raw)
	case core.OpAddOracle, core.OpRemoveOracle, core.OpProposeAdmin, core.OpAcceptAdmin, core.OpSetPause:
		return parseGovernance(raw)
	case core.OpUpdateFee:
		return parseFee(raw)
	case core.OpUpdateLimits:
		return parseLimits(raw)
	default:
		return nil, fmt.Errorf("unknown operation: %s", raw.Op)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type placeBetJSON struct {
	RequestID     string `json:"request_id"`
	Bettor        string `json:"bettor"`
	Currency      string `json:"currency"`
	Stake         int64  `json:"stake"`
	Odds          int64  `json:"odds"`
	EventRef      string `json:"event_ref"`
	MarketRef     string `json:"market_ref"`
	PredictionRef string `json:"prediction_ref"`
	ContentRef    string `json:"content_ref,omitempty"`
}

func parsePlace(raw RawCommand) (*Command, error) {
	var j placeBetJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse place_bet: %w", err)
	}
	if err := requireFields(j.RequestID, j.Bettor); err != nil {
		return nil, err
	}
	return &Command{
		Op: raw.Op,
		Place: &core.PlaceBetCmd{
			RequestID:     j.RequestID,
			Bettor:        ledger.Principal(j.Bettor),
			Currency:      j.Currency,
			Stake:         j.Stake,
			Odds:          j.Odds,
			EventRef:      j.EventRef,
			MarketRef:     j.MarketRef,
			PredictionRef: j.PredictionRef,
			ContentRef:    j.ContentRef,
			Timestamp:     stamp(raw),
		},
	}, nil
}

type settleBetJSON struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	BetID     uint64 `json:"bet_id"`
	Won       bool   `json:"won"`
}

func parseSettle(raw RawCommand) (*Command, error) {
	var j settleBetJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse settle_bet: %w", err)
	}
	if err := requireFields(j.RequestID, j.Caller); err != nil {
		return nil, err
	}
	return &Command{
		Op: raw.Op,
		Settle: &core.SettleBetCmd{
			RequestID: j.RequestID,
			Caller:    ledger.Principal(j.Caller),
			BetID:     j.BetID,
			Won:       j.Won,
			Timestamp: stamp(raw),
		},
	}, nil
}

type voidBetJSON struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	BetID     uint64 `json:"bet_id"`
}

func parseVoid(raw RawCommand) (*Command, error) {
	var j voidBetJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse void_bet: %w", err)
	}
	if err := requireFields(j.RequestID, j.Caller); err != nil {
		return nil, err
	}
	return &Command{
		Op: raw.Op,
		Void: &core.VoidBetCmd{
			RequestID: j.RequestID,
			Caller:    ledger.Principal(j.Caller),
			BetID:     j.BetID,
			Timestamp: stamp(raw),
		},
	}, nil
}

type treasuryJSON struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	Currency  string `json:"currency"`
	Amount    int64  `json:"amount"`
}

func parseTreasury(raw RawCommand) (*Command, error) {
	var j treasuryJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", raw.Op, err)
	}
	if err := requireFields(j.RequestID, j.Caller); err != nil {
		return nil, err
	}
	return &Command{
		Op: raw.Op,
		Treasury: &core.TreasuryCmd{
			RequestID: j.RequestID,
			Caller:    ledger.Principal(j.Caller),
			Currency:  j.Currency,
			Amount:    j.Amount,
			Timestamp: stamp(raw),
		},
	}, nil
}

type governanceJSON struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	Principal string `json:"principal,omitempty"`
	Paused    bool   `json:"paused,omitempty"`
}

func parseGovernance(raw RawCommand) (*Command, error) {
	var j governanceJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", raw.Op, err)
	}
	if err := requireFields(j.RequestID, j.Caller); err != nil {
		return nil, err
	}
	return &Command{
		Op: raw.Op,
		Gov: &core.GovernanceCmd{
			RequestID: j.RequestID,
			Caller:    ledger.Principal(j.Caller),
			Principal: ledger.Principal(j.Principal),
			Paused:    j.Paused,
			Timestamp: stamp(raw),
		},
	}, nil
}

type updateFeeJSON struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	FeeBps    int64  `json:"fee_bps"`
}

func parseFee(raw RawCommand) (*Command, error) {
	var j updateFeeJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse update_fee: %w", err)
	}
	if err := requireFields(j.RequestID, j.Caller); err != nil {
		return nil, err
	}
	return &Command{
		Op: raw.Op,
		Fee: &core.UpdateFeeCmd{
			RequestID: j.RequestID,
			Caller:    ledger.Principal(j.Caller),
			FeeBps:    j.FeeBps,
			Timestamp: stamp(raw),
		},
	}, nil
}

type updateLimitsJSON struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	MinBet    int64  `json:"min_bet"`
	MaxBet    int64  `json:"max_bet"`
}

func parseLimits(raw RawCommand) (*Command, error) {
	var j updateLimitsJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("parse update_limits: %w", err)
	}
	if err := requireFields(j.RequestID, j.Caller); err != nil {
		return nil, err
	}
	return &Command{
		Op: raw.Op,
		Limits: &core.UpdateLimitsCmd{
			RequestID: j.RequestID,
			Caller:    ledger.Principal(j.Caller),
			MinBet:    j.MinBet,
			MaxBet:    j.MaxBet,
			Timestamp: stamp(raw),
		},
	}, nil
}

func requireFields(requestID, principal string) error {
	if requestID == "" {
		return fmt.Errorf("missing request_id")
	}
	if principal == "" {
		return fmt.Errorf("missing principal")
	}
	return nil
}

func stamp(raw RawCommand) time.Time {
	if raw.ReceivedAt.IsZero() {
		return time.Now()
	}
	return raw.ReceivedAt
}
