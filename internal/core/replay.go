package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"BetLedger/internal/event"
	"BetLedger/internal/ledger"
	"BetLedger/internal/state"
)

// ReplayEvent is one stored log entry fed back into the core on startup.
type ReplayEvent struct {
	Sequence  int64
	EventType event.EventType
	RequestID string
	Payload   []byte
	StateHash [32]byte
	Timestamp int64 // Unix nanos of the versioned input timestamp
}

// ApplyReplayEvent re-applies one logged event during recovery. Replay trusts
// the log's decisions (no precondition checks re-run) but verifies the hash
// chain: after applying, the recomputed state hash must equal the stored one,
// or the log and the code disagree and recovery must stop.
func (c *Core) ApplyReplayEvent(ev ReplayEvent) error {
	if ev.Sequence != c.sequence {
		return fmt.Errorf("replay gap: expected sequence %d, got %d", c.sequence, ev.Sequence)
	}

	if err := c.applyReplayPayload(ev); err != nil {
		return fmt.Errorf("replay sequence %d (%s): %w", ev.Sequence, ev.EventType, err)
	}

	computed := c.hasher.ComputeHash(ev.Sequence, c.computeStateDigest())
	if !bytes.Equal(computed[:], ev.StateHash[:]) {
		return fmt.Errorf("replay hash mismatch at sequence %d: log has %x, replay computed %x",
			ev.Sequence, ev.StateHash, computed)
	}

	c.sequence++
	c.deduper.MarkApplied(replayOp(ev.EventType), ev.RequestID)

	if err := c.validator.ValidateAll(); err != nil {
		return fmt.Errorf("replay sequence %d broke invariants: %w", ev.Sequence, err)
	}
	return nil
}

func (c *Core) applyReplayPayload(ev ReplayEvent) error {
	switch ev.EventType {
	case event.EventTypeBetPlaced:
		var p event.BetPlaced
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		currency, ok := ledger.GetCurrencyID(p.Currency)
		if !ok {
			return fmt.Errorf("unknown currency %q", p.Currency)
		}
		c.vaults.AcceptStake(currency, p.Stake, p.PotentialPayout)
		c.bets.Restore(&state.Bet{
			ID:              p.BetID,
			Bettor:          ledger.Principal(p.Bettor),
			Currency:        currency,
			EventRef:        p.EventRef,
			MarketRef:       p.MarketRef,
			PredictionRef:   p.PredictionRef,
			ContentRef:      p.ContentRef,
			Odds:            p.Odds,
			Stake:           p.Stake,
			PotentialPayout: p.PotentialPayout,
			FeeBps:          p.FeeBps,
			Status:          state.BetStatusPending,
			PlacedAt:        time.Unix(0, ev.Timestamp),
		})

	case event.EventTypeBetSettled:
		var p event.BetSettled
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		bet, ok := c.bets.Get(p.BetID)
		if !ok {
			return fmt.Errorf("settled unknown bet %d", p.BetID)
		}
		if err := c.vaults.ReleaseLiability(bet.Currency, bet.PotentialPayout); err != nil {
			return err
		}
		status := state.BetStatusLost
		if p.Won {
			status = state.BetStatusWon
			if err := c.vaults.PayOut(bet.Currency, p.NetPayout); err != nil {
				return err
			}
			c.vaults.AccrueFees(bet.Currency, p.Fee)
		} else {
			c.vaults.AccrueFees(bet.Currency, bet.Stake)
		}
		if _, err := c.bets.Transition(p.BetID, status); err != nil {
			return err
		}
		bet.PlatformFee = p.Fee
		bet.SettledAt = time.Unix(0, ev.Timestamp)

	case event.EventTypeBetVoided:
		var p event.BetVoided
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		bet, ok := c.bets.Get(p.BetID)
		if !ok {
			return fmt.Errorf("voided unknown bet %d", p.BetID)
		}
		if err := c.vaults.ReleaseLiability(bet.Currency, bet.PotentialPayout); err != nil {
			return err
		}
		if p.Refunded > 0 {
			if err := c.vaults.PayOut(bet.Currency, p.Refunded); err != nil {
				return err
			}
		}
		if p.Owed > 0 {
			c.vaults.RecordOwedRefund(bet.Currency, p.Owed)
			bet.RefundOwed = p.Owed
		}
		if _, err := c.bets.Transition(p.BetID, state.BetStatusVoid); err != nil {
			return err
		}
		bet.SettledAt = time.Unix(0, ev.Timestamp)

	case event.EventTypeLiquidityDeposited:
		var p event.LiquidityDeposited
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		currency, ok := ledger.GetCurrencyID(p.Currency)
		if !ok {
			return fmt.Errorf("unknown currency %q", p.Currency)
		}
		c.vaults.Deposit(currency, p.Amount)

	case event.EventTypeFeesWithdrawn, event.EventTypeEmergencyWithdrawn:
		var p event.FeesWithdrawn
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		currency, ok := ledger.GetCurrencyID(p.Currency)
		if !ok {
			return fmt.Errorf("unknown currency %q", p.Currency)
		}
		if err := c.vaults.WithdrawFees(currency, p.Amount); err != nil {
			return err
		}

	case event.EventTypeOracleAdded:
		var p event.OracleChanged
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		return c.gov.AddOracle(c.gov.Admin(), ledger.Principal(p.Oracle))

	case event.EventTypeOracleRemoved:
		var p event.OracleChanged
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		return c.gov.RemoveOracle(c.gov.Admin(), ledger.Principal(p.Oracle))

	case event.EventTypeAdminProposed:
		var p event.AdminProposed
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		return c.gov.ProposeAdmin(c.gov.Admin(), ledger.Principal(p.Proposed))

	case event.EventTypeAdminAccepted:
		var p event.AdminAccepted
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		return c.gov.AcceptAdmin(ledger.Principal(p.NewAdmin))

	case event.EventTypeFeeRateUpdated:
		var p event.FeeRateUpdated
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		c.params.FeeBps = p.FeeBps

	case event.EventTypeLimitsUpdated:
		var p event.LimitsUpdated
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		c.params.MinBet = p.MinBet
		c.params.MaxBet = p.MaxBet

	case event.EventTypePauseSet:
		var p event.PauseSet
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		return c.gov.SetPause(c.gov.Admin(), p.Paused)

	default:
		return fmt.Errorf("unknown event type %d", ev.EventType)
	}
	return nil
}

// replayOp maps an event type back to the operation name used in
// idempotency keys.
func replayOp(et event.EventType) string {
	switch et {
	case event.EventTypeBetPlaced:
		return OpPlaceBet
	case event.EventTypeBetSettled:
		return OpSettleBet
	case event.EventTypeBetVoided:
		return OpVoidBet
	case event.EventTypeLiquidityDeposited:
		return OpDepositLiquidity
	case event.EventTypeFeesWithdrawn:
		return OpWithdrawFees
	case event.EventTypeEmergencyWithdrawn:
		return OpEmergencyWithdraw
	case event.EventTypeOracleAdded:
		return OpAddOracle
	case event.EventTypeOracleRemoved:
		return OpRemoveOracle
	case event.EventTypeAdminProposed:
		return OpProposeAdmin
	case event.EventTypeAdminAccepted:
		return OpAcceptAdmin
	case event.EventTypeFeeRateUpdated:
		return OpUpdateFee
	case event.EventTypeLimitsUpdated:
		return OpUpdateLimits
	case event.EventTypePauseSet:
		return OpSetPause
	default:
		return "unknown"
	}
}
