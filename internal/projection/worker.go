package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/event"
	"BetLedger/internal/observability"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// ProjectionWorker maintains the read-model tables (projections.bets,
// projections.platform, projections.governance) from applied events.
// The projection channel is non-blocking with drop: if this worker falls
// behind, the tables go stale and are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processEnvelope(ctx, output.Envelope); err != nil {
				// Projections are eventually consistent; a failed update is
				// repaired by the next rebuild, not by stalling the pipeline.
				pw.logger.Warn().Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Str("event_type", output.Envelope.EventType.String()).
					Msg("projection update failed")
				continue
			}

			pw.lastSeq = output.Envelope.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionSequence.Set(float64(pw.lastSeq))
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.Envelope.EventType.String()).
					Observe(time.Since(start).Seconds())
			}
		}
	}
}

func (pw *ProjectionWorker) processEnvelope(ctx context.Context, env *event.EventEnvelope) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyEnvelope(ctx, tx, env); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyEnvelope translates one event into projection-table updates. Shared
// between live projection and rebuild.
func applyEnvelope(ctx context.Context, tx *sql.Tx, env *event.EventEnvelope) error {
	switch env.EventType {
	case event.EventTypeBetPlaced:
		var p event.BetPlaced
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.bets
				(bet_id, bettor, currency, event_ref, market_ref, prediction_ref, content_ref,
				 odds, stake, potential_payout, fee_bps, status, placed_at, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'Pending', $12, $13)
			ON CONFLICT (bet_id) DO NOTHING
		`, p.BetID, p.Bettor, p.Currency, p.EventRef, p.MarketRef, p.PredictionRef, p.ContentRef,
			p.Odds, p.Stake, p.PotentialPayout, p.FeeBps, env.Timestamp, env.Sequence); err != nil {
			return fmt.Errorf("bets insert: %w", err)
		}
		return upsertPlatform(ctx, tx, p.Currency, env.Sequence,
			p.Stake, p.Stake, p.PotentialPayout, 0, 0)

	case event.EventTypeBetSettled:
		var p event.BetSettled
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		var payout, stake int64
		err := tx.QueryRowContext(ctx, `
			SELECT potential_payout, stake FROM projections.bets WHERE bet_id = $1
		`, p.BetID).Scan(&payout, &stake)
		if err != nil {
			return fmt.Errorf("settled bet %d lookup: %w", p.BetID, err)
		}

		status := "Lost"
		var treasuryDelta, feeDelta int64
		if p.Won {
			status = "Won"
			treasuryDelta = -p.NetPayout
			feeDelta = p.Fee
		} else {
			feeDelta = stake
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.bets
			SET status = $2, net_payout = $3, platform_fee = $4, settled_at = $5, last_sequence = $6
			WHERE bet_id = $1
		`, p.BetID, status, p.NetPayout, p.Fee, env.Timestamp, env.Sequence); err != nil {
			return fmt.Errorf("bets settle update: %w", err)
		}
		return upsertPlatform(ctx, tx, p.Currency, env.Sequence,
			treasuryDelta, 0, -payout, feeDelta, 0)

	case event.EventTypeBetVoided:
		var p event.BetVoided
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		var payout int64
		if err := tx.QueryRowContext(ctx, `
			SELECT potential_payout FROM projections.bets WHERE bet_id = $1
		`, p.BetID).Scan(&payout); err != nil {
			return fmt.Errorf("voided bet %d lookup: %w", p.BetID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.bets
			SET status = 'Void', refund_owed = $2, settled_at = $3, last_sequence = $4
			WHERE bet_id = $1
		`, p.BetID, p.Owed, env.Timestamp, env.Sequence); err != nil {
			return fmt.Errorf("bets void update: %w", err)
		}
		return upsertPlatform(ctx, tx, p.Currency, env.Sequence,
			-p.Refunded, 0, -payout, 0, p.Owed)

	case event.EventTypeLiquidityDeposited:
		var p event.LiquidityDeposited
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		return upsertPlatform(ctx, tx, p.Currency, env.Sequence, p.Amount, 0, 0, 0, 0)

	case event.EventTypeFeesWithdrawn, event.EventTypeEmergencyWithdrawn:
		var p event.FeesWithdrawn
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		return upsertPlatform(ctx, tx, p.Currency, env.Sequence, -p.Amount, 0, 0, -p.Amount, 0)

	case event.EventTypeOracleAdded:
		var p event.OracleChanged
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.governance
			SET oracles = (SELECT ARRAY(SELECT DISTINCT unnest(oracles || $1::text))), last_sequence = $2
		`, p.Oracle, env.Sequence)
		return err

	case event.EventTypeOracleRemoved:
		var p event.OracleChanged
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.governance
			SET oracles = array_remove(oracles, $1), last_sequence = $2
		`, p.Oracle, env.Sequence)
		return err

	case event.EventTypeAdminProposed:
		var p event.AdminProposed
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.governance SET pending_admin = $1, last_sequence = $2
		`, p.Proposed, env.Sequence)
		return err

	case event.EventTypeAdminAccepted:
		var p event.AdminAccepted
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		// The core keeps pending_admin equal to admin outside an open
		// handover; the projection mirrors that convention.
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.governance SET admin = $1, pending_admin = $1, last_sequence = $2
		`, p.NewAdmin, env.Sequence)
		return err

	case event.EventTypeFeeRateUpdated:
		var p event.FeeRateUpdated
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.governance SET fee_bps = $1, last_sequence = $2
		`, p.FeeBps, env.Sequence)
		return err

	case event.EventTypeLimitsUpdated:
		var p event.LimitsUpdated
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.governance SET min_bet = $1, max_bet = $2, last_sequence = $3
		`, p.MinBet, p.MaxBet, env.Sequence)
		return err

	case event.EventTypePauseSet:
		var p event.PauseSet
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.governance SET paused = $1, last_sequence = $2
		`, p.Paused, env.Sequence)
		return err

	default:
		return fmt.Errorf("unknown event type %d", env.EventType)
	}
}

func upsertPlatform(
	ctx context.Context,
	tx *sql.Tx,
	currency string,
	sequence int64,
	treasury, volume, liability, accruedFees, refundsOwed int64,
) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.platform
			(currency, treasury, volume, liability, accrued_fees, refunds_owed, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (currency) DO UPDATE SET
			treasury = projections.platform.treasury + $2,
			volume = projections.platform.volume + $3,
			liability = projections.platform.liability + $4,
			accrued_fees = projections.platform.accrued_fees + $5,
			refunds_owed = projections.platform.refunds_owed + $6,
			last_sequence = $7
	`, currency, treasury, volume, liability, accruedFees, refundsOwed, sequence)
	if err != nil {
		return fmt.Errorf("platform upsert: %w", err)
	}
	return nil
}

// SeedGovernance writes the initial governance row on first boot.
func SeedGovernance(ctx context.Context, db *sql.DB, admin string, feeBps, minBet, maxBet int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.governance
			(singleton, admin, pending_admin, oracles, paused, fee_bps, min_bet, max_bet, last_sequence)
		VALUES (TRUE, $1, $1, $2, FALSE, $3, $4, $5, -1)
		ON CONFLICT (singleton) DO NOTHING
	`, admin, pq.Array([]string{}), feeBps, minBet, maxBet)
	return err
}

// Rebuild truncates the projection tables and replays the event log into
// them in sequence order.
func Rebuild(ctx context.Context, db *sql.DB, admin string, feeBps, minBet, maxBet int64, logger zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.bets`,
		`TRUNCATE projections.platform`,
		`TRUNCATE projections.governance`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if err := SeedGovernance(ctx, db, admin, feeBps, minBet, maxBet); err != nil {
		return fmt.Errorf("seed governance: %w", err)
	}

	const batch = 1000
	from := int64(0)
	total := 0
	for {
		rows, err := db.QueryContext(ctx, `
			SELECT sequence, event_type, payload, event_time
			FROM event_log.events
			WHERE sequence >= $1
			ORDER BY sequence ASC
			LIMIT $2
		`, from, batch)
		if err != nil {
			return err
		}

		type rawEvent struct {
			sequence  int64
			eventType string
			payload   []byte
			eventTime time.Time
		}
		var events []rawEvent
		for rows.Next() {
			var e rawEvent
			if err := rows.Scan(&e.sequence, &e.eventType, &e.payload, &e.eventTime); err != nil {
				rows.Close()
				return err
			}
			events = append(events, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(events) == 0 {
			break
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, e := range events {
			env := &event.EventEnvelope{
				Sequence:  e.sequence,
				EventType: event.ParseEventType(e.eventType),
				Payload:   e.payload,
				Timestamp: e.eventTime,
			}
			if err := applyEnvelope(ctx, tx, env); err != nil {
				tx.Rollback()
				return fmt.Errorf("rebuild at sequence %d: %w", e.sequence, err)
			}
		}
		last := events[len(events)-1].sequence
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			VALUES ('main', $1, NOW())
			ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
		`, last); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		total += len(events)
		from = last + 1
	}

	logger.Info().Int("events", total).Msg("projection rebuild complete")
	return nil
}
