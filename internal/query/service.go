package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrNotFound is returned when the queried entity does not exist.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to the projection tables. All
// responses include as_of_sequence: the watermark of the projection at read
// time, so callers can reason about staleness relative to the core.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBet returns one wager by ledger ID.
func (qs *QueryService) GetBet(ctx context.Context, betID uint64) (*BetResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var b BetResponse
	var settledAt sql.NullTime
	err = qs.db.QueryRowContext(ctx, `
		SELECT bet_id, bettor, currency, event_ref, market_ref, prediction_ref,
		       COALESCE(content_ref, ''), odds, stake, potential_payout, fee_bps,
		       net_payout, platform_fee, refund_owed, status, placed_at, settled_at
		FROM projections.bets
		WHERE bet_id = $1
	`, betID).Scan(
		&b.BetID, &b.Bettor, &b.Currency, &b.EventRef, &b.MarketRef, &b.PredictionRef,
		&b.ContentRef, &b.Odds, &b.Stake, &b.PotentialPayout, &b.FeeBps,
		&b.NetPayout, &b.PlatformFee, &b.RefundOwed, &b.Status, &b.PlacedAt, &settledAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if settledAt.Valid {
		b.SettledAt = &settledAt.Time
	}
	b.AsOfSequence = asOfSeq
	return &b, nil
}

// ListBets returns a bettor's wagers, newest first, with cursor-based
// pagination on bet ID.
func (qs *QueryService) ListBets(
	ctx context.Context,
	bettor string,
	limit int,
	beforeBetID *uint64,
) ([]BetResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT bet_id, bettor, currency, event_ref, market_ref, prediction_ref,
		       COALESCE(content_ref, ''), odds, stake, potential_payout, fee_bps,
		       net_payout, platform_fee, refund_owed, status, placed_at, settled_at
		FROM projections.bets
		WHERE bettor = $1
	`
	args := []interface{}{bettor}
	argIdx := 2

	if beforeBetID != nil {
		query += fmt.Sprintf(" AND bet_id < $%d", argIdx)
		args = append(args, *beforeBetID)
		argIdx++
	}

	query += " ORDER BY bet_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []BetResponse
	for rows.Next() {
		var b BetResponse
		var settledAt sql.NullTime
		if err := rows.Scan(
			&b.BetID, &b.Bettor, &b.Currency, &b.EventRef, &b.MarketRef, &b.PredictionRef,
			&b.ContentRef, &b.Odds, &b.Stake, &b.PotentialPayout, &b.FeeBps,
			&b.NetPayout, &b.PlatformFee, &b.RefundOwed, &b.Status, &b.PlacedAt, &settledAt,
		); err != nil {
			return nil, err
		}
		if settledAt.Valid {
			b.SettledAt = &settledAt.Time
		}
		b.AsOfSequence = asOfSeq
		bets = append(bets, b)
	}

	return bets, rows.Err()
}

// GetPlatform returns one currency's vault totals.
func (qs *QueryService) GetPlatform(ctx context.Context, currency string) (*PlatformResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var p PlatformResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT currency, treasury, volume, liability, accrued_fees, refunds_owed
		FROM projections.platform
		WHERE currency = $1
	`, currency).Scan(&p.Currency, &p.Treasury, &p.Volume, &p.Liability, &p.AccruedFees, &p.RefundsOwed)
	if err == sql.ErrNoRows {
		// No activity yet in this currency: all zeros.
		p.Currency = currency
	} else if err != nil {
		return nil, err
	}
	p.Surplus = p.Treasury - p.Liability
	p.AsOfSequence = asOfSeq
	return &p, nil
}

// GetGovernance returns the platform control state.
func (qs *QueryService) GetGovernance(ctx context.Context) (*GovernanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var g GovernanceResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT admin, pending_admin, oracles, paused, fee_bps, min_bet, max_bet
		FROM projections.governance
		WHERE singleton = TRUE
	`).Scan(&g.Admin, &g.PendingAdmin, pq.Array(&g.Oracles), &g.Paused, &g.FeeBps, &g.MinBet, &g.MaxBet)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.AsOfSequence = asOfSeq
	return &g, nil
}

// GetEventHistory returns audit-log entries, newest first, optionally
// filtered by bet, with cursor-based pagination on sequence.
func (qs *QueryService) GetEventHistory(
	ctx context.Context,
	betID *uint64,
	limit int,
	beforeSequence *int64,
) ([]EventHistoryEntry, error) {
	query := `
		SELECT sequence, event_type, actor, bet_id, currency, payload, event_time
		FROM event_log.events
		WHERE TRUE
	`
	var args []interface{}
	argIdx := 1

	if betID != nil {
		query += fmt.Sprintf(" AND bet_id = $%d", argIdx)
		args = append(args, *betID)
		argIdx++
	}
	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventHistoryEntry
	for rows.Next() {
		var e EventHistoryEntry
		var betID sql.NullInt64
		var currency sql.NullString
		var payload []byte
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.Actor, &betID, &currency, &payload, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if betID.Valid {
			id := uint64(betID.Int64)
			e.BetID = &id
		}
		if currency.Valid {
			e.Currency = &currency.String
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("payload at sequence %d: %w", e.Sequence, err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks hash-chain continuity in the event log and the
// solvency invariant in the platform projection.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	solvencyRows, err := qs.db.QueryContext(ctx, `
		SELECT currency, treasury, liability
		FROM projections.platform
		WHERE treasury < liability
	`)
	if err != nil {
		return nil, err
	}
	defer solvencyRows.Close()

	for solvencyRows.Next() {
		var c InsolventCurrency
		if err := solvencyRows.Scan(&c.Currency, &c.Treasury, &c.Liability); err != nil {
			return nil, err
		}
		report.InsolventCurrencies = append(report.InsolventCurrencies, c)
	}
	if err := solvencyRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.InsolventCurrencies) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
