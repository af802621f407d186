package persistence

import (
	"context"
	"database/sql"
	"time"

	"BetLedger/internal/event"
)

// PostgresRequestChecker is the cold tier of request deduplication: it looks
// for the request ID in the event log when the in-memory LRU misses.
// Implements core.DBRequestChecker.
type PostgresRequestChecker struct {
	db *sql.DB
}

func NewPostgresRequestChecker(db *sql.DB) *PostgresRequestChecker {
	return &PostgresRequestChecker{db: db}
}

// IsDuplicate checks whether a request was already applied. The lookup is
// bounded to 500ms; the event log's unique (event_type, request_id) index is
// the final backstop if the check times out.
func (pc *PostgresRequestChecker) IsDuplicate(op string, requestID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := pc.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE event_type = $1 AND request_id = $2
		LIMIT 1
	`, opEventType(op), requestID).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// opEventType maps an operation name to the event type it logs as.
func opEventType(op string) string {
	switch op {
	case "place_bet":
		return event.EventTypeBetPlaced.String()
	case "settle_bet":
		return event.EventTypeBetSettled.String()
	case "void_bet":
		return event.EventTypeBetVoided.String()
	case "deposit_liquidity":
		return event.EventTypeLiquidityDeposited.String()
	case "withdraw_fees":
		return event.EventTypeFeesWithdrawn.String()
	case "emergency_withdraw":
		return event.EventTypeEmergencyWithdrawn.String()
	case "add_oracle":
		return event.EventTypeOracleAdded.String()
	case "remove_oracle":
		return event.EventTypeOracleRemoved.String()
	case "propose_admin":
		return event.EventTypeAdminProposed.String()
	case "accept_admin":
		return event.EventTypeAdminAccepted.String()
	case "update_fee":
		return event.EventTypeFeeRateUpdated.String()
	case "update_limits":
		return event.EventTypeLimitsUpdated.String()
	case "set_pause":
		return event.EventTypePauseSet.String()
	default:
		return op
	}
}
