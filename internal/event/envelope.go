package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeBetPlaced
	EventTypeBetSettled
	EventTypeBetVoided
	EventTypeLiquidityDeposited
	EventTypeFeesWithdrawn
	EventTypeEmergencyWithdrawn
	EventTypeOracleAdded
	EventTypeOracleRemoved
	EventTypeAdminProposed
	EventTypeAdminAccepted
	EventTypeFeeRateUpdated
	EventTypeLimitsUpdated
	EventTypePauseSet
)

// EventEnvelope wraps every event in the append-only log. The log is the
// canonical audit trail for external indexing and reporting.
type EventEnvelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from the caller's request
	RequestID string

	// Event type discriminator
	EventType EventType

	// Principal that invoked the operation
	Actor string

	// Bet context (nullable for treasury/governance events)
	BetID *uint64

	// Settlement currency symbol (nullable for governance events)
	Currency *string

	// Versioned input timestamp (NOT wall-clock inside the core)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

func (et EventType) String() string {
	switch et {
	case EventTypeBetPlaced:
		return "BetPlaced"
	case EventTypeBetSettled:
		return "BetSettled"
	case EventTypeBetVoided:
		return "BetVoided"
	case EventTypeLiquidityDeposited:
		return "LiquidityDeposited"
	case EventTypeFeesWithdrawn:
		return "FeesWithdrawn"
	case EventTypeEmergencyWithdrawn:
		return "EmergencyWithdrawn"
	case EventTypeOracleAdded:
		return "OracleAdded"
	case EventTypeOracleRemoved:
		return "OracleRemoved"
	case EventTypeAdminProposed:
		return "AdminProposed"
	case EventTypeAdminAccepted:
		return "AdminAccepted"
	case EventTypeFeeRateUpdated:
		return "FeeRateUpdated"
	case EventTypeLimitsUpdated:
		return "LimitsUpdated"
	case EventTypePauseSet:
		return "PauseSet"
	default:
		return "Unknown"
	}
}

// ParseEventType maps a stored event_type string back to its discriminator.
func ParseEventType(s string) EventType {
	switch s {
	case "BetPlaced":
		return EventTypeBetPlaced
	case "BetSettled":
		return EventTypeBetSettled
	case "BetVoided":
		return EventTypeBetVoided
	case "LiquidityDeposited":
		return EventTypeLiquidityDeposited
	case "FeesWithdrawn":
		return EventTypeFeesWithdrawn
	case "EmergencyWithdrawn":
		return EventTypeEmergencyWithdrawn
	case "OracleAdded":
		return EventTypeOracleAdded
	case "OracleRemoved":
		return EventTypeOracleRemoved
	case "AdminProposed":
		return EventTypeAdminProposed
	case "AdminAccepted":
		return EventTypeAdminAccepted
	case "FeeRateUpdated":
		return EventTypeFeeRateUpdated
	case "LimitsUpdated":
		return EventTypeLimitsUpdated
	case "PauseSet":
		return EventTypePauseSet
	default:
		return EventTypeUnknown
	}
}
