package core

import "errors"

// Operation failure taxonomy. Every failure is a rejected operation that
// leaves the ledger unchanged; there is no fatal class at the API boundary.
var (
	// Precondition violations (caller error, rejected before any mutation)
	ErrPlatformPaused  = errors.New("platform is paused")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrBelowMinimum    = errors.New("stake below minimum bet")
	ErrAboveMaximum    = errors.New("stake above maximum bet")
	ErrInvalidOdds     = errors.New("odds below minimum unit")
	ErrAlreadySettled  = errors.New("bet already settled")
	ErrUnknownBet      = errors.New("unknown bet")
	ErrUnknownCurrency = errors.New("unknown settlement currency")

	// Authorization violations
	ErrUnauthorized = errors.New("caller not authorized")

	// Solvency violations
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// Governance-safety violations reuse ErrInvalidAmount per the operation
	// table (fee/bound out of range).

	// Emergency withdrawal requires the stop-the-world flag
	ErrPlatformNotPaused = errors.New("platform is not paused")

	// At-most-once command intake
	ErrDuplicateRequest = errors.New("duplicate request")
)
