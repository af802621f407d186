package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"BetLedger/internal/event"
)

// EventLogWriter writes the core's event envelopes to Postgres using
// multi-row INSERT batches. ON CONFLICT DO NOTHING makes re-writes after a
// crash idempotent: the sequence is the primary key.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events.
type EventRow struct {
	Sequence  int64
	EventType string
	RequestID string
	Actor     string
	BetID     sql.NullInt64
	Currency  sql.NullString
	Payload   []byte
	StateHash []byte
	PrevHash  []byte
	Timestamp time.Time
}

// RowFromEnvelope converts a core envelope into its storage row.
func RowFromEnvelope(env *event.EventEnvelope) EventRow {
	row := EventRow{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		RequestID: env.RequestID,
		Actor:     env.Actor,
		Payload:   env.Payload,
		StateHash: append([]byte(nil), env.StateHash[:]...),
		PrevHash:  append([]byte(nil), env.PrevHash[:]...),
		Timestamp: env.Timestamp,
	}
	if env.BetID != nil {
		row.BetID = sql.NullInt64{Int64: int64(*env.BetID), Valid: true}
	}
	if env.Currency != nil {
		row.Currency = sql.NullString{String: *env.Currency, Valid: true}
	}
	return row
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events inside the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, request_id, actor, bet_id, currency, payload, state_hash, prev_hash, event_time)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*10)

	for i, e := range events {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			e.Sequence, e.EventType, e.RequestID, e.Actor, e.BetID, e.Currency,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
