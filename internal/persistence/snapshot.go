package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/ledger"
	"BetLedger/internal/state"

	"github.com/google/uuid"
)

// SnapshotManager persists and loads point-in-time copies of the core state.
// On warm restart the latest verified snapshot is restored and events are
// replayed from snapshot.sequence forward; on cold restart the whole event
// log is replayed from genesis.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON form of core.SnapshotState.
type SnapshotData struct {
	Sequence     int64                `json:"sequence"`
	StateHash    []byte               `json:"state_hash"`
	Vaults       map[string]VaultSnap `json:"vaults"` // Currency symbol -> vault
	Bets         []BetSnap            `json:"bets"`
	Admin        string               `json:"admin"`
	PendingAdmin string               `json:"pending_admin"`
	Oracles      []string             `json:"oracles"`
	Paused       bool                 `json:"paused"`
	FeeBps       int64                `json:"fee_bps"`
	MinBet       int64                `json:"min_bet"`
	MaxBet       int64                `json:"max_bet"`
	RequestKeys  []string             `json:"request_keys"` // Recent keys for LRU warming
	CreatedAt    time.Time            `json:"created_at"`
}

// VaultSnap is a serializable vault.
type VaultSnap struct {
	Treasury    int64 `json:"treasury"`
	Volume      int64 `json:"volume"`
	Liability   int64 `json:"liability"`
	AccruedFees int64 `json:"accrued_fees"`
	RefundsOwed int64 `json:"refunds_owed"`
}

// BetSnap is a serializable bet record.
type BetSnap struct {
	ID              uint64    `json:"id"`
	Bettor          string    `json:"bettor"`
	Currency        string    `json:"currency"`
	EventRef        string    `json:"event_ref"`
	MarketRef       string    `json:"market_ref"`
	PredictionRef   string    `json:"prediction_ref"`
	ContentRef      string    `json:"content_ref,omitempty"`
	Odds            int64     `json:"odds"`
	Stake           int64     `json:"stake"`
	PotentialPayout int64     `json:"potential_payout"`
	FeeBps          int64     `json:"fee_bps"`
	PlatformFee     int64     `json:"platform_fee"`
	RefundOwed      int64     `json:"refund_owed"`
	Status          int32     `json:"status"`
	PlacedAt        time.Time `json:"placed_at"`
	SettledAt       time.Time `json:"settled_at"`
}

// SnapshotFromState converts the core's snapshot into its storage form.
func SnapshotFromState(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	data := &SnapshotData{
		Sequence:     s.Sequence,
		StateHash:    append([]byte(nil), s.StateHash[:]...),
		Vaults:       make(map[string]VaultSnap, len(s.Vaults)),
		Bets:         make([]BetSnap, 0, len(s.Bets)),
		Admin:        string(s.Admin),
		PendingAdmin: string(s.PendingAdmin),
		Oracles:      make([]string, 0, len(s.Oracles)),
		Paused:       s.Paused,
		FeeBps:       s.Params.FeeBps,
		MinBet:       s.Params.MinBet,
		MaxBet:       s.Params.MaxBet,
		RequestKeys:  s.RequestKeys,
		CreatedAt:    createdAt,
	}
	for id, v := range s.Vaults {
		name, ok := ledger.GetCurrencyName(id)
		if !ok {
			continue
		}
		data.Vaults[name] = VaultSnap{
			Treasury:    v.Treasury,
			Volume:      v.Volume,
			Liability:   v.Liability,
			AccruedFees: v.AccruedFees,
			RefundsOwed: v.RefundsOwed,
		}
	}
	for _, b := range s.Bets {
		name, _ := ledger.GetCurrencyName(b.Currency)
		data.Bets = append(data.Bets, BetSnap{
			ID:              b.ID,
			Bettor:          string(b.Bettor),
			Currency:        name,
			EventRef:        b.EventRef,
			MarketRef:       b.MarketRef,
			PredictionRef:   b.PredictionRef,
			ContentRef:      b.ContentRef,
			Odds:            b.Odds,
			Stake:           b.Stake,
			PotentialPayout: b.PotentialPayout,
			FeeBps:          b.FeeBps,
			PlatformFee:     b.PlatformFee,
			RefundOwed:      b.RefundOwed,
			Status:          int32(b.Status),
			PlacedAt:        b.PlacedAt,
			SettledAt:       b.SettledAt,
		})
	}
	for _, p := range s.Oracles {
		data.Oracles = append(data.Oracles, string(p))
	}
	return data
}

// ToState converts a loaded snapshot back into the core's form.
func (sd *SnapshotData) ToState() (*core.SnapshotState, error) {
	s := &core.SnapshotState{
		Sequence:     sd.Sequence,
		Vaults:       make(map[ledger.CurrencyID]ledger.Vault, len(sd.Vaults)),
		Bets:         make([]*state.Bet, 0, len(sd.Bets)),
		Admin:        ledger.Principal(sd.Admin),
		PendingAdmin: ledger.Principal(sd.PendingAdmin),
		Oracles:      make([]ledger.Principal, 0, len(sd.Oracles)),
		Paused:       sd.Paused,
		Params:       core.Params{FeeBps: sd.FeeBps, MinBet: sd.MinBet, MaxBet: sd.MaxBet},
		RequestKeys:  sd.RequestKeys,
	}
	if len(sd.StateHash) != len(s.StateHash) {
		return nil, fmt.Errorf("snapshot state hash has %d bytes, want %d", len(sd.StateHash), len(s.StateHash))
	}
	copy(s.StateHash[:], sd.StateHash)

	for name, v := range sd.Vaults {
		id, ok := ledger.GetCurrencyID(name)
		if !ok {
			return nil, fmt.Errorf("snapshot has unknown currency %q", name)
		}
		s.Vaults[id] = ledger.Vault{
			Treasury:    v.Treasury,
			Volume:      v.Volume,
			Liability:   v.Liability,
			AccruedFees: v.AccruedFees,
			RefundsOwed: v.RefundsOwed,
		}
	}
	for _, b := range sd.Bets {
		id, ok := ledger.GetCurrencyID(b.Currency)
		if !ok {
			return nil, fmt.Errorf("snapshot bet %d has unknown currency %q", b.ID, b.Currency)
		}
		s.Bets = append(s.Bets, &state.Bet{
			ID:              b.ID,
			Bettor:          ledger.Principal(b.Bettor),
			Currency:        id,
			EventRef:        b.EventRef,
			MarketRef:       b.MarketRef,
			PredictionRef:   b.PredictionRef,
			ContentRef:      b.ContentRef,
			Odds:            b.Odds,
			Stake:           b.Stake,
			PotentialPayout: b.PotentialPayout,
			FeeBps:          b.FeeBps,
			PlatformFee:     b.PlatformFee,
			RefundOwed:      b.RefundOwed,
			Status:          state.BetStatus(b.Status),
			PlacedAt:        b.PlacedAt,
			SettledAt:       b.SettledAt,
		})
	}
	for _, o := range sd.Oracles {
		s.Oracles = append(s.Oracles, ledger.Principal(o))
	}
	return s, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// LoadEventsFrom loads events from a given sequence for replay, in order.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, request_id, actor, bet_id, currency,
		       payload, state_hash, prev_hash, event_time
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.RequestID, &e.Actor, &e.BetID, &e.Currency,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1 for
// an empty log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
