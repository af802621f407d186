package persistence_test

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"BetLedger/internal/core"
	"BetLedger/internal/event"
	"BetLedger/internal/ledger"
	"BetLedger/internal/persistence"
	"BetLedger/internal/testutil"
)

// setupMigratedDB returns a migrated test database, skipping when the
// integration environment is unavailable.
func setupMigratedDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrator := persistence.NewMigrator(db, "../../migrations")
	if err := migrator.Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}
	return db, cleanup
}

func testEnvelope(sequence int64, requestID string) *event.EventEnvelope {
	betID := uint64(sequence + 1)
	currency := "STX"
	payload, _ := json.Marshal(event.BetPlaced{
		BetID:           betID,
		Bettor:          "bettor-1",
		Currency:        currency,
		Stake:           100,
		Odds:            200,
		PotentialPayout: 200,
		FeeBps:          100,
		EventRef:        "evt-1",
		MarketRef:       "mkt-1",
		PredictionRef:   "pred-1",
	})

	env := &event.EventEnvelope{
		Sequence:  sequence,
		RequestID: requestID,
		EventType: event.EventTypeBetPlaced,
		Actor:     "bettor-1",
		BetID:     &betID,
		Currency:  &currency,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:   payload,
	}
	env.StateHash = sha256.Sum256([]byte{byte(sequence)})
	if sequence > 0 {
		env.PrevHash = sha256.Sum256([]byte{byte(sequence - 1)})
	}
	return env
}

func writeEvents(t *testing.T, db *sql.DB, rows []persistence.EventRow) {
	t.Helper()
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	writer := persistence.NewEventLogWriter(db)
	if err := writer.WriteEventBatch(ctx, tx, rows); err != nil {
		tx.Rollback()
		t.Fatalf("write batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestEventLogRoundTrip(t *testing.T) {
	db, cleanup := setupMigratedDB(t)
	defer cleanup()
	ctx := context.Background()

	var rows []persistence.EventRow
	for seq := int64(0); seq < 5; seq++ {
		rows = append(rows, persistence.RowFromEnvelope(testEnvelope(seq, "req-"+string(rune('a'+seq)))))
	}
	writeEvents(t, db, rows)

	snapMgr := persistence.NewSnapshotManager(db)

	loaded, err := snapMgr.LoadEventsFrom(ctx, 0, 100)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(loaded) != 5 {
		t.Fatalf("loaded %d events, want 5", len(loaded))
	}
	for i, row := range loaded {
		if row.Sequence != int64(i) {
			t.Errorf("event %d: sequence %d, want %d", i, row.Sequence, i)
		}
		if row.EventType != "BetPlaced" {
			t.Errorf("event %d: type %s, want BetPlaced", i, row.EventType)
		}
	}

	latest, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != 4 {
		t.Errorf("latest sequence: got %d, want 4", latest)
	}

	// Rewriting the same batch is a no-op thanks to ON CONFLICT DO NOTHING.
	writeEvents(t, db, rows)
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Errorf("after rewrite: %d rows, want 5", count)
	}
}

func TestLoadEventsFromOffset(t *testing.T) {
	db, cleanup := setupMigratedDB(t)
	defer cleanup()
	ctx := context.Background()

	var rows []persistence.EventRow
	for seq := int64(0); seq < 10; seq++ {
		rows = append(rows, persistence.RowFromEnvelope(testEnvelope(seq, "req-offset-"+string(rune('a'+seq)))))
	}
	writeEvents(t, db, rows)

	snapMgr := persistence.NewSnapshotManager(db)
	loaded, err := snapMgr.LoadEventsFrom(ctx, 6, 100)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(loaded) != 4 {
		t.Fatalf("loaded %d events, want 4", len(loaded))
	}
	if loaded[0].Sequence != 6 {
		t.Errorf("first sequence: got %d, want 6", loaded[0].Sequence)
	}
}

func TestSnapshotSaveLoad(t *testing.T) {
	db, cleanup := setupMigratedDB(t)
	defer cleanup()
	ctx := context.Background()

	snapMgr := persistence.NewSnapshotManager(db)

	// Cold start: no snapshot yet.
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load on empty: %v", err)
	}
	if snap != nil {
		t.Fatal("expected nil snapshot on cold start")
	}

	stx, _ := ledger.GetCurrencyID("STX")
	state := &core.SnapshotState{
		Sequence: 42,
		Vaults: map[ledger.CurrencyID]ledger.Vault{
			stx: {Treasury: 1000, Volume: 500, Liability: 200, AccruedFees: 10},
		},
		Admin:       ledger.Principal("admin-1"),
		Oracles:     []ledger.Principal{"oracle-1"},
		Paused:      false,
		Params:      core.Params{FeeBps: 100, MinBet: 10, MaxBet: 1_000_000},
		RequestKeys: []string{"place_bet:req-1"},
	}
	state.StateHash = sha256.Sum256([]byte("snapshot-state"))

	data := persistence.SnapshotFromState(state, time.Now())
	if err := snapMgr.SaveSnapshot(ctx, data); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a snapshot")
	}
	if loaded.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", loaded.Sequence)
	}

	restored, err := loaded.ToState()
	if err != nil {
		t.Fatalf("to state: %v", err)
	}
	if restored.StateHash != state.StateHash {
		t.Error("state hash did not survive the round trip")
	}
	v, ok := restored.Vaults[stx]
	if !ok || v.Treasury != 1000 || v.Liability != 200 {
		t.Errorf("vault: got %+v", v)
	}
	if restored.Admin != "admin-1" || len(restored.Oracles) != 1 {
		t.Errorf("governance: admin=%s oracles=%v", restored.Admin, restored.Oracles)
	}
	if restored.Params.FeeBps != 100 {
		t.Errorf("fee_bps: got %d, want 100", restored.Params.FeeBps)
	}
}

func TestRequestCheckerFindsLoggedRequest(t *testing.T) {
	db, cleanup := setupMigratedDB(t)
	defer cleanup()

	rows := []persistence.EventRow{
		persistence.RowFromEnvelope(testEnvelope(0, "req-dup-check")),
	}
	writeEvents(t, db, rows)

	checker := persistence.NewPostgresRequestChecker(db)

	dup, err := checker.IsDuplicate("place_bet", "req-dup-check")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Error("expected logged request to be a duplicate")
	}
	dup, err = checker.IsDuplicate("place_bet", "req-never-seen")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Error("unknown request flagged as duplicate")
	}
	dup, err = checker.IsDuplicate("settle_bet", "req-dup-check")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if dup {
		t.Error("same request id under a different op flagged as duplicate")
	}
}
