package journal

import (
	"context"
	"errors"
	"testing"
)

func newTestRecovery(t *testing.T, ledger *Ledger, store *EntryStore) *Recovery {
	t.Helper()

	recovery, err := NewRecovery(RecoveryConfig{
		Ledger:   ledger,
		Entries:  store,
		Replayer: newTestReplayer(t, ledger, store),
	})
	if err != nil {
		t.Fatalf("failed to construct recovery: %v", err)
	}
	return recovery
}

func TestEnsureConsistentFreshInstall(t *testing.T) {
	db := newTestDB(t)
	ledger := newTestLedger(t, db, nil)
	store := newTestEntryStore(t, db)
	recovery := newTestRecovery(t, ledger, store)

	if err := recovery.EnsureConsistent(context.Background()); err != nil {
		t.Fatalf("fresh install must be consistent: %v", err)
	}
}

func TestEnsureConsistentReplaysWhenCacheMissing(t *testing.T) {
	db := newTestDB(t)
	ledger := newTestLedger(t, db, nil)
	store := newTestEntryStore(t, db)
	recovery := newTestRecovery(t, ledger, store)
	ctx := context.Background()

	appendAll(t, ledger,
		EntryCreated{EntryID: "e1", Date: "2024-05-01", ChildID: "c1", Lines: []ActivityLine{}},
		LineAdded{EntryID: "e1", Line: ActivityLine{LineID: "l1", DurationMinutes: 45}},
		SignatureSaved{EntryID: "e1", SignatureBase64: "AAA"},
	)

	if err := recovery.EnsureConsistent(ctx); err != nil {
		t.Fatalf("unexpected recovery error: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count == 0 {
		t.Fatalf("recovery must leave the materialized store non-empty")
	}
}

func TestEnsureConsistentIdempotent(t *testing.T) {
	db := newTestDB(t)
	ledger := newTestLedger(t, db, nil)
	store := newTestEntryStore(t, db)
	recovery := newTestRecovery(t, ledger, store)
	ctx := context.Background()

	appendAll(t, ledger,
		EntryCreated{EntryID: "e1", Date: "2024-05-01", ChildID: "c1", Lines: []ActivityLine{}},
	)

	if err := recovery.EnsureConsistent(ctx); err != nil {
		t.Fatalf("unexpected recovery error: %v", err)
	}

	// Corrupt the ledger after the first pass. A second EnsureConsistent
	// with a populated cache must not replay, so the corruption stays
	// invisible and the second call is a no-op.
	if err := db.Model(&Event{}).
		Where("event_id = ?", "evt-1").
		Update("payload_json", `{"tampered":true}`).Error; err != nil {
		t.Fatalf("failed to tamper event: %v", err)
	}

	if err := recovery.EnsureConsistent(ctx); err != nil {
		t.Fatalf("second call must be a no-op, got %v", err)
	}
}

func TestEnsureConsistentToleratesOrphanedCache(t *testing.T) {
	db := newTestDB(t)
	ledger := newTestLedger(t, db, nil)
	store := newTestEntryStore(t, db)
	recovery := newTestRecovery(t, ledger, store)
	ctx := context.Background()

	orphan := DailyEntry{EntryID: "e9", EntryDate: "2024-04-01", ChildID: "c1", LinesJSON: "[]"}
	if err := store.Save(ctx, &orphan); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	if err := recovery.EnsureConsistent(ctx); err != nil {
		t.Fatalf("orphaned cache is tolerated, got %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("orphaned cache must be left alone, got %d rows", count)
	}
}

func TestEnsureConsistentPropagatesIntegrityFailure(t *testing.T) {
	db := newTestDB(t)
	ledger := newTestLedger(t, db, nil)
	store := newTestEntryStore(t, db)
	recovery := newTestRecovery(t, ledger, store)
	ctx := context.Background()

	appendAll(t, ledger,
		EntryCreated{EntryID: "e1", Date: "2024-05-01", ChildID: "c1", Lines: []ActivityLine{}},
	)
	if err := db.Model(&Event{}).
		Where("event_id = ?", "evt-1").
		Update("payload_json", `{"id":"e1","date":"2024-05-02","childId":"c1","lines":[]}`).Error; err != nil {
		t.Fatalf("failed to tamper event: %v", err)
	}

	err := recovery.EnsureConsistent(ctx)
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected integrity failure to propagate, got %v", err)
	}
}
