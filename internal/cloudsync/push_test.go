package cloudsync

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/MapleGroveLabs/sproutlog/backend/internal/catalog"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/journal"
)

func newTestSyncer(t *testing.T) (*Syncer, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)

	syncer, err := NewSyncer(SyncerConfig{
		Remote: mock,
		Clock:  func() time.Time { return time.Unix(1700000600, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct syncer: %v", err)
	}
	return syncer, mock
}

func expectationsMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet remote expectations: %v", err)
	}
}

func TestEnsureUserInsertIfAbsent(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectExec(`INSERT INTO sync_users .+ ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := syncer.EnsureUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestSyncChildrenUpsertsEveryRow(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectExec(`INSERT INTO sync_users`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO children .+ ON CONFLICT \(user_id, child_id\) DO UPDATE SET`).
		WithArgs("user-1", "c1", "Ada", "Maple Grove", "Ms. Rivera").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO children`).
		WithArgs("user-1", "c2", "Noah", "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := syncer.SyncChildren(context.Background(), "user-1", []catalog.Child{
		{ChildID: "c1", Name: "Ada", Center: "Maple Grove", Teacher: "Ms. Rivera"},
		{ChildID: "c2", Name: "Noah"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestSyncChildrenIdempotentRepush(t *testing.T) {
	syncer, mock := newTestSyncer(t)
	children := []catalog.Child{{ChildID: "c1", Name: "Ada"}}

	// Two identical pushes issue the same idempotent statements; the remote
	// state after the second push equals the state after the first.
	for i := 0; i < 2; i++ {
		mock.ExpectExec(`INSERT INTO sync_users`).
			WithArgs("user-1").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO children`).
			WithArgs("user-1", "c1", "Ada", "", "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	for i := 0; i < 2; i++ {
		if err := syncer.SyncChildren(context.Background(), "user-1", children); err != nil {
			t.Fatalf("push %d failed: %v", i+1, err)
		}
	}
	expectationsMet(t, mock)
}

func TestSyncEntriesResurrectsTombstones(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectExec(`INSERT INTO sync_users`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// A push always clears deleted_at: the row existing locally means live.
	mock.ExpectExec(`(?s)INSERT INTO daily_entries .+ DO UPDATE SET.+deleted_at = NULL`).
		WithArgs("user-1", "e1", "2024-05-01", "c1", "[]", "", "", "", false, (*int64)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := syncer.SyncEntries(context.Background(), "user-1", []journal.DailyEntry{
		{EntryID: "e1", EntryDate: "2024-05-01", ChildID: "c1", LinesJSON: "[]"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestSyncGoalsPartialFailureSurfacesRemoteError(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectExec(`INSERT INTO sync_users`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO goals`).
		WithArgs("user-1", 1, "D", `["A"]`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO goals`).
		WithArgs("user-1", 2, "E", "[]").
		WillReturnError(errors.New("connection reset"))

	err := syncer.SyncGoals(context.Background(), "user-1", []catalog.Goal{
		{Code: 1, Description: "D", ActivitiesJSON: `["A"]`},
		{Code: 2, Description: "E", ActivitiesJSON: "[]"},
	})
	if err == nil {
		t.Fatalf("expected remote failure")
	}
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
	if remoteErr.Op != "sync_goals" {
		t.Fatalf("unexpected operation %q", remoteErr.Op)
	}
	// Row one is already committed; the caller retries from the beginning,
	// which the upsert makes safe.
	expectationsMet(t, mock)
}

func TestSoftDeleteChildSetsTombstone(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectExec(`UPDATE children SET deleted_at = .+ WHERE`).
		WithArgs(time.Unix(1700000600, 0).UTC(), time.Unix(1700000600, 0).UTC(), "c1", "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := syncer.SoftDeleteChild(context.Background(), "user-1", "c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateLastSyncUpserts(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectExec(`INSERT INTO sync_status .+ ON CONFLICT \(user_id\) DO UPDATE SET last_synced_at`).
		WithArgs("user-1", time.Unix(1700000600, 0).UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := syncer.UpdateLastSync(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestPushRequiresUserID(t *testing.T) {
	syncer, _ := newTestSyncer(t)

	if err := syncer.SyncChildren(context.Background(), "  ", nil); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
	if err := syncer.EnsureUser(context.Background(), ""); !errors.Is(err, ErrMissingUserID) {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
}
