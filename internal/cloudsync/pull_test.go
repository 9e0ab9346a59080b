package cloudsync

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/MapleGroveLabs/sproutlog/backend/internal/catalog"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/journal"
)

func TestGetChildrenFiltersTombstones(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectQuery(`SELECT child_id, name, center, teacher FROM children WHERE user_id = \$1 AND deleted_at IS NULL ORDER BY created_at ASC`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"child_id", "name", "center", "teacher"}).
			AddRow("c1", "Ada", "Maple Grove", "Ms. Rivera").
			AddRow("c2", "Noah", "", ""))

	children, err := syncer.GetChildren(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []catalog.Child{
		{ChildID: "c1", Name: "Ada", Center: "Maple Grove", Teacher: "Ms. Rivera"},
		{ChildID: "c2", Name: "Noah"},
	}
	if !reflect.DeepEqual(children, expected) {
		t.Fatalf("unexpected children: %#v", children)
	}
	expectationsMet(t, mock)
}

func TestGetEntriesScansFullRow(t *testing.T) {
	syncer, mock := newTestSyncer(t)
	emailedAt := int64(1700000100)

	mock.ExpectQuery(`FROM daily_entries WHERE user_id = \$1 AND deleted_at IS NULL`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"entry_id", "entry_date", "child_id", "lines_json",
			"signature_b64", "ai_summary", "ai_provider", "locked", "emailed_at_s",
		}).AddRow("e1", "2024-05-01", "c1", "[]", "AAA", "Busy day.", "openai", true, &emailedAt))

	entries, err := syncer.GetEntries(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	expected := journal.DailyEntry{
		EntryID:          "e1",
		EntryDate:        "2024-05-01",
		ChildID:          "c1",
		LinesJSON:        "[]",
		SignatureBase64:  "AAA",
		Summary:          "Busy day.",
		SummaryProvider:  "openai",
		Locked:           true,
		EmailedAtSeconds: &emailedAt,
	}
	if !reflect.DeepEqual(entries[0], expected) {
		t.Fatalf("unexpected entry: %#v", entries[0])
	}
	expectationsMet(t, mock)
}

func TestGoalUpdateRoundTrip(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	// Push code 1 with description D, push again with D2, then pull. The
	// second upsert overwrites the first; the pull sees only D2.
	for _, description := range []string{"D", "D2"} {
		mock.ExpectExec(`INSERT INTO sync_users`).
			WithArgs("user-1").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO goals`).
			WithArgs("user-1", 1, description, `["A"]`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectQuery(`SELECT code, description, activities_json FROM goals`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"code", "description", "activities_json"}).
			AddRow(1, "D2", `["A"]`))

	for _, description := range []string{"D", "D2"} {
		err := syncer.SyncGoals(context.Background(), "user-1", []catalog.Goal{
			{Code: 1, Description: description, ActivitiesJSON: `["A"]`},
		})
		if err != nil {
			t.Fatalf("push %q failed: %v", description, err)
		}
	}

	goals, err := syncer.GetGoals(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(goals) != 1 || goals[0].Description != "D2" {
		t.Fatalf("unexpected goals: %#v", goals)
	}
	expectationsMet(t, mock)
}

func TestGetGoalsEmptyResult(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectQuery(`FROM goals`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"code", "description", "activities_json"}))

	goals, err := syncer.GetGoals(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(goals) != 0 {
		t.Fatalf("expected no goals, got %#v", goals)
	}
	expectationsMet(t, mock)
}

func TestLastSyncedAtNeverSynced(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectQuery(`SELECT last_synced_at FROM sync_status`).
		WithArgs("user-1").
		WillReturnError(pgx.ErrNoRows)

	lastSynced, err := syncer.LastSyncedAt(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lastSynced != nil {
		t.Fatalf("expected nil watermark, got %v", lastSynced)
	}
	expectationsMet(t, mock)
}

func TestLastSyncedAtReturnsWatermark(t *testing.T) {
	syncer, mock := newTestSyncer(t)
	watermark := time.Unix(1700000500, 0).UTC()

	mock.ExpectQuery(`SELECT last_synced_at FROM sync_status`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"last_synced_at"}).AddRow(watermark))

	lastSynced, err := syncer.LastSyncedAt(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lastSynced == nil || !lastSynced.Equal(watermark) {
		t.Fatalf("unexpected watermark: %v", lastSynced)
	}
	expectationsMet(t, mock)
}

func TestPullFailureSurfacesRemoteError(t *testing.T) {
	syncer, mock := newTestSyncer(t)

	mock.ExpectQuery(`FROM children`).
		WithArgs("user-1").
		WillReturnError(errors.New("connection reset"))

	_, err := syncer.GetChildren(context.Background(), "user-1")
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
	expectationsMet(t, mock)
}
