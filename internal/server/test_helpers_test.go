package server

import (
	contextpkg "context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MapleGroveLabs/sproutlog/backend/internal/catalog"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/journal"
)

var testDatabaseCounter atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:sproutlog_server_test_%d?mode=memory&cache=shared", testDatabaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&journal.Event{}, &journal.DailyEntry{}, &catalog.Child{}, &catalog.Goal{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestHandler(t *testing.T, cloudSync *stubCloudSyncer) http.Handler {
	t.Helper()

	db := newTestDB(t)
	logger := zap.NewNop()

	ledger, err := journal.NewLedger(journal.LedgerConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: journal.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	entries, err := journal.NewEntryStore(journal.EntryStoreConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct entry store: %v", err)
	}
	recorder, err := journal.NewRecorder(journal.RecorderConfig{
		Ledger:  ledger,
		Entries: entries,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("failed to construct recorder: %v", err)
	}
	catalogStore, err := catalog.NewStore(catalog.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct catalog store: %v", err)
	}

	deps := Dependencies{
		TokenManager: stubTokenManager{subject: "user-1"},
		Recorder:     recorder,
		Entries:      entries,
		Catalog:      catalogStore,
		Logger:       logger,
	}
	if cloudSync != nil {
		deps.CloudSync = cloudSync
	}

	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

type stubTokenManager struct {
	subject     string
	validateErr error
}

func (s stubTokenManager) IssueBackendToken(contextpkg.Context, string) (string, int64, error) {
	return "issued-token", 1800, nil
}

func (s stubTokenManager) ValidateToken(string) (string, error) {
	if s.validateErr != nil {
		return "", s.validateErr
	}
	return s.subject, nil
}

// stubCloudSyncer records push calls and serves canned pull data.
type stubCloudSyncer struct {
	pushedChildren []catalog.Child
	pushedEntries  []journal.DailyEntry
	pushedGoals    []catalog.Goal
	tombstoned     []string
	watermarkSet   bool

	remoteChildren []catalog.Child
	remoteEntries  []journal.DailyEntry
	remoteGoals    []catalog.Goal
	lastSynced     *time.Time

	failEntries bool
}

func (s *stubCloudSyncer) SyncChildren(_ contextpkg.Context, _ string, children []catalog.Child) error {
	s.pushedChildren = children
	return nil
}

func (s *stubCloudSyncer) SyncEntries(_ contextpkg.Context, _ string, entries []journal.DailyEntry) error {
	if s.failEntries {
		return errors.New("remote unavailable")
	}
	s.pushedEntries = entries
	return nil
}

func (s *stubCloudSyncer) SyncGoals(_ contextpkg.Context, _ string, goals []catalog.Goal) error {
	s.pushedGoals = goals
	return nil
}

func (s *stubCloudSyncer) SoftDeleteChild(_ contextpkg.Context, _, childID string) error {
	s.tombstoned = append(s.tombstoned, "child:"+childID)
	return nil
}

func (s *stubCloudSyncer) SoftDeleteEntry(_ contextpkg.Context, _, entryID string) error {
	s.tombstoned = append(s.tombstoned, "entry:"+entryID)
	return nil
}

func (s *stubCloudSyncer) SoftDeleteGoal(_ contextpkg.Context, _ string, code int) error {
	s.tombstoned = append(s.tombstoned, fmt.Sprintf("goal:%d", code))
	return nil
}

func (s *stubCloudSyncer) GetChildren(contextpkg.Context, string) ([]catalog.Child, error) {
	return s.remoteChildren, nil
}

func (s *stubCloudSyncer) GetEntries(contextpkg.Context, string) ([]journal.DailyEntry, error) {
	return s.remoteEntries, nil
}

func (s *stubCloudSyncer) GetGoals(contextpkg.Context, string) ([]catalog.Goal, error) {
	return s.remoteGoals, nil
}

func (s *stubCloudSyncer) UpdateLastSync(contextpkg.Context, string) error {
	s.watermarkSet = true
	return nil
}

func (s *stubCloudSyncer) LastSyncedAt(contextpkg.Context, string) (*time.Time, error) {
	return s.lastSynced, nil
}
