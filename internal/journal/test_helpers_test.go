package journal

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	if g.prefix == "" {
		return "", errors.New("exhausted ids")
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:sproutlog_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Event{}, &DailyEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestLedger(t *testing.T, db *gorm.DB, clock func() time.Time) *Ledger {
	t.Helper()

	if clock == nil {
		clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	}
	ledger, err := NewLedger(LedgerConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDGenerator{prefix: "evt"},
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	return ledger
}

func newTestEntryStore(t *testing.T, db *gorm.DB) *EntryStore {
	t.Helper()

	store, err := NewEntryStore(EntryStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct entry store: %v", err)
	}
	return store
}

func newTestReplayer(t *testing.T, ledger *Ledger, store *EntryStore) *Replayer {
	t.Helper()

	replayer, err := NewReplayer(ReplayerConfig{Ledger: ledger, Entries: store})
	if err != nil {
		t.Fatalf("failed to construct replayer: %v", err)
	}
	return replayer
}

func mustLines(t *testing.T, entry *DailyEntry) []ActivityLine {
	t.Helper()

	lines, err := entry.Lines()
	if err != nil {
		t.Fatalf("failed to decode lines: %v", err)
	}
	return lines
}

func pointerTo[V any](value V) *V {
	return &value
}
