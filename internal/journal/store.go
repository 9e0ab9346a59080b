package journal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrEntryNotFound indicates that no materialized entry exists for an id.
var ErrEntryNotFound = errors.New("journal: entry not found")

// EntryStoreConfig describes the dependencies of the materialized store.
type EntryStoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// EntryStore owns the current-state daily entries. Normal operation reads
// and writes here; replay may discard and rebuild the whole table.
type EntryStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewEntryStore constructs the materialized entry store.
func NewEntryStore(cfg EntryStoreConfig) (*EntryStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &EntryStore{db: cfg.Database, logger: logger}, nil
}

// ReplaceAll discards every stored entry and bulk-inserts the provided set
// in a single transaction.
func (s *EntryStore) ReplaceAll(ctx context.Context, entries []DailyEntry) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&DailyEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.CreateInBatches(entries, 100).Error
	})
	if err != nil {
		s.logger.Error("materialized replace failed", zap.Error(err), zap.Int("entries", len(entries)))
		return fmt.Errorf("%w: replace entries: %v", ErrPersistence, err)
	}
	return nil
}

// List returns every materialized entry ordered by date, then id.
func (s *EntryStore) List(ctx context.Context) ([]DailyEntry, error) {
	var entries []DailyEntry
	if err := s.db.WithContext(ctx).
		Order("entry_date ASC, entry_id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", ErrPersistence, err)
	}
	return entries, nil
}

// Get returns the entry with the given id.
func (s *EntryStore) Get(ctx context.Context, entryID string) (*DailyEntry, error) {
	var entry DailyEntry
	err := s.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load entry %s: %v", ErrPersistence, entryID, err)
	}
	return &entry, nil
}

// Save upserts one materialized entry.
func (s *EntryStore) Save(ctx context.Context, entry *DailyEntry) error {
	if err := s.db.WithContext(ctx).Save(entry).Error; err != nil {
		return fmt.Errorf("%w: save entry %s: %v", ErrPersistence, entry.EntryID, err)
	}
	return nil
}

// Delete removes one materialized entry. The ledger keeps its history; this
// only drops the derived row.
func (s *EntryStore) Delete(ctx context.Context, entryID string) error {
	if err := s.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Delete(&DailyEntry{}).Error; err != nil {
		return fmt.Errorf("%w: delete entry %s: %v", ErrPersistence, entryID, err)
	}
	return nil
}

// Count returns the number of materialized entries.
func (s *EntryStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&DailyEntry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("%w: count entries: %v", ErrPersistence, err)
	}
	return count, nil
}
