package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MapleGroveLabs/sproutlog/backend/internal/checksum"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues identifiers for appended events.
type IDProvider interface {
	NewID() (string, error)
}

// LedgerConfig describes the dependencies of the event ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Ledger is the append-only, time-ordered store of immutable events. It is
// self-contained: no operation here inspects materialized state, which is
// what makes replay possible.
//
// A single active writer is assumed; the mutex only serializes appends from
// one process so that timestamps stay monotonically non-decreasing.
type Ledger struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger

	mu         sync.Mutex
	lastMillis int64
	lastLoaded bool
}

// NewLedger constructs the event ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Append fingerprints the payload, assigns an id and a timestamp no earlier
// than the last appended one, and persists the event atomically. The caller
// must not assume any materialized update happened if this fails.
func (l *Ledger) Append(ctx context.Context, payload EventPayload) (Event, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", checksum.ErrSerialization, err)
	}
	sum, err := checksum.Compute(encoded)
	if err != nil {
		return Event{}, err
	}
	eventID, err := l.idProvider.NewID()
	if err != nil {
		return Event{}, fmt.Errorf("journal: event id generation: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lastLoaded {
		if err := l.loadLastTimestampLocked(ctx); err != nil {
			return Event{}, err
		}
	}

	millis := l.clock().UTC().UnixMilli()
	if millis < l.lastMillis {
		millis = l.lastMillis
	}

	event := Event{
		EventID:         eventID,
		TimestampMillis: millis,
		Type:            payload.EventType(),
		PayloadJSON:     string(encoded),
		Checksum:        sum,
	}

	if err := l.db.WithContext(ctx).Create(&event).Error; err != nil {
		l.logger.Error("ledger append failed",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return Event{}, fmt.Errorf("%w: append %s: %v", ErrPersistence, event.Type, err)
	}

	l.lastMillis = millis
	return event, nil
}

// ReadAll returns the full event history sorted by timestamp ascending,
// ties broken by append order. The result is a finite snapshot, not a
// live stream.
func (l *Ledger) ReadAll(ctx context.Context) ([]Event, error) {
	var events []Event
	if err := l.db.WithContext(ctx).
		Order("timestamp_ms ASC, seq ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("%w: read events: %v", ErrPersistence, err)
	}
	return events, nil
}

// Count returns the number of appended events.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&Event{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("%w: count events: %v", ErrPersistence, err)
	}
	return count, nil
}

func (l *Ledger) loadLastTimestampLocked(ctx context.Context) error {
	var last Event
	err := l.db.WithContext(ctx).
		Order("timestamp_ms DESC, seq DESC").
		Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		l.lastLoaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load last timestamp: %v", ErrPersistence, err)
	}
	l.lastMillis = last.TimestampMillis
	l.lastLoaded = true
	return nil
}
