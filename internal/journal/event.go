package journal

import (
	"errors"
	"fmt"
	"strings"
)

// EventType enumerates the closed set of recorded journal events.
type EventType string

const (
	// EventTypeEntryCreated carries a full daily-entry snapshot.
	EventTypeEntryCreated EventType = "ENTRY_CREATED"
	// EventTypeLineAdded appends one activity line to an entry.
	EventTypeLineAdded EventType = "LINE_ADDED"
	// EventTypeLineUpdated merges field updates over an existing line.
	EventTypeLineUpdated EventType = "LINE_UPDATED"
	// EventTypeLineDeleted removes a line from an entry.
	EventTypeLineDeleted EventType = "LINE_DELETED"
	// EventTypeSignatureSaved stores a parent signature image.
	EventTypeSignatureSaved EventType = "SIGNATURE_SAVED"
	// EventTypeSummaryGenerated records the first AI summary and its provider.
	EventTypeSummaryGenerated EventType = "AI_SUMMARY_GENERATED"
	// EventTypeSummaryUpdated replaces the AI summary text.
	EventTypeSummaryUpdated EventType = "AI_SUMMARY_UPDATED"
	// EventTypePDFExported is a pure audit marker with no state mutation.
	EventTypePDFExported EventType = "PDF_EXPORTED"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEntryID indicates that an entry identifier is empty or exceeds storage bounds.
	ErrInvalidEntryID = errors.New("journal: invalid entry id")
	// ErrInvalidLineID indicates that a line identifier is empty or exceeds storage bounds.
	ErrInvalidLineID = errors.New("journal: invalid line id")
	// ErrPersistence indicates that the durable local store rejected a read or write.
	ErrPersistence = errors.New("journal: durable store failure")
	// ErrUnknownEventType indicates an event type outside the closed set.
	ErrUnknownEventType = errors.New("journal: unknown event type")
)

// Event is an immutable, checksummed record of one state change. Rows are
// totally ordered by (timestamp, seq); seq is the append order tie-break.
type Event struct {
	Seq             int64     `gorm:"column:seq;primaryKey;autoIncrement" json:"-"`
	EventID         string    `gorm:"column:event_id;size:190;not null;uniqueIndex" json:"id"`
	TimestampMillis int64     `gorm:"column:timestamp_ms;not null;index:idx_journal_events_time" json:"timestamp"`
	Type            EventType `gorm:"column:event_type;size:64;not null" json:"type"`
	PayloadJSON     string    `gorm:"column:payload_json;type:text;not null" json:"payload"`
	Checksum        string    `gorm:"column:checksum;size:64;not null" json:"checksum"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "journal_events"
}

func validateEntryID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEntryID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEntryID, maxIdentifierLength)
	}
	return trimmed, nil
}

func validateLineID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLineID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidLineID, maxIdentifierLength)
	}
	return trimmed, nil
}
