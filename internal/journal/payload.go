package journal

import (
	"encoding/json"
	"fmt"
)

// EventPayload is the tagged union of journal event bodies. Exactly one
// variant exists per EventType; DecodePayload dispatches exhaustively.
type EventPayload interface {
	EventType() EventType
}

// ActivityLine is one logged activity inside a daily entry.
type ActivityLine struct {
	LineID          string   `json:"id"`
	GoalCode        int      `json:"goalCode"`
	Narrative       string   `json:"narrative"`
	Activities      []string `json:"activities"`
	StartTime       string   `json:"startTime"`
	EndTime         string   `json:"endTime"`
	DurationMinutes int      `json:"durationMinutes"`
}

// LinePatch carries the fields of a LINE_UPDATED event; nil fields are left
// unchanged on the target line.
type LinePatch struct {
	GoalCode        *int     `json:"goalCode,omitempty"`
	Narrative       *string  `json:"narrative,omitempty"`
	Activities      []string `json:"activities,omitempty"`
	StartTime       *string  `json:"startTime,omitempty"`
	EndTime         *string  `json:"endTime,omitempty"`
	DurationMinutes *int     `json:"durationMinutes,omitempty"`
}

// EntryCreated carries the full entry snapshot inserted at creation time.
type EntryCreated struct {
	EntryID          string         `json:"id"`
	Date             string         `json:"date"`
	ChildID          string         `json:"childId"`
	Lines            []ActivityLine `json:"lines"`
	SignatureBase64  string         `json:"signatureBase64,omitempty"`
	Summary          string         `json:"aiSummary,omitempty"`
	SummaryProvider  string         `json:"aiProvider,omitempty"`
	Locked           bool           `json:"locked,omitempty"`
	EmailedAtSeconds *int64         `json:"emailedAtSeconds,omitempty"`
}

// EventType identifies the payload variant.
func (EntryCreated) EventType() EventType { return EventTypeEntryCreated }

// LineAdded appends one line to an existing entry.
type LineAdded struct {
	EntryID string       `json:"entryId"`
	Line    ActivityLine `json:"line"`
}

// EventType identifies the payload variant.
func (LineAdded) EventType() EventType { return EventTypeLineAdded }

// LineUpdated merges patch fields over the line identified by LineID.
type LineUpdated struct {
	EntryID string    `json:"entryId"`
	LineID  string    `json:"lineId"`
	Patch   LinePatch `json:"patch"`
}

// EventType identifies the payload variant.
func (LineUpdated) EventType() EventType { return EventTypeLineUpdated }

// LineDeleted removes the line identified by LineID.
type LineDeleted struct {
	EntryID string `json:"entryId"`
	LineID  string `json:"lineId"`
}

// EventType identifies the payload variant.
func (LineDeleted) EventType() EventType { return EventTypeLineDeleted }

// SignatureSaved stores the entry's signature image.
type SignatureSaved struct {
	EntryID         string `json:"entryId"`
	SignatureBase64 string `json:"signatureBase64"`
}

// EventType identifies the payload variant.
func (SignatureSaved) EventType() EventType { return EventTypeSignatureSaved }

// SummaryGenerated records the first AI-generated summary and its provider.
type SummaryGenerated struct {
	EntryID  string `json:"entryId"`
	Summary  string `json:"summary"`
	Provider string `json:"provider"`
}

// EventType identifies the payload variant.
func (SummaryGenerated) EventType() EventType { return EventTypeSummaryGenerated }

// SummaryUpdated replaces the AI summary text, keeping the provider.
type SummaryUpdated struct {
	EntryID string `json:"entryId"`
	Summary string `json:"summary"`
}

// EventType identifies the payload variant.
func (SummaryUpdated) EventType() EventType { return EventTypeSummaryUpdated }

// PDFExported marks that the entry was rendered to PDF. Audit only.
type PDFExported struct {
	EntryID           string `json:"entryId"`
	ExportedAtSeconds int64  `json:"exportedAtSeconds"`
}

// EventType identifies the payload variant.
func (PDFExported) EventType() EventType { return EventTypePDFExported }

// DecodePayload parses the payload body for the given event type. Types
// outside the closed set yield ErrUnknownEventType so that replay can log
// and skip them instead of failing.
func DecodePayload(eventType EventType, payload json.RawMessage) (EventPayload, error) {
	switch eventType {
	case EventTypeEntryCreated:
		return decodeInto[EntryCreated](payload)
	case EventTypeLineAdded:
		return decodeInto[LineAdded](payload)
	case EventTypeLineUpdated:
		return decodeInto[LineUpdated](payload)
	case EventTypeLineDeleted:
		return decodeInto[LineDeleted](payload)
	case EventTypeSignatureSaved:
		return decodeInto[SignatureSaved](payload)
	case EventTypeSummaryGenerated:
		return decodeInto[SummaryGenerated](payload)
	case EventTypeSummaryUpdated:
		return decodeInto[SummaryUpdated](payload)
	case EventTypePDFExported:
		return decodeInto[PDFExported](payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
}

func decodeInto[P EventPayload](payload json.RawMessage) (EventPayload, error) {
	var decoded P
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("journal: decode %s payload: %w", decoded.EventType(), err)
	}
	return decoded, nil
}
