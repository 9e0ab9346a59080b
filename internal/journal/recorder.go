package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opRecorderNew   = "journal.recorder.new"
	opCreateEntry   = "journal.create_entry"
	opAddLine       = "journal.add_line"
	opUpdateLine    = "journal.update_line"
	opDeleteLine    = "journal.delete_line"
	opSaveSignature = "journal.save_signature"
	opGenSummary    = "journal.generate_summary"
	opSetSummary    = "journal.update_summary"
	opMarkExported  = "journal.mark_exported"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RecorderConfig describes the dependencies of the journal write path.
type RecorderConfig struct {
	Ledger  *Ledger
	Entries *EntryStore
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Recorder is the single write path for journal mutations. Every operation
// appends the event first and only then updates the materialized row, so a
// crash between the two leaves the ledger ahead of the cache, which startup
// recovery detects and repairs.
type Recorder struct {
	ledger  *Ledger
	entries *EntryStore
	clock   func() time.Time
	logger  *zap.Logger
}

// NewRecorder constructs the journal write path.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Ledger == nil {
		return nil, newServiceError(opRecorderNew, "missing_ledger", errors.New("ledger is required"))
	}
	if cfg.Entries == nil {
		return nil, newServiceError(opRecorderNew, "missing_entry_store", errors.New("entry store is required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Recorder{
		ledger:  cfg.Ledger,
		entries: cfg.Entries,
		clock:   clock,
		logger:  logger,
	}, nil
}

// CreateEntry records an ENTRY_CREATED event and materializes the snapshot.
func (r *Recorder) CreateEntry(ctx context.Context, snapshot EntryCreated) (DailyEntry, error) {
	entryID, err := validateEntryID(snapshot.EntryID)
	if err != nil {
		return DailyEntry{}, newServiceError(opCreateEntry, "invalid_entry_id", err)
	}
	snapshot.EntryID = entryID
	if strings.TrimSpace(snapshot.ChildID) == "" {
		return DailyEntry{}, newServiceError(opCreateEntry, "missing_child_id", errors.New("child identifier is required"))
	}
	if strings.TrimSpace(snapshot.Date) == "" {
		return DailyEntry{}, newServiceError(opCreateEntry, "missing_date", errors.New("entry date is required"))
	}
	return r.record(ctx, opCreateEntry, snapshot)
}

// AddLine records a LINE_ADDED event.
func (r *Recorder) AddLine(ctx context.Context, entryID string, line ActivityLine) (DailyEntry, error) {
	entryID, err := validateEntryID(entryID)
	if err != nil {
		return DailyEntry{}, newServiceError(opAddLine, "invalid_entry_id", err)
	}
	lineID, err := validateLineID(line.LineID)
	if err != nil {
		return DailyEntry{}, newServiceError(opAddLine, "invalid_line_id", err)
	}
	line.LineID = lineID
	return r.record(ctx, opAddLine, LineAdded{EntryID: entryID, Line: line})
}

// UpdateLine records a LINE_UPDATED event merging patch fields over the line.
func (r *Recorder) UpdateLine(ctx context.Context, entryID, lineID string, patch LinePatch) (DailyEntry, error) {
	entryID, err := validateEntryID(entryID)
	if err != nil {
		return DailyEntry{}, newServiceError(opUpdateLine, "invalid_entry_id", err)
	}
	lineID, err = validateLineID(lineID)
	if err != nil {
		return DailyEntry{}, newServiceError(opUpdateLine, "invalid_line_id", err)
	}
	return r.record(ctx, opUpdateLine, LineUpdated{EntryID: entryID, LineID: lineID, Patch: patch})
}

// DeleteLine records a LINE_DELETED event.
func (r *Recorder) DeleteLine(ctx context.Context, entryID, lineID string) (DailyEntry, error) {
	entryID, err := validateEntryID(entryID)
	if err != nil {
		return DailyEntry{}, newServiceError(opDeleteLine, "invalid_entry_id", err)
	}
	lineID, err = validateLineID(lineID)
	if err != nil {
		return DailyEntry{}, newServiceError(opDeleteLine, "invalid_line_id", err)
	}
	return r.record(ctx, opDeleteLine, LineDeleted{EntryID: entryID, LineID: lineID})
}

// SaveSignature records a SIGNATURE_SAVED event.
func (r *Recorder) SaveSignature(ctx context.Context, entryID, signatureBase64 string) (DailyEntry, error) {
	entryID, err := validateEntryID(entryID)
	if err != nil {
		return DailyEntry{}, newServiceError(opSaveSignature, "invalid_entry_id", err)
	}
	if signatureBase64 == "" {
		return DailyEntry{}, newServiceError(opSaveSignature, "missing_signature", errors.New("signature image is required"))
	}
	return r.record(ctx, opSaveSignature, SignatureSaved{EntryID: entryID, SignatureBase64: signatureBase64})
}

// GenerateSummary records an AI_SUMMARY_GENERATED event with its provider.
func (r *Recorder) GenerateSummary(ctx context.Context, entryID, summary, provider string) (DailyEntry, error) {
	entryID, err := validateEntryID(entryID)
	if err != nil {
		return DailyEntry{}, newServiceError(opGenSummary, "invalid_entry_id", err)
	}
	return r.record(ctx, opGenSummary, SummaryGenerated{EntryID: entryID, Summary: summary, Provider: provider})
}

// UpdateSummary records an AI_SUMMARY_UPDATED event.
func (r *Recorder) UpdateSummary(ctx context.Context, entryID, summary string) (DailyEntry, error) {
	entryID, err := validateEntryID(entryID)
	if err != nil {
		return DailyEntry{}, newServiceError(opSetSummary, "invalid_entry_id", err)
	}
	return r.record(ctx, opSetSummary, SummaryUpdated{EntryID: entryID, Summary: summary})
}

// MarkExported records a PDF_EXPORTED audit event. No materialized change.
func (r *Recorder) MarkExported(ctx context.Context, entryID string) (Event, error) {
	entryID, err := validateEntryID(entryID)
	if err != nil {
		return Event{}, newServiceError(opMarkExported, "invalid_entry_id", err)
	}
	event, err := r.ledger.Append(ctx, PDFExported{
		EntryID:           entryID,
		ExportedAtSeconds: r.clock().UTC().Unix(),
	})
	if err != nil {
		r.logError(opMarkExported, "append_failed", err, zap.String("entry_id", entryID))
		return Event{}, newServiceError(opMarkExported, "append_failed", err)
	}
	return event, nil
}

// record appends the event, then folds the same payload into the targeted
// materialized row. The fold step is shared with replay, so applying events
// one at a time and replaying the full history agree.
func (r *Recorder) record(ctx context.Context, operation string, payload EventPayload) (DailyEntry, error) {
	entryID := payloadEntryID(payload)

	if _, ok := payload.(EntryCreated); !ok {
		// Mutations must target an existing entry; fail before touching the
		// ledger so no orphan event is appended.
		if _, err := r.entries.Get(ctx, entryID); err != nil {
			r.logError(operation, "entry_lookup_failed", err, zap.String("entry_id", entryID))
			return DailyEntry{}, newServiceError(operation, "entry_lookup_failed", err)
		}
	}

	if _, err := r.ledger.Append(ctx, payload); err != nil {
		r.logError(operation, "append_failed", err, zap.String("entry_id", entryID))
		return DailyEntry{}, newServiceError(operation, "append_failed", err)
	}

	accumulator := newEntryAccumulator(r.logger)
	if _, ok := payload.(EntryCreated); !ok {
		existing, err := r.entries.Get(ctx, entryID)
		if err != nil {
			r.logError(operation, "entry_reload_failed", err, zap.String("entry_id", entryID))
			return DailyEntry{}, newServiceError(operation, "entry_reload_failed", err)
		}
		state, err := stateFromModel(existing)
		if err != nil {
			r.logError(operation, "entry_decode_failed", err, zap.String("entry_id", entryID))
			return DailyEntry{}, newServiceError(operation, "entry_decode_failed", err)
		}
		accumulator.seed(state)
	}
	accumulator.apply(payload)

	state, ok := accumulator.entries[entryID]
	if !ok {
		return DailyEntry{}, newServiceError(operation, "fold_lost_entry", fmt.Errorf("entry %s missing after fold", entryID))
	}
	entry, err := state.toModel()
	if err != nil {
		return DailyEntry{}, newServiceError(operation, "entry_encode_failed", err)
	}
	if err := r.entries.Save(ctx, &entry); err != nil {
		r.logError(operation, "entry_save_failed", err, zap.String("entry_id", entryID))
		return DailyEntry{}, newServiceError(operation, "entry_save_failed", err)
	}
	return entry, nil
}

func payloadEntryID(payload EventPayload) string {
	switch p := payload.(type) {
	case EntryCreated:
		return p.EntryID
	case LineAdded:
		return p.EntryID
	case LineUpdated:
		return p.EntryID
	case LineDeleted:
		return p.EntryID
	case SignatureSaved:
		return p.EntryID
	case SummaryGenerated:
		return p.EntryID
	case SummaryUpdated:
		return p.EntryID
	case PDFExported:
		return p.EntryID
	default:
		return ""
	}
}

func (r *Recorder) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("journal recorder error", attrs...)
}
