package journal

import (
	"sort"

	"go.uber.org/zap"
)

// entryState is a daily entry with its lines decoded, used while folding
// events. The accumulator owns it; nothing outside a fold call sees it.
type entryState struct {
	EntryID          string
	EntryDate        string
	ChildID          string
	Lines            []ActivityLine
	SignatureBase64  string
	Summary          string
	SummaryProvider  string
	Locked           bool
	EmailedAtSeconds *int64
}

func stateFromModel(entry *DailyEntry) (*entryState, error) {
	lines, err := entry.Lines()
	if err != nil {
		return nil, err
	}
	return &entryState{
		EntryID:          entry.EntryID,
		EntryDate:        entry.EntryDate,
		ChildID:          entry.ChildID,
		Lines:            lines,
		SignatureBase64:  entry.SignatureBase64,
		Summary:          entry.Summary,
		SummaryProvider:  entry.SummaryProvider,
		Locked:           entry.Locked,
		EmailedAtSeconds: entry.EmailedAtSeconds,
	}, nil
}

func (s *entryState) toModel() (DailyEntry, error) {
	entry := DailyEntry{
		EntryID:          s.EntryID,
		EntryDate:        s.EntryDate,
		ChildID:          s.ChildID,
		SignatureBase64:  s.SignatureBase64,
		Summary:          s.Summary,
		SummaryProvider:  s.SummaryProvider,
		Locked:           s.Locked,
		EmailedAtSeconds: s.EmailedAtSeconds,
	}
	if err := entry.SetLines(s.Lines); err != nil {
		return DailyEntry{}, err
	}
	return entry, nil
}

// entryAccumulator folds event payloads into a map keyed by entry id. It is
// local to one replay or one recorded write; the folded snapshot is handed
// out by value.
type entryAccumulator struct {
	entries map[string]*entryState
	logger  *zap.Logger
}

func newEntryAccumulator(logger *zap.Logger) *entryAccumulator {
	if logger == nil {
		logger = noOpLogger
	}
	return &entryAccumulator{
		entries: make(map[string]*entryState),
		logger:  logger,
	}
}

func (a *entryAccumulator) seed(state *entryState) {
	a.entries[state.EntryID] = state
}

// apply folds one payload. Missing targets are tolerated with a log line
// rather than failing the whole fold.
func (a *entryAccumulator) apply(payload EventPayload) {
	switch p := payload.(type) {
	case EntryCreated:
		lines := p.Lines
		if lines == nil {
			lines = []ActivityLine{}
		}
		// Last writer wins on a duplicate create. Should not happen under
		// correct append discipline.
		if _, exists := a.entries[p.EntryID]; exists {
			a.logger.Warn("duplicate entry create, replacing", zap.String("entry_id", p.EntryID))
		}
		a.entries[p.EntryID] = &entryState{
			EntryID:          p.EntryID,
			EntryDate:        p.Date,
			ChildID:          p.ChildID,
			Lines:            lines,
			SignatureBase64:  p.SignatureBase64,
			Summary:          p.Summary,
			SummaryProvider:  p.SummaryProvider,
			Locked:           p.Locked,
			EmailedAtSeconds: p.EmailedAtSeconds,
		}
	case LineAdded:
		entry := a.target(p.EntryID, p.EventType())
		if entry == nil {
			return
		}
		entry.Lines = append(entry.Lines, p.Line)
	case LineUpdated:
		entry := a.target(p.EntryID, p.EventType())
		if entry == nil {
			return
		}
		index := lineIndex(entry.Lines, p.LineID)
		if index < 0 {
			a.logger.Warn("line update target missing",
				zap.String("entry_id", p.EntryID),
				zap.String("line_id", p.LineID))
			return
		}
		entry.Lines[index] = mergeLine(entry.Lines[index], p.Patch)
	case LineDeleted:
		entry := a.target(p.EntryID, p.EventType())
		if entry == nil {
			return
		}
		index := lineIndex(entry.Lines, p.LineID)
		if index < 0 {
			return
		}
		entry.Lines = append(entry.Lines[:index], entry.Lines[index+1:]...)
	case SignatureSaved:
		entry := a.target(p.EntryID, p.EventType())
		if entry == nil {
			return
		}
		entry.SignatureBase64 = p.SignatureBase64
	case SummaryGenerated:
		entry := a.target(p.EntryID, p.EventType())
		if entry == nil {
			return
		}
		entry.Summary = p.Summary
		entry.SummaryProvider = p.Provider
	case SummaryUpdated:
		entry := a.target(p.EntryID, p.EventType())
		if entry == nil {
			return
		}
		entry.Summary = p.Summary
	case PDFExported:
		// Audit marker only.
	default:
		a.logger.Warn("payload variant without fold step", zap.String("event_type", string(payload.EventType())))
	}
}

func (a *entryAccumulator) target(entryID string, eventType EventType) *entryState {
	entry, ok := a.entries[entryID]
	if !ok {
		a.logger.Warn("event target entry missing",
			zap.String("entry_id", entryID),
			zap.String("event_type", string(eventType)))
		return nil
	}
	return entry
}

// snapshot converts the folded map into models in (date, id) order.
func (a *entryAccumulator) snapshot() ([]DailyEntry, error) {
	entries := make([]DailyEntry, 0, len(a.entries))
	for _, state := range a.entries {
		entry, err := state.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EntryDate != entries[j].EntryDate {
			return entries[i].EntryDate < entries[j].EntryDate
		}
		return entries[i].EntryID < entries[j].EntryID
	})
	return entries, nil
}

func lineIndex(lines []ActivityLine, lineID string) int {
	for i := range lines {
		if lines[i].LineID == lineID {
			return i
		}
	}
	return -1
}

func mergeLine(line ActivityLine, patch LinePatch) ActivityLine {
	if patch.GoalCode != nil {
		line.GoalCode = *patch.GoalCode
	}
	if patch.Narrative != nil {
		line.Narrative = *patch.Narrative
	}
	if patch.Activities != nil {
		line.Activities = patch.Activities
	}
	if patch.StartTime != nil {
		line.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		line.EndTime = *patch.EndTime
	}
	if patch.DurationMinutes != nil {
		line.DurationMinutes = *patch.DurationMinutes
	}
	return line
}
