package journal

import (
	"encoding/json"
	"fmt"
)

// DailyEntry is the materialized projection of one day of activity for one
// child. It is a derived cache: the ledger can rebuild it at any time.
type DailyEntry struct {
	EntryID          string `gorm:"column:entry_id;primaryKey;size:190;not null" json:"id"`
	EntryDate        string `gorm:"column:entry_date;size:32;not null;index:idx_daily_entries_date" json:"date"`
	ChildID          string `gorm:"column:child_id;size:190;not null;index" json:"childId"`
	LinesJSON        string `gorm:"column:lines_json;type:text;not null" json:"-"`
	SignatureBase64  string `gorm:"column:signature_b64;type:text" json:"signatureBase64,omitempty"`
	Summary          string `gorm:"column:ai_summary;type:text" json:"aiSummary,omitempty"`
	SummaryProvider  string `gorm:"column:ai_provider;size:64" json:"aiProvider,omitempty"`
	Locked           bool   `gorm:"column:locked;not null;default:false" json:"locked"`
	EmailedAtSeconds *int64 `gorm:"column:emailed_at_s" json:"emailedAtSeconds,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (DailyEntry) TableName() string {
	return "daily_entries"
}

// Lines decodes the entry's activity lines.
func (e *DailyEntry) Lines() ([]ActivityLine, error) {
	if e.LinesJSON == "" {
		return nil, nil
	}
	var lines []ActivityLine
	if err := json.Unmarshal([]byte(e.LinesJSON), &lines); err != nil {
		return nil, fmt.Errorf("journal: decode lines for entry %s: %w", e.EntryID, err)
	}
	return lines, nil
}

// SetLines encodes and stores the entry's activity lines.
func (e *DailyEntry) SetLines(lines []ActivityLine) error {
	if lines == nil {
		lines = []ActivityLine{}
	}
	encoded, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("journal: encode lines for entry %s: %w", e.EntryID, err)
	}
	e.LinesJSON = string(encoded)
	return nil
}
