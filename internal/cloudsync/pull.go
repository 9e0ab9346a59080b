package cloudsync

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/MapleGroveLabs/sproutlog/backend/internal/catalog"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/journal"
)

// GetChildren returns the user's live remote children ordered by creation
// time. Tombstoned rows are invisible.
func (s *Syncer) GetChildren(ctx context.Context, userID string) ([]catalog.Child, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return nil, err
	}

	query, args, err := psql.Select("child_id", "name", "center", "teacher").
		From("children").
		Where(squirrel.Eq{"user_id": userID}).
		Where("deleted_at IS NULL").
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, remoteError("get_children.build", err)
	}

	rows, err := s.remote.Query(ctx, query, args...)
	if err != nil {
		s.logError("get_children", err, zap.String("user_id", userID))
		return nil, remoteError("get_children", err)
	}
	defer rows.Close()

	var children []catalog.Child
	for rows.Next() {
		var child catalog.Child
		if err := rows.Scan(&child.ChildID, &child.Name, &child.Center, &child.Teacher); err != nil {
			return nil, remoteError("get_children.scan", err)
		}
		children = append(children, child)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteError("get_children.rows", err)
	}
	return children, nil
}

// GetEntries returns the user's live remote daily entries ordered by
// creation time.
func (s *Syncer) GetEntries(ctx context.Context, userID string) ([]journal.DailyEntry, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return nil, err
	}

	query, args, err := psql.Select("entry_id", "entry_date", "child_id", "lines_json",
		"signature_b64", "ai_summary", "ai_provider", "locked", "emailed_at_s").
		From("daily_entries").
		Where(squirrel.Eq{"user_id": userID}).
		Where("deleted_at IS NULL").
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, remoteError("get_entries.build", err)
	}

	rows, err := s.remote.Query(ctx, query, args...)
	if err != nil {
		s.logError("get_entries", err, zap.String("user_id", userID))
		return nil, remoteError("get_entries", err)
	}
	defer rows.Close()

	var entries []journal.DailyEntry
	for rows.Next() {
		var entry journal.DailyEntry
		if err := rows.Scan(&entry.EntryID, &entry.EntryDate, &entry.ChildID, &entry.LinesJSON,
			&entry.SignatureBase64, &entry.Summary, &entry.SummaryProvider, &entry.Locked,
			&entry.EmailedAtSeconds); err != nil {
			return nil, remoteError("get_entries.scan", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteError("get_entries.rows", err)
	}
	return entries, nil
}

// GetGoals returns the user's live remote goals ordered by ascending code.
func (s *Syncer) GetGoals(ctx context.Context, userID string) ([]catalog.Goal, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return nil, err
	}

	query, args, err := psql.Select("code", "description", "activities_json").
		From("goals").
		Where(squirrel.Eq{"user_id": userID}).
		Where("deleted_at IS NULL").
		OrderBy("code ASC").
		ToSql()
	if err != nil {
		return nil, remoteError("get_goals.build", err)
	}

	rows, err := s.remote.Query(ctx, query, args...)
	if err != nil {
		s.logError("get_goals", err, zap.String("user_id", userID))
		return nil, remoteError("get_goals", err)
	}
	defer rows.Close()

	var goals []catalog.Goal
	for rows.Next() {
		var goal catalog.Goal
		if err := rows.Scan(&goal.Code, &goal.Description, &goal.ActivitiesJSON); err != nil {
			return nil, remoteError("get_goals.scan", err)
		}
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteError("get_goals.rows", err)
	}
	return goals, nil
}

// LastSyncedAt returns the stored watermark, or nil if the user has never
// synced.
func (s *Syncer) LastSyncedAt(ctx context.Context, userID string) (*time.Time, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return nil, err
	}

	query, args, err := psql.Select("last_synced_at").
		From("sync_status").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, remoteError("last_synced_at.build", err)
	}

	var lastSynced time.Time
	err = s.remote.QueryRow(ctx, query, args...).Scan(&lastSynced)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logError("last_synced_at", err, zap.String("user_id", userID))
		return nil, remoteError("last_synced_at", err)
	}
	return &lastSynced, nil
}
