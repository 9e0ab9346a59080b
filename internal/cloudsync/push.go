package cloudsync

import (
	"context"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/MapleGroveLabs/sproutlog/backend/internal/catalog"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/journal"
)

// EnsureUser makes sure a remote user record exists. Idempotent.
func (s *Syncer) EnsureUser(ctx context.Context, userID string) error {
	userID, err := validateUserID(userID)
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("sync_users").
		Columns("user_id").
		Values(userID).
		Suffix("ON CONFLICT (user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return remoteError("ensure_user.build", err)
	}
	if _, err := s.remote.Exec(ctx, query, args...); err != nil {
		s.logError("ensure_user", err, zap.String("user_id", userID))
		return remoteError("ensure_user", err)
	}
	return nil
}

// SyncChildren upserts every local child for the user. Each row's upsert is
// independently atomic; a mid-list failure leaves earlier rows committed,
// which is safe because re-pushing from the start is idempotent. A push
// always resurrects: the row existing locally means it is live.
func (s *Syncer) SyncChildren(ctx context.Context, userID string, children []catalog.Child) error {
	userID, err := validateUserID(userID)
	if err != nil {
		return err
	}
	if err := s.EnsureUser(ctx, userID); err != nil {
		return err
	}

	for _, child := range children {
		query, args, err := psql.Insert("children").
			Columns("user_id", "child_id", "name", "center", "teacher").
			Values(userID, child.ChildID, child.Name, child.Center, child.Teacher).
			Suffix(`ON CONFLICT (user_id, child_id) DO UPDATE SET
				name = EXCLUDED.name,
				center = EXCLUDED.center,
				teacher = EXCLUDED.teacher,
				updated_at = now(),
				deleted_at = NULL`).
			ToSql()
		if err != nil {
			return remoteError("sync_children.build", err)
		}
		if _, err := s.remote.Exec(ctx, query, args...); err != nil {
			s.logError("sync_children", err,
				zap.String("user_id", userID),
				zap.String("child_id", child.ChildID))
			return remoteError("sync_children", err)
		}
	}

	s.logger.Info("children pushed", zap.String("user_id", userID), zap.Int("rows", len(children)))
	return nil
}

// SyncEntries upserts every local daily entry for the user.
func (s *Syncer) SyncEntries(ctx context.Context, userID string, entries []journal.DailyEntry) error {
	userID, err := validateUserID(userID)
	if err != nil {
		return err
	}
	if err := s.EnsureUser(ctx, userID); err != nil {
		return err
	}

	for _, entry := range entries {
		query, args, err := psql.Insert("daily_entries").
			Columns("user_id", "entry_id", "entry_date", "child_id", "lines_json",
				"signature_b64", "ai_summary", "ai_provider", "locked", "emailed_at_s").
			Values(userID, entry.EntryID, entry.EntryDate, entry.ChildID, entry.LinesJSON,
				entry.SignatureBase64, entry.Summary, entry.SummaryProvider, entry.Locked, entry.EmailedAtSeconds).
			Suffix(`ON CONFLICT (user_id, entry_id) DO UPDATE SET
				entry_date = EXCLUDED.entry_date,
				child_id = EXCLUDED.child_id,
				lines_json = EXCLUDED.lines_json,
				signature_b64 = EXCLUDED.signature_b64,
				ai_summary = EXCLUDED.ai_summary,
				ai_provider = EXCLUDED.ai_provider,
				locked = EXCLUDED.locked,
				emailed_at_s = EXCLUDED.emailed_at_s,
				updated_at = now(),
				deleted_at = NULL`).
			ToSql()
		if err != nil {
			return remoteError("sync_entries.build", err)
		}
		if _, err := s.remote.Exec(ctx, query, args...); err != nil {
			s.logError("sync_entries", err,
				zap.String("user_id", userID),
				zap.String("entry_id", entry.EntryID))
			return remoteError("sync_entries", err)
		}
	}

	s.logger.Info("entries pushed", zap.String("user_id", userID), zap.Int("rows", len(entries)))
	return nil
}

// SyncGoals upserts every local goal for the user, keyed by goal code.
func (s *Syncer) SyncGoals(ctx context.Context, userID string, goals []catalog.Goal) error {
	userID, err := validateUserID(userID)
	if err != nil {
		return err
	}
	if err := s.EnsureUser(ctx, userID); err != nil {
		return err
	}

	for _, goal := range goals {
		query, args, err := psql.Insert("goals").
			Columns("user_id", "code", "description", "activities_json").
			Values(userID, goal.Code, goal.Description, goal.ActivitiesJSON).
			Suffix(`ON CONFLICT (user_id, code) DO UPDATE SET
				description = EXCLUDED.description,
				activities_json = EXCLUDED.activities_json,
				updated_at = now(),
				deleted_at = NULL`).
			ToSql()
		if err != nil {
			return remoteError("sync_goals.build", err)
		}
		if _, err := s.remote.Exec(ctx, query, args...); err != nil {
			s.logError("sync_goals", err,
				zap.String("user_id", userID),
				zap.Int("code", goal.Code))
			return remoteError("sync_goals", err)
		}
	}

	s.logger.Info("goals pushed", zap.String("user_id", userID), zap.Int("rows", len(goals)))
	return nil
}

// SoftDeleteChild tombstones one remote child row. The local hard delete has
// no ledger event, so the boundary propagates it explicitly.
func (s *Syncer) SoftDeleteChild(ctx context.Context, userID, childID string) error {
	return s.softDelete(ctx, "children", "child_id", userID, childID)
}

// SoftDeleteEntry tombstones one remote daily entry row.
func (s *Syncer) SoftDeleteEntry(ctx context.Context, userID, entryID string) error {
	return s.softDelete(ctx, "daily_entries", "entry_id", userID, entryID)
}

// SoftDeleteGoal tombstones one remote goal row.
func (s *Syncer) SoftDeleteGoal(ctx context.Context, userID string, code int) error {
	return s.softDelete(ctx, "goals", "code", userID, code)
}

func (s *Syncer) softDelete(ctx context.Context, table, idColumn, userID string, id any) error {
	userID, err := validateUserID(userID)
	if err != nil {
		return err
	}

	query, args, err := psql.Update(table).
		Set("deleted_at", s.clock().UTC()).
		Set("updated_at", s.clock().UTC()).
		Where(squirrel.Eq{"user_id": userID, idColumn: id}).
		ToSql()
	if err != nil {
		return remoteError("soft_delete.build", err)
	}
	if _, err := s.remote.Exec(ctx, query, args...); err != nil {
		s.logError("soft_delete", err,
			zap.String("user_id", userID),
			zap.String("table", table))
		return remoteError("soft_delete "+table, err)
	}
	return nil
}

// UpdateLastSync records the display watermark. It never drives what is
// synced; every push and pull operates on the full current row set.
func (s *Syncer) UpdateLastSync(ctx context.Context, userID string) error {
	userID, err := validateUserID(userID)
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("sync_status").
		Columns("user_id", "last_synced_at").
		Values(userID, s.clock().UTC()).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET last_synced_at = EXCLUDED.last_synced_at").
		ToSql()
	if err != nil {
		return remoteError("update_last_sync.build", err)
	}
	if _, err := s.remote.Exec(ctx, query, args...); err != nil {
		s.logError("update_last_sync", err, zap.String("user_id", userID))
		return remoteError("update_last_sync", err)
	}
	return nil
}

func (s *Syncer) logError(operation string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)
	s.logger.Error("cloud sync error", attrs...)
}
