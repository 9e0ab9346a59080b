package journal

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// RecoveryConfig describes the dependencies of the startup recovery check.
type RecoveryConfig struct {
	Ledger   *Ledger
	Entries  *EntryStore
	Replayer *Replayer
	Logger   *zap.Logger
}

// Recovery decides at startup whether the materialized store must be rebuilt
// from the ledger. It must run before anything else reads materialized state.
type Recovery struct {
	ledger   *Ledger
	entries  *EntryStore
	replayer *Replayer
	logger   *zap.Logger
}

// NewRecovery constructs the recovery policy.
func NewRecovery(cfg RecoveryConfig) (*Recovery, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.Entries == nil {
		return nil, errors.New("entry store is required")
	}
	if cfg.Replayer == nil {
		return nil, errors.New("replayer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Recovery{
		ledger:   cfg.Ledger,
		entries:  cfg.Entries,
		replayer: cfg.Replayer,
		logger:   logger,
	}, nil
}

// EnsureConsistent compares ledger and materialized cardinalities and
// replays when the cache is missing its history. Replay failure propagates:
// the application must refuse to start on an untrusted store.
func (r *Recovery) EnsureConsistent(ctx context.Context) error {
	ledgerCount, err := r.ledger.Count(ctx)
	if err != nil {
		return err
	}
	entryCount, err := r.entries.Count(ctx)
	if err != nil {
		return err
	}

	switch {
	case ledgerCount == 0 && entryCount == 0:
		r.logger.Debug("fresh install, nothing to recover")
		return nil
	case ledgerCount > 0 && entryCount == 0:
		r.logger.Info("materialized entries missing, replaying ledger",
			zap.Int64("ledger_events", ledgerCount))
		_, err := r.replayer.Replay(ctx)
		return err
	case ledgerCount == 0 && entryCount > 0:
		// Tolerated anomaly: entries without history cannot be rebuilt, but
		// they are not treated as corruption.
		r.logger.Warn("materialized entries present without ledger history",
			zap.Int64("entries", entryCount))
		return nil
	default:
		return nil
	}
}
