// Package cloudsync reconciles local materialized rows with the remote
// relational store, one user and one entity kind at a time. Pushes are
// whole-row last-write-wins upserts that always resurrect soft-deleted rows;
// pulls only see rows that are not tombstoned. There is no delta sync and no
// automatic retry; failures surface to the caller and local state remains
// the valid fallback.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	// ErrMissingUserID indicates a reconciliation call without an identity.
	ErrMissingUserID = errors.New("cloudsync: user identifier is required")

	errMissingQuerier = errors.New("remote querier is required")

	noOpLogger = zap.NewNop()

	// psql builds statements with Postgres dollar placeholders.
	psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
)

// RemoteError reports a failed remote operation with enough detail for the
// caller to decide whether to retry. The syncer itself never retries.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("cloudsync: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

func remoteError(op string, err error) error {
	return &RemoteError{Op: op, Err: err}
}

// Querier is the subset of pgx pool behavior the syncer needs. Satisfied by
// *pgxpool.Pool in production and pgxmock in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SyncerConfig describes the dependencies of the reconciliation layer.
type SyncerConfig struct {
	Remote Querier
	Clock  func() time.Time
	Logger *zap.Logger
}

// Syncer pushes and pulls per-user rows against the remote store.
type Syncer struct {
	remote Querier
	clock  func() time.Time
	logger *zap.Logger
}

// NewSyncer constructs the reconciliation layer.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if cfg.Remote == nil {
		return nil, errMissingQuerier
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Syncer{remote: cfg.Remote, clock: clock, logger: logger}, nil
}

// Connect opens a pgx connection pool against the remote store.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("cloudsync: remote database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("cloudsync: open remote pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cloudsync: ping remote store: %w", err)
	}
	return pool, nil
}

func validateUserID(userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", ErrMissingUserID
	}
	return trimmed, nil
}
