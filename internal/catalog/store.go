package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrChildNotFound indicates no child exists for an id.
	ErrChildNotFound = errors.New("catalog: child not found")
	// ErrGoalNotFound indicates no goal exists for a code.
	ErrGoalNotFound = errors.New("catalog: goal not found")

	errMissingDatabase = errors.New("database handle is required")
)

// StoreConfig describes the dependencies of the catalog store.
type StoreConfig struct {
	Database *gorm.DB
}

// Store persists children and goals locally. Both entity kinds mirror to the
// remote store with the same soft-delete contract as daily entries.
type Store struct {
	db *gorm.DB
}

// NewStore constructs the catalog store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: cfg.Database}, nil
}

// SaveChild upserts one child.
func (s *Store) SaveChild(ctx context.Context, child *Child) error {
	if err := s.db.WithContext(ctx).Save(child).Error; err != nil {
		return fmt.Errorf("catalog: save child %s: %w", child.ChildID, err)
	}
	return nil
}

// GetChild returns the child with the given id.
func (s *Store) GetChild(ctx context.Context, childID string) (*Child, error) {
	var child Child
	err := s.db.WithContext(ctx).Where("child_id = ?", childID).Take(&child).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChildNotFound, childID)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load child %s: %w", childID, err)
	}
	return &child, nil
}

// ListChildren returns all children ordered by name.
func (s *Store) ListChildren(ctx context.Context) ([]Child, error) {
	var children []Child
	if err := s.db.WithContext(ctx).Order("name ASC, child_id ASC").Find(&children).Error; err != nil {
		return nil, fmt.Errorf("catalog: list children: %w", err)
	}
	return children, nil
}

// DeleteChild removes one child locally. Remote propagation is the sync
// layer's responsibility.
func (s *Store) DeleteChild(ctx context.Context, childID string) error {
	if err := s.db.WithContext(ctx).Where("child_id = ?", childID).Delete(&Child{}).Error; err != nil {
		return fmt.Errorf("catalog: delete child %s: %w", childID, err)
	}
	return nil
}

// SaveGoal upserts one goal.
func (s *Store) SaveGoal(ctx context.Context, goal *Goal) error {
	if err := s.db.WithContext(ctx).Save(goal).Error; err != nil {
		return fmt.Errorf("catalog: save goal %d: %w", goal.Code, err)
	}
	return nil
}

// GetGoal returns the goal with the given code.
func (s *Store) GetGoal(ctx context.Context, code int) (*Goal, error) {
	var goal Goal
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrGoalNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load goal %d: %w", code, err)
	}
	return &goal, nil
}

// ListGoals returns all goals ordered by ascending code.
func (s *Store) ListGoals(ctx context.Context) ([]Goal, error) {
	var goals []Goal
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&goals).Error; err != nil {
		return nil, fmt.Errorf("catalog: list goals: %w", err)
	}
	return goals, nil
}

// DeleteGoal removes one goal locally.
func (s *Store) DeleteGoal(ctx context.Context, code int) error {
	if err := s.db.WithContext(ctx).Where("code = ?", code).Delete(&Goal{}).Error; err != nil {
		return fmt.Errorf("catalog: delete goal %d: %w", code, err)
	}
	return nil
}
