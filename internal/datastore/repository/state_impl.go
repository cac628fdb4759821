package repository

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meshchat/liferaft/internal/datastore/entities"
	"github.com/meshchat/liferaft/internal/errors"
)

// stateRepository implements StateRepository over gorm.
type stateRepository struct {
	db *gorm.DB
}

// NewStateRepository creates a StateRepository.
func NewStateRepository(db *gorm.DB) StateRepository {
	return &stateRepository{db: db}
}

func (r *stateRepository) Get(ctx context.Context, key string) (string, error) {
	var entry entities.StateEntry
	if err := r.db.WithContext(ctx).First(&entry, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrStateNotFound
		}
		return "", fmt.Errorf("failed to get state %q: %w", key, err)
	}
	return entry.Value, nil
}

func (r *stateRepository) Set(ctx context.Context, key, value string) error {
	entry := entities.StateEntry{Key: key, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}
	return nil
}

func (r *stateRepository) Delete(ctx context.Context, key string) error {
	if err := r.db.WithContext(ctx).Delete(&entities.StateEntry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to delete state %q: %w", key, err)
	}
	return nil
}

// MemoryStateRepository is an in-memory StateRepository used when the
// sqlite store is unavailable; persistence degrades rather than crashing.
type MemoryStateRepository struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStateRepository creates an empty in-memory StateRepository.
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{values: make(map[string]string)}
}

func (m *MemoryStateRepository) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrStateNotFound
	}
	return v, nil
}

func (m *MemoryStateRepository) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStateRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
