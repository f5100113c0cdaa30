package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store used in tests and local development.
// Same locking discipline as the postgres implementation: Upsert holds the
// write lock across the whole read-modify-write cycle.
type Memory struct {
	mu     sync.RWMutex
	groups map[int64]GroupConfig
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{groups: make(map[int64]GroupConfig)}
}

func (m *Memory) Get(ctx context.Context, groupID int64) (GroupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.groups[groupID]
	if !ok {
		return GroupConfig{}, ErrNotFound
	}
	return cfg.Clone(), nil
}

func (m *Memory) Upsert(ctx context.Context, groupID int64, mutate Mutator) (GroupConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.groups[groupID]
	if !ok {
		cfg = GroupConfig{GroupID: groupID, NotificationsEnabled: true}
	} else {
		cfg = cfg.Clone()
	}

	if err := mutate(&cfg); err != nil {
		return GroupConfig{}, err
	}
	cfg.GroupID = groupID
	cfg.UpdatedAt = time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}
	m.groups[groupID] = cfg.Clone()
	return cfg, nil
}

func (m *Memory) ListWithToken(ctx context.Context) ([]GroupConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []GroupConfig
	for _, cfg := range m.groups {
		if cfg.Configured() && cfg.NotificationsEnabled {
			out = append(out, cfg.Clone())
		}
	}
	return out, nil
}
