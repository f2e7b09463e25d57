package contacts

import (
	"context"
	"maps"
	"sync"

	"github.com/wp4odoo/bridge/internal/module"
)

// MemStore is the in-memory Store used by tests and by deployments that feed
// contact payloads through the enqueue API instead of a host database.
type MemStore struct {
	mu     sync.RWMutex
	nextID uint64
	rows   map[uint64]map[string]any
}

func NewMemStore() *MemStore {
	return &MemStore{nextID: 1, rows: make(map[uint64]map[string]any)}
}

func (s *MemStore) Load(ctx context.Context, localID uint64) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[localID]
	if !ok {
		return nil, module.ErrEntityNotFound
	}
	return maps.Clone(row), nil
}

func (s *MemStore) Save(ctx context.Context, data map[string]any, localID uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if localID == 0 {
		localID = s.nextID
		s.nextID++
	} else if localID >= s.nextID {
		s.nextID = localID + 1
	}
	s.rows[localID] = maps.Clone(data)
	return localID, nil
}

func (s *MemStore) Delete(ctx context.Context, localID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[localID]; !ok {
		return false, nil
	}
	delete(s.rows, localID)
	return true, nil
}
