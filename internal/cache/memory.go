package cache

import (
	"context"
	"sync"
)

// MemoryVersionStore is a process-local VersionStore for tests and
// single-node runs.
type MemoryVersionStore struct {
	mu       sync.Mutex
	versions map[string]int64
}

func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{versions: make(map[string]int64)}
}

func (s *MemoryVersionStore) GetVersion(_ context.Context, namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[namespace]
	if !ok {
		s.versions[namespace] = 1
		return 1, nil
	}
	return v, nil
}

func (s *MemoryVersionStore) BumpVersion(_ context.Context, namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[namespace]
	if !ok {
		v = 1
	}
	v++
	s.versions[namespace] = v
	return v, nil
}
