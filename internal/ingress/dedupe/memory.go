package dedupe

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for unit tests and local development.
type MemoryStore struct {
	mu        sync.Mutex
	processed map[string]bool
	failures  map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processed: make(map[string]bool),
		failures:  make(map[string]int),
	}
}

func (s *MemoryStore) AlreadyProcessed(_ context.Context, sourceMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[sourceMessageID], nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, sourceMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[sourceMessageID] = true
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, sourceMessageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[sourceMessageID]++
	return s.failures[sourceMessageID], nil
}
