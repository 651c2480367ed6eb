package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"actions/pkg/platform/sentinel"
)

// MemoryStore is an in-memory outbox for unit tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]*Entry)}
}

// Add queues a notification. Test seam standing in for the transactional
// write the action store performs in Postgres.
func (s *MemoryStore) Add(n Notification, now time.Time) (uuid.UUID, error) {
	payload, err := EncodePayload(n)
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.entries[id] = &Entry{
		ID:            id,
		ActionID:      n.ActionID,
		Payload:       payload,
		Status:        StatusQueued,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	return id, nil
}

func (s *MemoryStore) FetchBatch(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []Entry
	for _, entry := range s.entries {
		if entry.Status == StatusQueued && !entry.NextAttemptAt.After(now) {
			due = append(due, *entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("outbox entry %s: %w", id, sentinel.ErrNotFound)
	}
	entry.Status = StatusPublished
	publishedAt := at
	entry.PublishedAt = &publishedAt
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("outbox entry %s: %w", id, sentinel.ErrNotFound)
	}
	entry.Attempts++
	entry.NextAttemptAt = nextAttemptAt
	return nil
}

func (s *MemoryStore) Park(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("outbox entry %s: %w", id, sentinel.ErrNotFound)
	}
	entry.Status = StatusParked
	entry.Attempts++
	return nil
}

func (s *MemoryStore) Requeue(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.Status != StatusParked {
		return fmt.Errorf("parked outbox entry %s: %w", id, sentinel.ErrNotFound)
	}
	entry.Status = StatusQueued
	entry.Attempts = 0
	entry.NextAttemptAt = now
	return nil
}

// Entry returns a copy of the entry with the given ID.
func (s *MemoryStore) Entry(id uuid.UUID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}
