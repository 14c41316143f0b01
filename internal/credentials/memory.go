package credentials

import (
	"context"
	"sync"
)

// NewMemoryStore returns a Store that keeps the record in process memory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// MemoryStore implements Store for tests and one-shot invocations.
type MemoryStore struct {
	mu     sync.RWMutex
	record *Record
	saves  int
}

// Load returns the stored record.
func (s *MemoryStore) Load(_ context.Context) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return Record{}, ErrNotFound
	}
	return *s.record, nil
}

// Save replaces the stored record.
func (s *MemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	s.record = &record
	s.saves++
	s.mu.Unlock()
	return nil
}

// Clear drops the stored record.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.record = nil
	s.mu.Unlock()
	return nil
}

// Saves reports how many times Save was called. Useful for tests.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
