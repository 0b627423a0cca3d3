// Package credstore provides credential stores for the session coordinator.
package credstore

import (
	"context"
	"sync"

	"github.com/kamui-project/kamui-session/internal/token"
)

// MemoryStore keeps records in process memory. Used for tests and for
// ephemeral sessions that must not touch disk.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*token.Record
	defaultID string
	invalid   bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*token.Record)}
}

// Current returns a copy of the default record
func (s *MemoryStore) Current(_ context.Context) (*token.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.invalid {
		return nil, token.ErrInvalidRecord
	}
	if s.defaultID == "" {
		return nil, nil
	}
	return s.records[s.defaultID].Clone(), nil
}

// Store saves a copy of rec
func (s *MemoryStore) Store(_ context.Context, rec *token.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec.Clone()
	return nil
}

// Remove deletes the record with the given ID
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	if s.defaultID == id {
		s.defaultID = ""
	}
	return nil
}

// SetDefault marks id as the default record; an empty id clears the default
func (s *MemoryStore) SetDefault(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if _, ok := s.records[id]; !ok {
			return ErrRecordNotFound
		}
	}
	s.defaultID = id
	s.invalid = false
	return nil
}

// MarkInvalid makes Current report an unreadable record until the next
// SetDefault. It simulates a corrupted store.
func (s *MemoryStore) MarkInvalid() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalid = true
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
