package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// MemoryStore keeps records in a map. Records are copied on the way in and
// out so callers can never alias stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*pattern.Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*pattern.Record)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*pattern.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*pattern.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*pattern.Record, 0, len(s.records))
	for _, r := range s.records {
		if filter.Match(r) {
			out = append(out, r.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, r *pattern.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("storing pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.BulletID == "" {
		if prev, ok := s.records[r.ID]; ok && prev.BulletID != "" {
			r.BulletID = prev.BulletID
		} else {
			used := make([]string, 0, len(s.records))
			for _, other := range s.records {
				used = append(used, other.BulletID)
			}
			r.BulletID = nextBulletID(pattern.BulletPrefix(r), used)
		}
	}
	s.records[r.ID] = r.Clone()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
