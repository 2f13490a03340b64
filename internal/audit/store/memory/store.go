package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"labtrail/internal/audit"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
)

// Store is an append-only in-memory audit store.
type Store struct {
	mu      sync.RWMutex
	entries []audit.Entry
	byID    map[domain.AuditEntryID]int
}

func New() *Store {
	return &Store{byID: make(map[domain.AuditEntryID]int)}
}

func (s *Store) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[entry.ID]; exists {
		return fmt.Errorf("audit entry %s: %w", entry.ID, sentinel.ErrConflict)
	}
	s.byID[entry.ID] = len(s.entries)
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

func (s *Store) FindByID(_ context.Context, id domain.AuditEntryID) (audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return audit.Entry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneEntry(s.entries[idx]), nil
}

func (s *Store) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	out := make([]audit.Entry, 0)
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, cloneEntry(e))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Len reports how many entries have been appended.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// cloneEntry copies the mutable parts so callers cannot edit stored entries.
func cloneEntry(e audit.Entry) audit.Entry {
	if e.ResourceID != nil {
		id := *e.ResourceID
		e.ResourceID = &id
	}
	if e.Metadata != nil {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}
