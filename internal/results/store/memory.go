package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"labtrail/internal/results/models"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
)

// InMemory stores results with a secondary index on lab order. A second
// result for the same order is rejected under the write lock.
type InMemory struct {
	mu      sync.RWMutex
	results map[domain.ResultID]*models.Result
	byOrder map[domain.LabOrderID]domain.ResultID
}

func NewInMemory() *InMemory {
	return &InMemory{
		results: make(map[domain.ResultID]*models.Result),
		byOrder: make(map[domain.LabOrderID]domain.ResultID),
	}
}

func (s *InMemory) Create(_ context.Context, r *models.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[r.ID]; ok {
		return fmt.Errorf("result %s: %w", r.ID, sentinel.ErrConflict)
	}
	if _, ok := s.byOrder[r.LabOrderID]; ok {
		return fmt.Errorf("result for lab order %s: %w", r.LabOrderID, sentinel.ErrConflict)
	}
	s.results[r.ID] = clone(r)
	s.byOrder[r.LabOrderID] = r.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.ResultID) (*models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", id, sentinel.ErrNotFound)
	}
	return clone(r), nil
}

func (s *InMemory) FindByLabOrder(_ context.Context, orderID domain.LabOrderID) (*models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return nil, fmt.Errorf("result for lab order %s: %w", orderID, sentinel.ErrNotFound)
	}
	return clone(s.results[id]), nil
}

// List returns matching results, newest first.
func (s *InMemory) List(_ context.Context, q models.Query) ([]*models.Result, error) {
	out := make([]*models.Result, 0)
	if q.Scope.IsNone() {
		return out, nil
	}
	s.mu.RLock()
	for _, r := range s.results {
		if q.Matches(r) {
			out = append(out, clone(r))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) Update(_ context.Context, r *models.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[r.ID]; !ok {
		return fmt.Errorf("result %s: %w", r.ID, sentinel.ErrNotFound)
	}
	s.results[r.ID] = clone(r)
	return nil
}

func (s *InMemory) Delete(_ context.Context, id domain.ResultID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return fmt.Errorf("result %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.byOrder, r.LabOrderID)
	delete(s.results, id)
	return nil
}

// DeleteByLabOrder removes the order's result if there is one.
func (s *InMemory) DeleteByLabOrder(_ context.Context, orderID domain.LabOrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byOrder[orderID]; ok {
		delete(s.results, id)
		delete(s.byOrder, orderID)
	}
	return nil
}

func clone(r *models.Result) *models.Result {
	c := *r
	c.Attachments = append([]string(nil), r.Attachments...)
	if c.Attachments == nil {
		c.Attachments = []string{}
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
