package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"labtrail/internal/laborders/models"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
)

// InMemory stores lab orders in a map. Read-modify-write sequences are
// serialized by the caller's tx.Runner, not by this store.
type InMemory struct {
	mu     sync.RWMutex
	orders map[domain.LabOrderID]*models.LabOrder
}

func NewInMemory() *InMemory {
	return &InMemory{orders: make(map[domain.LabOrderID]*models.LabOrder)}
}

func (s *InMemory) Create(_ context.Context, o *models.LabOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("lab order %s: %w", o.ID, sentinel.ErrConflict)
	}
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.LabOrderID) (*models.LabOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("lab order %s: %w", id, sentinel.ErrNotFound)
	}
	return clone(o), nil
}

// List returns matching orders, newest first.
func (s *InMemory) List(_ context.Context, q models.Query) ([]*models.LabOrder, error) {
	out := make([]*models.LabOrder, 0)
	if q.Scope.IsNone() {
		return out, nil
	}
	s.mu.RLock()
	for _, o := range s.orders {
		if q.Matches(o) {
			out = append(out, clone(o))
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

func (s *InMemory) Update(_ context.Context, o *models.LabOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("lab order %s: %w", o.ID, sentinel.ErrNotFound)
	}
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *InMemory) Delete(_ context.Context, id domain.LabOrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return fmt.Errorf("lab order %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.orders, id)
	return nil
}

func clone(o *models.LabOrder) *models.LabOrder {
	c := *o
	if o.LabID != nil {
		lab := *o.LabID
		c.LabID = &lab
	}
	if o.ScheduledAt != nil {
		at := *o.ScheduledAt
		c.ScheduledAt = &at
	}
	if o.CompletedAt != nil {
		at := *o.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
