package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"labtrail/internal/users/models"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
)

// InMemory keeps users in a map guarded by a RWMutex. Email uniqueness is
// enforced under the write lock.
type InMemory struct {
	mu    sync.RWMutex
	users map[domain.UserID]*models.User
}

func NewInMemory() *InMemory {
	return &InMemory{users: make(map[domain.UserID]*models.User)}
}

func (s *InMemory) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, sentinel.ErrConflict)
	}
	if s.emailTakenLocked(u.Email, u.ID) {
		return fmt.Errorf("email %s: %w", u.Email, sentinel.ErrConflict)
	}
	clone := *u
	s.users[u.ID] = &clone
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, sentinel.ErrNotFound)
	}
	clone := *u
	return &clone, nil
}

func (s *InMemory) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("user with email: %w", sentinel.ErrNotFound)
}

// List returns users ordered by creation time, newest first.
func (s *InMemory) List(_ context.Context) ([]*models.User, error) {
	s.mu.RLock()
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		clone := *u
		out = append(out, &clone)
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

func (s *InMemory) Update(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, sentinel.ErrNotFound)
	}
	if s.emailTakenLocked(u.Email, u.ID) {
		return fmt.Errorf("email %s: %w", u.Email, sentinel.ErrConflict)
	}
	clone := *u
	s.users[u.ID] = &clone
	return nil
}

func (s *InMemory) Delete(_ context.Context, id domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.users, id)
	return nil
}

func (s *InMemory) emailTakenLocked(email string, except domain.UserID) bool {
	for id, u := range s.users {
		if id != except && u.Email == email {
			return true
		}
	}
	return false
}
