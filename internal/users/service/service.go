package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"labtrail/internal/access"
	"labtrail/internal/ownership"
	"labtrail/internal/platform/metrics"
	"labtrail/internal/users/models"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/sentinel"
	"labtrail/pkg/requestcontext"
)

// Store persists directory entries.
type Store interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id domain.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id domain.UserID) error
}

// Authorizer re-checks the role table inside the service.
type Authorizer interface {
	Check(ctx context.Context, op access.Operation, identity *domain.Identity) error
}

type Service struct {
	store   Store
	guard   Authorizer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, guard Authorizer, opts ...Option) *Service {
	s := &Service{store: store, guard: guard, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds a directory entry on behalf of a clinician.
func (s *Service) Create(ctx context.Context, identity *domain.Identity, p models.Profile) (*models.User, error) {
	if err := s.guard.Check(ctx, access.OpUsersCreate, identity); err != nil {
		return nil, err
	}
	return s.Register(ctx, p)
}

// Register adds a directory entry without an acting identity. Used by the
// public sign-up flow.
func (s *Service) Register(ctx context.Context, p models.Profile) (*models.User, error) {
	u, err := models.NewUser(domain.UserID(uuid.New()), p, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, u); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "email is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	s.metrics.IncrementUsersCreated()
	s.logger.InfoContext(ctx, "user created",
		"user_id", u.ID.String(),
		"role", u.Role.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return u, nil
}

// List returns the users the caller may see.
func (s *Service) List(ctx context.Context, identity *domain.Identity) ([]*models.User, error) {
	if err := s.guard.Check(ctx, access.OpUsersList, identity); err != nil {
		return nil, err
	}
	scope := ownership.Users.Scope(identity)
	if scope.IsNone() {
		return []*models.User{}, nil
	}
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list users")
	}
	return ownership.Filter(scope, all), nil
}

func (s *Service) Get(ctx context.Context, identity *domain.Identity, id domain.UserID) (*models.User, error) {
	if err := s.guard.Check(ctx, access.OpUsersGet, identity); err != nil {
		return nil, err
	}
	return s.load(ctx, identity, id)
}

// Update applies a partial change. Only clinicians may edit the directory.
func (s *Service) Update(ctx context.Context, identity *domain.Identity, id domain.UserID, c models.Changes) (*models.User, error) {
	if err := s.guard.Check(ctx, access.OpUsersUpdate, identity); err != nil {
		return nil, err
	}
	u, err := s.load(ctx, identity, id)
	if err != nil {
		return nil, err
	}
	if err := ownership.Users.Capability(identity, ownership.MutationUpdate); err != nil {
		return nil, err
	}
	if err := u.Apply(c, requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, u); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "email is already registered")
		}
		return nil, ownership.Users.Missing(err)
	}
	return u, nil
}

func (s *Service) Delete(ctx context.Context, identity *domain.Identity, id domain.UserID) error {
	if err := s.guard.Check(ctx, access.OpUsersDelete, identity); err != nil {
		return err
	}
	if _, err := s.load(ctx, identity, id); err != nil {
		return err
	}
	if err := ownership.Users.Capability(identity, ownership.MutationDelete); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return ownership.Users.Missing(err)
	}
	s.logger.InfoContext(ctx, "user deleted",
		"user_id", id.String(),
		"deleted_by", identity.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

func (s *Service) load(ctx context.Context, identity *domain.Identity, id domain.UserID) (*models.User, error) {
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, ownership.Users.Missing(err)
	}
	if err := ownership.Users.Check(identity, u); err != nil {
		return nil, err
	}
	return u, nil
}
