package audit

import (
	"context"
	"log/slog"
	"time"

	"labtrail/internal/access"
	"labtrail/internal/ownership"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
)

// Authorizer re-checks the role table inside the service.
type Authorizer interface {
	Check(ctx context.Context, op access.Operation, identity *domain.Identity) error
}

// Service is the read side of the audit trail.
type Service struct {
	store  Querier
	guard  Authorizer
	logger *slog.Logger
}

type ServiceOption func(*Service)

func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store Querier, guard Authorizer, opts ...ServiceOption) *Service {
	s := &Service{store: store, guard: guard, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ownedEntry presents an entry to the AuditLogs rule. Entries carry no owner
// fields; the rule admits clinicians to all of them and nobody else.
type ownedEntry struct{}

func (ownedEntry) Owner(ownership.Field) (domain.UserID, bool) { return domain.UserID{}, false }

// Get returns one entry by id.
func (s *Service) Get(ctx context.Context, identity *domain.Identity, id domain.AuditEntryID) (*Entry, error) {
	if err := s.guard.Check(ctx, access.OpAuditLogsGet, identity); err != nil {
		return nil, err
	}
	entry, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, ownership.AuditLogs.Missing(err)
	}
	if err := ownership.AuditLogs.Check(identity, ownedEntry{}); err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns every entry, newest first.
func (s *Service) List(ctx context.Context, identity *domain.Identity) ([]Entry, error) {
	return s.query(ctx, access.OpAuditLogsList, identity, Filter{})
}

// Mine returns the caller's own entries.
func (s *Service) Mine(ctx context.Context, identity *domain.Identity) ([]Entry, error) {
	if identity == nil {
		return s.query(ctx, access.OpAuditLogsMine, identity, Filter{})
	}
	actor := identity.ID
	return s.query(ctx, access.OpAuditLogsMine, identity, Filter{ActorID: &actor})
}

// ByActor returns entries written for one actor.
func (s *Service) ByActor(ctx context.Context, identity *domain.Identity, actor domain.UserID) ([]Entry, error) {
	return s.query(ctx, access.OpAuditLogsByActor, identity, Filter{ActorID: &actor})
}

// ByResource returns entries about one resource. The id does not have to refer
// to a live record.
func (s *Service) ByResource(ctx context.Context, identity *domain.Identity, rt ResourceType, resourceID string) ([]Entry, error) {
	if _, err := ParseResourceType(string(rt)); err != nil {
		return nil, err
	}
	if resourceID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "resource id is required")
	}
	return s.query(ctx, access.OpAuditLogsByResource, identity, Filter{ResourceType: rt, ResourceID: resourceID})
}

// ByDateRange returns entries with from <= timestamp <= to.
func (s *Service) ByDateRange(ctx context.Context, identity *domain.Identity, from, to time.Time) ([]Entry, error) {
	if from.IsZero() || to.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "start and end are required")
	}
	if to.Before(from) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "end must not be before start")
	}
	return s.query(ctx, access.OpAuditLogsByDate, identity, Filter{From: from, To: to})
}

// ByAction returns entries with the given action.
func (s *Service) ByAction(ctx context.Context, identity *domain.Identity, action Action) ([]Entry, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}
	return s.query(ctx, access.OpAuditLogsByAction, identity, Filter{Action: action})
}

// Recent returns the newest limit entries. Zero means DefaultRecentLimit.
func (s *Service) Recent(ctx context.Context, identity *domain.Identity, limit int) ([]Entry, error) {
	switch {
	case limit == 0:
		limit = DefaultRecentLimit
	case limit < 0:
		return nil, dErrors.New(dErrors.CodeBadRequest, "limit must be positive")
	case limit > MaxQueryLimit:
		limit = MaxQueryLimit
	}
	return s.query(ctx, access.OpAuditLogsRecent, identity, Filter{Limit: limit})
}

func (s *Service) query(ctx context.Context, op access.Operation, identity *domain.Identity, filter Filter) ([]Entry, error) {
	if err := s.guard.Check(ctx, op, identity); err != nil {
		return nil, err
	}
	if ownership.AuditLogs.Scope(identity).IsNone() {
		return []Entry{}, nil
	}
	entries, err := s.store.Query(ctx, filter)
	if err != nil {
		s.logger.ErrorContext(ctx, "audit query failed", "error", err, "operation", string(op))
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query audit logs")
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
