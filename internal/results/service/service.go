package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"labtrail/internal/access"
	labmodels "labtrail/internal/laborders/models"
	"labtrail/internal/ownership"
	"labtrail/internal/platform/metrics"
	"labtrail/internal/results/models"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/sentinel"
	"labtrail/pkg/platform/tx"
	"labtrail/pkg/requestcontext"
)

// Store persists results.
type Store interface {
	Create(ctx context.Context, r *models.Result) error
	FindByID(ctx context.Context, id domain.ResultID) (*models.Result, error)
	FindByLabOrder(ctx context.Context, orderID domain.LabOrderID) (*models.Result, error)
	List(ctx context.Context, q models.Query) ([]*models.Result, error)
	Update(ctx context.Context, r *models.Result) error
	Delete(ctx context.Context, id domain.ResultID) error
}

// Orders is the slice of the lab order store that result posting needs.
type Orders interface {
	FindByID(ctx context.Context, id domain.LabOrderID) (*labmodels.LabOrder, error)
	Update(ctx context.Context, o *labmodels.LabOrder) error
}

type Authorizer interface {
	Check(ctx context.Context, op access.Operation, identity *domain.Identity) error
}

type Service struct {
	store   Store
	orders  Orders
	tx      tx.Runner
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

// WithTx sets the runner. It must be the runner the lab order service uses so
// assignment and result posting serialize on the same order key.
func WithTx(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(store Store, orders Orders, guard Authorizer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		orders: orders,
		tx:     tx.NewSharded(),
		guard:  guard,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create posts the calling lab's result for an order it is assigned to. The
// result is stored completed and the order is completed in the same unit; a
// second result for the order is a Conflict and changes nothing.
func (s *Service) Create(ctx context.Context, identity *domain.Identity, sub models.Submission) (*models.Result, error) {
	if err := s.guard.Check(ctx, access.OpResultsCreate, identity); err != nil {
		return nil, err
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	var created *models.Result
	err := s.tx.RunInTx(ctx, sub.LabOrderID.String(), func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, sub.LabOrderID)
		if err != nil {
			return ownership.LabOrders.Missing(err)
		}
		if err := ownership.LabOrders.Check(identity, order); err != nil {
			return err
		}
		if _, err := s.store.FindByLabOrder(ctx, order.ID); err == nil {
			return errResultExists
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing result")
		}

		now := requestcontext.Now(ctx)
		if err := order.Complete(identity.ID, now); err != nil {
			return err
		}
		r, err := models.NewResult(domain.ResultID(uuid.New()), order, identity.ID, sub, now)
		if err != nil {
			return err
		}
		if err := s.store.Create(ctx, r); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return errResultExists
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create result")
		}
		if err := s.orders.Update(ctx, order); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete lab order")
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementResultsPosted()
	s.logger.InfoContext(ctx, "result posted",
		"result_id", created.ID.String(),
		"lab_order_id", created.LabOrderID.String(),
		"lab_id", created.LabID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return created, nil
}

var errResultExists = dErrors.New(dErrors.CodeConflict, "result already exists for this lab order")

func (s *Service) List(ctx context.Context, identity *domain.Identity) ([]*models.Result, error) {
	if err := s.guard.Check(ctx, access.OpResultsList, identity); err != nil {
		return nil, err
	}
	return s.list(ctx, models.Query{Scope: ownership.Results.Scope(identity)})
}

// LabPending returns the calling lab's results that are not yet completed.
func (s *Service) LabPending(ctx context.Context, identity *domain.Identity) ([]*models.Result, error) {
	if err := s.guard.Check(ctx, access.OpResultsLabPending, identity); err != nil {
		return nil, err
	}
	return s.list(ctx, models.Query{
		Scope:    ownership.Results.Scope(identity),
		Statuses: []models.Status{models.StatusPending},
	})
}

func (s *Service) LabCompleted(ctx context.Context, identity *domain.Identity) ([]*models.Result, error) {
	if err := s.guard.Check(ctx, access.OpResultsLabCompleted, identity); err != nil {
		return nil, err
	}
	return s.list(ctx, models.Query{
		Scope:    ownership.Results.Scope(identity),
		Statuses: []models.Status{models.StatusCompleted},
	})
}

func (s *Service) list(ctx context.Context, q models.Query) ([]*models.Result, error) {
	results, err := s.store.List(ctx, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list results")
	}
	return results, nil
}

// ByLabOrder returns the results of an order the caller can see. Visibility
// follows the order, so a patient sees results for orders about them.
func (s *Service) ByLabOrder(ctx context.Context, identity *domain.Identity, orderID domain.LabOrderID) ([]*models.Result, error) {
	if err := s.guard.Check(ctx, access.OpResultsByLabOrder, identity); err != nil {
		return nil, err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, ownership.LabOrders.Missing(err)
	}
	if err := ownership.LabOrders.Check(identity, order); err != nil {
		return nil, err
	}
	r, err := s.store.FindByLabOrder(ctx, orderID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return []*models.Result{}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load result")
	}
	return []*models.Result{r}, nil
}

func (s *Service) Get(ctx context.Context, identity *domain.Identity, id domain.ResultID) (*models.Result, error) {
	if err := s.guard.Check(ctx, access.OpResultsGet, identity); err != nil {
		return nil, err
	}
	return s.load(ctx, identity, id)
}

func (s *Service) Update(ctx context.Context, identity *domain.Identity, id domain.ResultID, c models.Changes) (*models.Result, error) {
	if err := s.guard.Check(ctx, access.OpResultsUpdate, identity); err != nil {
		return nil, err
	}
	var updated *models.Result
	err := s.tx.RunInTx(ctx, id.String(), func(ctx context.Context) error {
		r, err := s.load(ctx, identity, id)
		if err != nil {
			return err
		}
		if err := ownership.Results.Capability(identity, ownership.MutationUpdate); err != nil {
			return err
		}
		if err := r.Apply(c, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.store.Update(ctx, r); err != nil {
			return ownership.Results.Missing(err)
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a result. The parent order stays completed, so no second
// result can be posted for it.
func (s *Service) Delete(ctx context.Context, identity *domain.Identity, id domain.ResultID) error {
	if err := s.guard.Check(ctx, access.OpResultsDelete, identity); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, id.String(), func(ctx context.Context) error {
		if _, err := s.load(ctx, identity, id); err != nil {
			return err
		}
		if err := ownership.Results.Capability(identity, ownership.MutationDelete); err != nil {
			return err
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return ownership.Results.Missing(err)
		}
		s.logger.InfoContext(ctx, "result deleted",
			"result_id", id.String(),
			"deleted_by", identity.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil
	})
}

func (s *Service) load(ctx context.Context, identity *domain.Identity, id domain.ResultID) (*models.Result, error) {
	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, ownership.Results.Missing(err)
	}
	if err := ownership.Results.Check(identity, r); err != nil {
		return nil, err
	}
	return r, nil
}
