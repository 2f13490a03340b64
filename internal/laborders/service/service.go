package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"labtrail/internal/access"
	"labtrail/internal/laborders/models"
	"labtrail/internal/ownership"
	"labtrail/internal/platform/metrics"
	usermodels "labtrail/internal/users/models"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/sentinel"
	"labtrail/pkg/platform/tx"
	"labtrail/pkg/requestcontext"
)

// Store persists lab orders.
type Store interface {
	Create(ctx context.Context, o *models.LabOrder) error
	FindByID(ctx context.Context, id domain.LabOrderID) (*models.LabOrder, error)
	List(ctx context.Context, q models.Query) ([]*models.LabOrder, error)
	Update(ctx context.Context, o *models.LabOrder) error
	Delete(ctx context.Context, id domain.LabOrderID) error
}

// Directory resolves the patient and lab users an order refers to.
type Directory interface {
	FindByID(ctx context.Context, id domain.UserID) (*usermodels.User, error)
}

// Results removes the result attached to an order. No result is not an error.
type Results interface {
	DeleteByLabOrder(ctx context.Context, id domain.LabOrderID) error
}

type Authorizer interface {
	Check(ctx context.Context, op access.Operation, identity *domain.Identity) error
}

type Service struct {
	store     Store
	directory Directory
	results   Results
	tx        tx.Runner
	guard     Authorizer
	logger    *slog.Logger
	metrics   *metrics.Metrics
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

// WithTx replaces the default in-process runner. Postgres deployments pass tx.NewSQL.
func WithTx(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

// WithResults deletes an order's result together with the order.
func WithResults(results Results) Option {
	return func(s *Service) {
		s.results = results
	}
}

func New(store Store, directory Directory, guard Authorizer, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		tx:        tx.NewSharded(),
		guard:     guard,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, identity *domain.Identity, d models.Draft) (*models.LabOrder, error) {
	if err := s.guard.Check(ctx, access.OpLabOrdersCreate, identity); err != nil {
		return nil, err
	}
	o, err := models.NewLabOrder(domain.LabOrderID(uuid.New()), identity.ID, d, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, d.PatientID, domain.RolePatient, "patient_id"); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create lab order")
	}
	s.metrics.IncrementLabOrdersCreated()
	s.logger.InfoContext(ctx, "lab order created",
		"lab_order_id", o.ID.String(),
		"clinician_id", o.ClinicianID.String(),
		"patient_id", o.PatientID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return o, nil
}

// List returns the caller's orders: created, assigned, or about them, by role.
func (s *Service) List(ctx context.Context, identity *domain.Identity) ([]*models.LabOrder, error) {
	if err := s.guard.Check(ctx, access.OpLabOrdersList, identity); err != nil {
		return nil, err
	}
	return s.list(ctx, models.Query{Scope: ownership.LabOrders.Scope(identity)})
}

// LabPending returns orders assigned to the calling lab that are on hold.
func (s *Service) LabPending(ctx context.Context, identity *domain.Identity) ([]*models.LabOrder, error) {
	if err := s.guard.Check(ctx, access.OpLabOrdersLabPending, identity); err != nil {
		return nil, err
	}
	return s.list(ctx, models.Query{
		Scope:    ownership.LabOrders.Scope(identity),
		Statuses: []models.Status{models.StatusPending},
	})
}

// LabInReview returns orders the calling lab is working on.
func (s *Service) LabInReview(ctx context.Context, identity *domain.Identity) ([]*models.LabOrder, error) {
	if err := s.guard.Check(ctx, access.OpLabOrdersLabInReview, identity); err != nil {
		return nil, err
	}
	return s.list(ctx, models.Query{
		Scope:    ownership.LabOrders.Scope(identity),
		Statuses: []models.Status{models.StatusInReview},
	})
}

func (s *Service) list(ctx context.Context, q models.Query) ([]*models.LabOrder, error) {
	orders, err := s.store.List(ctx, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list lab orders")
	}
	return orders, nil
}

func (s *Service) Get(ctx context.Context, identity *domain.Identity, id domain.LabOrderID) (*models.LabOrder, error) {
	if err := s.guard.Check(ctx, access.OpLabOrdersGet, identity); err != nil {
		return nil, err
	}
	return s.load(ctx, identity, id)
}

func (s *Service) Update(ctx context.Context, identity *domain.Identity, id domain.LabOrderID, c models.Changes) (*models.LabOrder, error) {
	if err := s.guard.Check(ctx, access.OpLabOrdersUpdate, identity); err != nil {
		return nil, err
	}
	var updated *models.LabOrder
	err := s.tx.RunInTx(ctx, id.String(), func(ctx context.Context) error {
		o, err := s.load(ctx, identity, id)
		if err != nil {
			return err
		}
		if err := ownership.LabOrders.Capability(identity, ownership.MutationUpdate); err != nil {
			return err
		}
		if err := o.Apply(c, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.store.Update(ctx, o); err != nil {
			return ownership.LabOrders.Missing(err)
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, identity *domain.Identity, id domain.LabOrderID) error {
	if err := s.guard.Check(ctx, access.OpLabOrdersDelete, identity); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, id.String(), func(ctx context.Context) error {
		if _, err := s.load(ctx, identity, id); err != nil {
			return err
		}
		if err := ownership.LabOrders.Capability(identity, ownership.MutationDelete); err != nil {
			return err
		}
		if s.results != nil {
			if err := s.results.DeleteByLabOrder(ctx, id); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete lab order result")
			}
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return ownership.LabOrders.Missing(err)
		}
		s.logger.InfoContext(ctx, "lab order deleted",
			"lab_order_id", id.String(),
			"deleted_by", identity.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil
	})
}

// Assign hands the order to a lab user and moves it to in_review in the same unit.
func (s *Service) Assign(ctx context.Context, identity *domain.Identity, id domain.LabOrderID, lab domain.UserID) (*models.LabOrder, error) {
	if err := s.guard.Check(ctx, access.OpLabOrdersAssign, identity); err != nil {
		return nil, err
	}
	if lab.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "lab_id is required")
	}
	var assigned *models.LabOrder
	err := s.tx.RunInTx(ctx, id.String(), func(ctx context.Context) error {
		o, err := s.load(ctx, identity, id)
		if err != nil {
			return err
		}
		if err := ownership.LabOrders.Capability(identity, ownership.MutationAssign); err != nil {
			return err
		}
		if err := s.requireRole(ctx, lab, domain.RoleLab, "lab_id"); err != nil {
			return err
		}
		if err := o.Assign(lab, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.store.Update(ctx, o); err != nil {
			return ownership.LabOrders.Missing(err)
		}
		assigned = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "lab order assigned",
		"lab_order_id", id.String(),
		"lab_id", lab.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return assigned, nil
}

func (s *Service) load(ctx context.Context, identity *domain.Identity, id domain.LabOrderID) (*models.LabOrder, error) {
	o, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, ownership.LabOrders.Missing(err)
	}
	if err := ownership.LabOrders.Check(identity, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) requireRole(ctx context.Context, id domain.UserID, role domain.Role, field string) error {
	u, err := s.directory.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeValidation, field+" does not reference a user")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve "+field)
	}
	if u.Role != role || !u.Active {
		return dErrors.New(dErrors.CodeValidation, field+" must reference an active "+role.String()+" user")
	}
	return nil
}
