package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"labtrail/internal/access"
	"labtrail/internal/users/models"
	"labtrail/internal/users/store"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	service   *Service
	clinician *domain.Identity
	lab       *domain.Identity
	patient   *models.User
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(store.NewInMemory(), access.NewGuard(access.WithLogger(logger)), WithLogger(logger))
	s.clinician = &domain.Identity{ID: domain.UserID(uuid.New()), Role: domain.RoleClinician}
	s.lab = &domain.Identity{ID: domain.UserID(uuid.New()), Role: domain.RoleLab}

	p, err := s.service.Register(s.ctx, profile("pat@example.org", "patient"))
	s.Require().NoError(err)
	s.patient = p
}

func profile(email, role string) models.Profile {
	return models.Profile{Email: email, Password: "secret99", FirstName: "Sam", LastName: "Doe", Role: role}
}

func (s *ServiceSuite) TestCreateRequiresClinician() {
	_, err := s.service.Create(s.ctx, s.lab, profile("new@example.org", "lab"))
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	u, err := s.service.Create(s.ctx, s.clinician, profile("new@example.org", "lab"))
	s.Require().NoError(err)
	s.Equal(domain.RoleLab, u.Role)
}

func (s *ServiceSuite) TestDuplicateEmailConflicts() {
	_, err := s.service.Create(s.ctx, s.clinician, profile("PAT@example.org", "patient"))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestListIsClinicianOnly() {
	_, err := s.service.List(s.ctx, s.patient.Identity())
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	users, err := s.service.List(s.ctx, s.clinician)
	s.Require().NoError(err)
	s.Len(users, 1)
}

func (s *ServiceSuite) TestGet() {
	got, err := s.service.Get(s.ctx, s.lab, s.patient.ID)
	s.Require().NoError(err)
	s.Equal(s.patient.Email, got.Email)

	_, err = s.service.Get(s.ctx, s.patient.Identity(), s.patient.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Get(s.ctx, s.clinician, domain.UserID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestUpdate() {
	phone := "+44 20 7946 0000"
	got, err := s.service.Update(s.ctx, s.clinician, s.patient.ID, models.Changes{Phone: &phone})
	s.Require().NoError(err)
	s.Equal(phone, got.Phone)

	bad := "nope"
	_, err = s.service.Update(s.ctx, s.clinician, s.patient.ID, models.Changes{Email: &bad})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.Update(s.ctx, s.lab, s.patient.ID, models.Changes{Phone: &phone})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestDelete() {
	s.Require().NoError(s.service.Delete(s.ctx, s.clinician, s.patient.ID))

	_, err := s.service.Get(s.ctx, s.clinician, s.patient.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	err = s.service.Delete(s.ctx, nil, s.patient.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
