package audit_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"labtrail/internal/access"
	"labtrail/internal/audit"
	"labtrail/internal/audit/mocks"
	auditmemory "labtrail/internal/audit/store/memory"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	store     *auditmemory.Store
	service   *audit.Service
	clinician *domain.Identity
	lab       *domain.Identity
	patient   *domain.Identity
	base      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = auditmemory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = audit.NewService(s.store, access.NewGuard(access.WithLogger(logger)), audit.WithServiceLogger(logger))
	s.clinician = &domain.Identity{ID: domain.UserID(uuid.New()), Role: domain.RoleClinician}
	s.lab = &domain.Identity{ID: domain.UserID(uuid.New()), Role: domain.RoleLab}
	s.patient = &domain.Identity{ID: domain.UserID(uuid.New()), Role: domain.RolePatient}
	s.base = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) seed(actor *domain.Identity, action audit.Action, rt audit.ResourceType, resourceID string, at time.Time) audit.Entry {
	e := audit.Entry{
		ID:           domain.AuditEntryID(uuid.New()),
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Action:       action,
		ResourceType: rt,
		Method:       http.MethodGet,
		Endpoint:     "/",
		StatusCode:   http.StatusOK,
		Timestamp:    at,
	}
	if resourceID != "" {
		e.ResourceID = &resourceID
	}
	s.Require().NoError(s.store.Append(s.ctx, e))
	return e
}

func (s *ServiceSuite) TestOnlyCliniciansReadAuditLogs() {
	s.seed(s.lab, audit.ActionRead, audit.ResourceResult, "", s.base)

	_, err := s.service.List(s.ctx, s.lab)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Mine(s.ctx, s.patient)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Recent(s.ctx, nil, 10)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	entries, err := s.service.List(s.ctx, s.clinician)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *ServiceSuite) TestListIsNewestFirst() {
	older := s.seed(s.lab, audit.ActionRead, audit.ResourceResult, "", s.base)
	newer := s.seed(s.clinician, audit.ActionCreate, audit.ResourceLabOrder, "", s.base.Add(time.Minute))

	entries, err := s.service.List(s.ctx, s.clinician)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(newer.ID, entries[0].ID)
	s.Equal(older.ID, entries[1].ID)
}

func (s *ServiceSuite) TestMineAndByActor() {
	s.seed(s.clinician, audit.ActionCreate, audit.ResourceLabOrder, "", s.base)
	s.seed(s.lab, audit.ActionUpload, audit.ResourceResult, "", s.base)
	s.seed(s.lab, audit.ActionRead, audit.ResourceResult, "", s.base)

	mine, err := s.service.Mine(s.ctx, s.clinician)
	s.Require().NoError(err)
	s.Len(mine, 1)

	byLab, err := s.service.ByActor(s.ctx, s.clinician, s.lab.ID)
	s.Require().NoError(err)
	s.Len(byLab, 2)
	for _, e := range byLab {
		s.Equal(s.lab.ID, e.ActorID)
	}
}

func (s *ServiceSuite) TestByResource() {
	orderID := uuid.NewString()
	s.seed(s.clinician, audit.ActionCreate, audit.ResourceLabOrder, orderID, s.base)
	s.seed(s.lab, audit.ActionAssign, audit.ResourceLabOrder, orderID, s.base)
	s.seed(s.lab, audit.ActionRead, audit.ResourceLabOrder, uuid.NewString(), s.base)

	entries, err := s.service.ByResource(s.ctx, s.clinician, audit.ResourceLabOrder, orderID)
	s.Require().NoError(err)
	s.Len(entries, 2)

	entries, err = s.service.ByResource(s.ctx, s.clinician, audit.ResourceLabOrder, uuid.NewString())
	s.Require().NoError(err)
	s.Empty(entries)
	s.NotNil(entries)

	_, err = s.service.ByResource(s.ctx, s.clinician, audit.ResourceType("widget"), orderID)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.ByResource(s.ctx, s.clinician, audit.ResourceLabOrder, "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestByDateRangeIsInclusive() {
	s.seed(s.lab, audit.ActionRead, audit.ResourceResult, "", s.base)
	s.seed(s.lab, audit.ActionRead, audit.ResourceResult, "", s.base.Add(time.Hour))
	s.seed(s.lab, audit.ActionRead, audit.ResourceResult, "", s.base.Add(2*time.Hour))

	entries, err := s.service.ByDateRange(s.ctx, s.clinician, s.base, s.base.Add(time.Hour))
	s.Require().NoError(err)
	s.Len(entries, 2)

	_, err = s.service.ByDateRange(s.ctx, s.clinician, s.base.Add(time.Hour), s.base)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.ByDateRange(s.ctx, s.clinician, time.Time{}, s.base)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestByAction() {
	s.seed(s.lab, audit.ActionUpload, audit.ResourceResult, "", s.base)
	s.seed(s.lab, audit.ActionRead, audit.ResourceResult, "", s.base)

	entries, err := s.service.ByAction(s.ctx, s.clinician, audit.ActionUpload)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionUpload, entries[0].Action)

	_, err = s.service.ByAction(s.ctx, s.clinician, audit.Action("explode"))
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestRecentLimits() {
	for i := range 5 {
		s.seed(s.lab, audit.ActionRead, audit.ResourceResult, "", s.base.Add(time.Duration(i)*time.Second))
	}

	entries, err := s.service.Recent(s.ctx, s.clinician, 3)
	s.Require().NoError(err)
	s.Len(entries, 3)
	s.Equal(s.base.Add(4*time.Second), entries[0].Timestamp)

	entries, err = s.service.Recent(s.ctx, s.clinician, 0)
	s.Require().NoError(err)
	s.Len(entries, 5)

	entries, err = s.service.Recent(s.ctx, s.clinician, audit.MaxQueryLimit+500)
	s.Require().NoError(err)
	s.Len(entries, 5)

	_, err = s.service.Recent(s.ctx, s.clinician, -1)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestGet() {
	e := s.seed(s.lab, audit.ActionRead, audit.ResourceResult, "", s.base)

	got, err := s.service.Get(s.ctx, s.clinician, e.ID)
	s.Require().NoError(err)
	s.Equal(e.ID, got.ID)

	_, err = s.service.Get(s.ctx, s.clinician, domain.AuditEntryID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Get(s.ctx, s.lab, e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestQueryFailureIsInternal() {
	ctrl := gomock.NewController(s.T())
	querier := mocks.NewMockQuerier(ctrl)
	querier.EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, io.ErrUnexpectedEOF)

	svc := audit.NewService(querier, access.NewGuard(), audit.WithServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := svc.List(s.ctx, s.clinician)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
