package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labtrail/internal/laborders/models"
	"labtrail/internal/ownership"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
)

func order(clinician, patient domain.UserID, at time.Time) *models.LabOrder {
	return &models.LabOrder{
		ID:          domain.LabOrderID(uuid.New()),
		PatientID:   patient,
		ClinicianID: clinician,
		TestType:    models.TestBlood,
		Status:      models.StatusPending,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestInMemory_ScopedListAcrossPatients(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clinician := domain.UserID(uuid.New())
	patients := []domain.UserID{domain.UserID(uuid.New()), domain.UserID(uuid.New()), domain.UserID(uuid.New())}

	var ofFirst []domain.LabOrderID
	for i := 0; i < 9; i++ {
		o := order(clinician, patients[i%3], base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Create(ctx, o))
		if i%3 == 0 {
			ofFirst = append([]domain.LabOrderID{o.ID}, ofFirst...)
		}
	}

	got, err := s.List(ctx, models.Query{Scope: ownership.OwnedBy(ownership.FieldPatient, patients[0])})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, o := range got {
		assert.Equal(t, patients[0], o.PatientID)
		assert.Equal(t, ofFirst[i], o.ID, "newest first")
	}

	got, err = s.List(ctx, models.Query{Scope: ownership.OwnedBy(ownership.FieldClinician, clinician)})
	require.NoError(t, err)
	assert.Len(t, got, 9)

	got, err = s.List(ctx, models.Query{Scope: ownership.None()})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	o := order(domain.UserID(uuid.New()), domain.UserID(uuid.New()), time.Now())
	require.NoError(t, s.Create(ctx, o))

	lab := domain.UserID(uuid.New())
	o.LabID = &lab

	got, err := s.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LabID)

	got.LabID = &lab
	require.NoError(t, s.Update(ctx, got))
	*got.LabID = domain.UserID(uuid.New())

	again, err := s.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, lab, *again.LabID)
}

func TestInMemory_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	o := order(domain.UserID(uuid.New()), domain.UserID(uuid.New()), time.Now())
	require.NoError(t, s.Create(ctx, o))

	assert.ErrorIs(t, s.Create(ctx, o), sentinel.ErrConflict)

	missing := domain.LabOrderID(uuid.New())
	_, err := s.FindByID(ctx, missing)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, &models.LabOrder{ID: missing}), sentinel.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, missing), sentinel.ErrNotFound)

	require.NoError(t, s.Delete(ctx, o.ID))
	_, err = s.FindByID(ctx, o.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
