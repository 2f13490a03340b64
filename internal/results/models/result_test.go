package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	labmodels "labtrail/internal/laborders/models"
	"labtrail/internal/ownership"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
)

var now = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)

func newResult(t *testing.T) (*Result, *labmodels.LabOrder) {
	t.Helper()
	order := &labmodels.LabOrder{
		ID:          domain.LabOrderID(uuid.New()),
		PatientID:   domain.UserID(uuid.New()),
		ClinicianID: domain.UserID(uuid.New()),
	}
	r, err := NewResult(domain.ResultID(uuid.New()), order, domain.UserID(uuid.New()), Submission{
		LabOrderID:  order.ID,
		ResultText:  " normal ",
		Attachments: []string{"a.pdf", " ", "b.png"},
	}, now)
	require.NoError(t, err)
	return r, order
}

func TestNewResult(t *testing.T) {
	r, order := newResult(t)
	assert.Equal(t, "normal", r.ResultText)
	assert.Equal(t, []string{"a.pdf", "b.png"}, r.Attachments)
	assert.Equal(t, StatusCompleted, r.Status)
	require.NotNil(t, r.CompletedAt)
	assert.Equal(t, now, *r.CompletedAt)

	for _, f := range []ownership.Field{ownership.FieldClinician, ownership.FieldPatient} {
		got, ok := r.Owner(f)
		assert.True(t, ok)
		want, _ := order.Owner(f)
		assert.Equal(t, want, got, "owner %s copied from order", f)
	}

	_, err := NewResult(domain.ResultID(uuid.New()), order, domain.UserID(uuid.New()), Submission{LabOrderID: order.ID}, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestApply(t *testing.T) {
	later := now.Add(time.Hour)
	str := func(s string) *string { return &s }

	t.Run("edits text fields", func(t *testing.T) {
		r, _ := newResult(t)
		atts := []string{"c.pdf"}
		require.NoError(t, r.Apply(Changes{Findings: str("high"), Attachments: &atts}, later))
		assert.Equal(t, "high", r.Findings)
		assert.Equal(t, []string{"c.pdf"}, r.Attachments)
		assert.Equal(t, later, r.UpdatedAt)
	})

	t.Run("rejects empty text without partial writes", func(t *testing.T) {
		r, _ := newResult(t)
		err := r.Apply(Changes{Comments: str("x"), ResultText: str("  ")}, later)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Empty(t, r.Comments)
	})

	t.Run("cannot reopen", func(t *testing.T) {
		r, _ := newResult(t)
		err := r.Apply(Changes{Status: str("pending")}, later)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("cancel is final", func(t *testing.T) {
		r, _ := newResult(t)
		require.NoError(t, r.Apply(Changes{Status: str("cancelled")}, later))
		err := r.Apply(Changes{Findings: str("late")}, later)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}
