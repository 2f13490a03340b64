package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labtrail/internal/ownership"
	"labtrail/internal/results/models"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
	txcontext "labtrail/pkg/platform/tx"
)

var columns = []string{"id", "lab_order_id", "lab_id", "clinician_id", "patient_id", "result_text", "comments", "findings", "recommendations", "attachments", "status", "completed_at", "created_at", "updated_at"}

func newPostgresMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func row(r *models.Result, attachments string) []driver.Value {
	var completedAt driver.Value
	if r.CompletedAt != nil {
		completedAt = *r.CompletedAt
	}
	return []driver.Value{
		r.ID.String(), r.LabOrderID.String(), r.LabID.String(), r.ClinicianID.String(), r.PatientID.String(),
		r.ResultText, "", "", "", attachments, string(r.Status), completedAt, r.CreatedAt, r.UpdatedAt,
	}
}

func TestPostgresCreate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := result(domain.UserID(uuid.New()), now)
	r.CompletedAt = &now

	t.Run("inserts", func(t *testing.T) {
		s, mock := newPostgresMock(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO results")).
			WithArgs(r.ID.String(), r.LabOrderID.String(), r.LabID.String(), r.ClinicianID.String(), r.PatientID.String(),
				"ok", "", "", "", sqlmock.AnyArg(), "completed", now, now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Create(ctx, r))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate order becomes conflict", func(t *testing.T) {
		s, mock := newPostgresMock(t)
		mock.ExpectExec("INSERT INTO results").WillReturnError(&pq.Error{Code: "23505"})

		assert.ErrorIs(t, s.Create(ctx, r), sentinel.ErrConflict)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		s, mock := newPostgresMock(t)
		mock.ExpectExec("INSERT INTO results").WillReturnError(errors.New("timeout"))

		err := s.Create(ctx, r)
		require.Error(t, err)
		assert.NotErrorIs(t, err, sentinel.ErrConflict)
	})
}

func TestPostgresFind(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := result(domain.UserID(uuid.New()), now)
	r.CompletedAt = &now

	t.Run("by id in a transaction locks the row", func(t *testing.T) {
		s, mock := newPostgresMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM results WHERE id = $1 FOR UPDATE")).
			WithArgs(r.ID.String()).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(row(r, `{report.pdf,scan.png}`)...))

		sqlTx, err := s.db.Begin()
		require.NoError(t, err)
		got, err := s.FindByID(txcontext.WithTx(ctx, sqlTx), r.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"report.pdf", "scan.png"}, got.Attachments)
		assert.Equal(t, r.PatientID, got.PatientID)
		require.NotNil(t, got.CompletedAt)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("by lab order", func(t *testing.T) {
		s, mock := newPostgresMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE lab_order_id = $1")).
			WithArgs(r.LabOrderID.String()).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(row(r, `{}`)...))

		got, err := s.FindByLabOrder(ctx, r.LabOrderID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
		assert.NotNil(t, got.Attachments)
		assert.Empty(t, got.Attachments)
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newPostgresMock(t)
		mock.ExpectQuery("FROM results").WillReturnRows(sqlmock.NewRows(columns))

		_, err := s.FindByLabOrder(ctx, r.LabOrderID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestPostgresList(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lab := domain.UserID(uuid.New())
	r := result(lab, now)
	s, mock := newPostgresMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE lab_id = $1 AND status = ANY($2) ORDER BY created_at DESC")).
		WithArgs(lab.String(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row(r, `{a.pdf}`)...))

	got, err := s.List(ctx, models.Query{
		Scope:    ownership.OwnedBy(ownership.FieldLab, lab),
		Statuses: []models.Status{models.StatusCompleted},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a.pdf"}, got[0].Attachments)
	require.NoError(t, mock.ExpectationsWereMet())

	_, _, err = buildList(models.Query{Scope: ownership.OwnedBy(ownership.FieldSelf, lab)})
	assert.Error(t, err)
}

func TestPostgresUpdateDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := result(domain.UserID(uuid.New()), now)
	s, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE results")).
		WithArgs(r.ID.String(), "ok", "", "", "", sqlmock.AnyArg(), "completed", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Update(ctx, r))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM results")).
		WithArgs(r.ID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Delete(ctx, r.ID), sentinel.ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM results WHERE lab_order_id = $1")).
		WithArgs(r.LabOrderID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.NoError(t, s.DeleteByLabOrder(ctx, r.LabOrderID))
	require.NoError(t, mock.ExpectationsWereMet())
}
