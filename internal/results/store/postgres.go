package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"labtrail/internal/ownership"
	"labtrail/internal/platform/postgres"
	"labtrail/internal/results/models"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
	txcontext "labtrail/pkg/platform/tx"
)

// Postgres persists results. The unique index on lab_order_id backs the
// one-result-per-order rule; a violation surfaces as sentinel.ErrConflict.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) (dbExecutor, bool) {
	if tx, ok := txcontext.From(ctx); ok {
		return tx, true
	}
	return s.db, false
}

const resultColumns = `id, lab_order_id, lab_id, clinician_id, patient_id, result_text, comments, findings, recommendations, attachments, status, completed_at, created_at, updated_at`

var ownerColumns = map[ownership.Field]string{
	ownership.FieldClinician: "clinician_id",
	ownership.FieldLab:       "lab_id",
	ownership.FieldPatient:   "patient_id",
}

func (s *Postgres) Create(ctx context.Context, r *models.Result) error {
	db, _ := s.execer(ctx)
	query := `INSERT INTO results (` + resultColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := db.ExecContext(ctx, query,
		uuid.UUID(r.ID), uuid.UUID(r.LabOrderID), uuid.UUID(r.LabID), uuid.UUID(r.ClinicianID), uuid.UUID(r.PatientID),
		r.ResultText, r.Comments, r.Findings, r.Recommendations, pq.Array(nonNil(r.Attachments)),
		string(r.Status), r.CompletedAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("result for lab order %s: %w", r.LabOrderID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id domain.ResultID) (*models.Result, error) {
	db, inTx := s.execer(ctx)
	query := `SELECT ` + resultColumns + ` FROM results WHERE id = $1`
	if inTx {
		query += ` FOR UPDATE`
	}
	r, err := scanResult(db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", id, sentinel.ErrNotFound)
	}
	return r, err
}

func (s *Postgres) FindByLabOrder(ctx context.Context, orderID domain.LabOrderID) (*models.Result, error) {
	db, _ := s.execer(ctx)
	r, err := scanResult(db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM results WHERE lab_order_id = $1`, uuid.UUID(orderID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result for lab order %s: %w", orderID, sentinel.ErrNotFound)
	}
	return r, err
}

func (s *Postgres) List(ctx context.Context, q models.Query) ([]*models.Result, error) {
	if q.Scope.IsNone() {
		return []*models.Result{}, nil
	}
	query, args, err := buildList(q)
	if err != nil {
		return nil, err
	}
	db, _ := s.execer(ctx)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Result, 0)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func buildList(q models.Query) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	if field, id, ok := q.Scope.Owner(); ok {
		col, known := ownerColumns[field]
		if !known {
			return "", nil, fmt.Errorf("results have no %s owner", field)
		}
		args = append(args, uuid.UUID(id))
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + resultColumns + ` FROM results`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	return b.String(), args, nil
}

func (s *Postgres) Update(ctx context.Context, r *models.Result) error {
	db, _ := s.execer(ctx)
	query := `
		UPDATE results
		SET result_text = $2, comments = $3, findings = $4, recommendations = $5,
		    attachments = $6, status = $7, updated_at = $8
		WHERE id = $1
	`
	res, err := db.ExecContext(ctx, query,
		uuid.UUID(r.ID), r.ResultText, r.Comments, r.Findings, r.Recommendations,
		pq.Array(nonNil(r.Attachments)), string(r.Status), r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update result: %w", err)
	}
	return requireAffected(res, r.ID)
}

func (s *Postgres) Delete(ctx context.Context, id domain.ResultID) error {
	db, _ := s.execer(ctx)
	res, err := db.ExecContext(ctx, `DELETE FROM results WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	return requireAffected(res, id)
}

// DeleteByLabOrder removes the order's result if there is one.
func (s *Postgres) DeleteByLabOrder(ctx context.Context, orderID domain.LabOrderID) error {
	db, _ := s.execer(ctx)
	if _, err := db.ExecContext(ctx, `DELETE FROM results WHERE lab_order_id = $1`, uuid.UUID(orderID)); err != nil {
		return fmt.Errorf("delete result for lab order: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, id domain.ResultID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("result %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*models.Result, error) {
	var (
		r                      models.Result
		id, orderID, labID     uuid.UUID
		clinicianID, patientID uuid.UUID
		status                 string
		completedAt            sql.NullTime
	)
	err := row.Scan(&id, &orderID, &labID, &clinicianID, &patientID,
		&r.ResultText, &r.Comments, &r.Findings, &r.Recommendations, pq.Array(&r.Attachments),
		&status, &completedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}
	r.ID = domain.ResultID(id)
	r.LabOrderID = domain.LabOrderID(orderID)
	r.LabID = domain.UserID(labID)
	r.ClinicianID = domain.UserID(clinicianID)
	r.PatientID = domain.UserID(patientID)
	r.Status = models.Status(status)
	r.Attachments = nonNil(r.Attachments)
	if completedAt.Valid {
		at := completedAt.Time
		r.CompletedAt = &at
	}
	return &r, nil
}
