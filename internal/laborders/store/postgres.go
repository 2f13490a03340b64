package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"labtrail/internal/laborders/models"
	"labtrail/internal/ownership"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
	txcontext "labtrail/pkg/platform/tx"
)

// Postgres persists lab orders. Inside a transaction FindByID locks the row
// (SELECT ... FOR UPDATE) so assignment and result posting serialize per order.
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

const orderColumns = `id, patient_id, clinician_id, lab_id, test_type, notes, status, scheduled_at, completed_at, created_at, updated_at`

// ownerColumns maps scope fields to lab_orders columns.
var ownerColumns = map[ownership.Field]string{
	ownership.FieldClinician: "clinician_id",
	ownership.FieldLab:       "lab_id",
	ownership.FieldPatient:   "patient_id",
}

func (s *Postgres) Create(ctx context.Context, o *models.LabOrder) error {
	db, _ := s.execer(ctx)
	query := `INSERT INTO lab_orders (` + orderColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := db.ExecContext(ctx, query,
		uuid.UUID(o.ID), uuid.UUID(o.PatientID), uuid.UUID(o.ClinicianID), nullableID(o.LabID),
		string(o.TestType), o.Notes, string(o.Status), o.ScheduledAt, o.CompletedAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lab order: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id domain.LabOrderID) (*models.LabOrder, error) {
	db, inTx := s.execer(ctx)
	query := `SELECT ` + orderColumns + ` FROM lab_orders WHERE id = $1`
	if inTx {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lab order %s: %w", id, sentinel.ErrNotFound)
	}
	return o, err
}

func (s *Postgres) List(ctx context.Context, q models.Query) ([]*models.LabOrder, error) {
	if q.Scope.IsNone() {
		return []*models.LabOrder{}, nil
	}
	query, args, err := buildList(q)
	if err != nil {
		return nil, err
	}
	db, _ := s.execer(ctx)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lab orders: %w", err)
	}
	defer rows.Close()

	out := make([]*models.LabOrder, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lab orders: %w", err)
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
			return "", nil, fmt.Errorf("lab orders have no %s owner", field)
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
	b.WriteString(`SELECT ` + orderColumns + ` FROM lab_orders`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	return b.String(), args, nil
}

func (s *Postgres) Update(ctx context.Context, o *models.LabOrder) error {
	db, _ := s.execer(ctx)
	query := `
		UPDATE lab_orders
		SET lab_id = $2, test_type = $3, notes = $4, status = $5,
		    scheduled_at = $6, completed_at = $7, updated_at = $8
		WHERE id = $1
	`
	res, err := db.ExecContext(ctx, query,
		uuid.UUID(o.ID), nullableID(o.LabID), string(o.TestType), o.Notes, string(o.Status),
		o.ScheduledAt, o.CompletedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update lab order: %w", err)
	}
	return requireAffected(res, o.ID)
}

func (s *Postgres) Delete(ctx context.Context, id domain.LabOrderID) error {
	db, _ := s.execer(ctx)
	res, err := db.ExecContext(ctx, `DELETE FROM lab_orders WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete lab order: %w", err)
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id domain.LabOrderID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lab order %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func nullableID(id *domain.UserID) any {
	if id == nil {
		return nil
	}
	return uuid.UUID(*id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*models.LabOrder, error) {
	var (
		o                          models.LabOrder
		id, patientID, clinicianID uuid.UUID
		labID                      uuid.NullUUID
		testType, status           string
		scheduledAt, completedAt   sql.NullTime
	)
	err := row.Scan(&id, &patientID, &clinicianID, &labID, &testType, &o.Notes, &status,
		&scheduledAt, &completedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan lab order: %w", err)
	}
	o.ID = domain.LabOrderID(id)
	o.PatientID = domain.UserID(patientID)
	o.ClinicianID = domain.UserID(clinicianID)
	if labID.Valid {
		lab := domain.UserID(labID.UUID)
		o.LabID = &lab
	}
	o.TestType = models.TestType(testType)
	o.Status = models.Status(status)
	if scheduledAt.Valid {
		at := scheduledAt.Time
		o.ScheduledAt = &at
	}
	if completedAt.Valid {
		at := completedAt.Time
		o.CompletedAt = &at
	}
	return &o, nil
}
