package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"labtrail/internal/platform/postgres"
	"labtrail/internal/users/models"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
	txcontext "labtrail/pkg/platform/tx"
)

// Postgres persists users in the users table.
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

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const userColumns = `id, email, password_hash, first_name, last_name, role, phone, active, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, u *models.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(u.ID), u.Email, u.PasswordHash, u.FirstName, u.LastName,
		string(u.Role), u.Phone, u.Active, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id domain.UserID) (*models.User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uuid.UUID(id))
	return scanUser(row)
}

func (s *Postgres) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (s *Postgres) List(ctx context.Context) ([]*models.User, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *Postgres) Update(ctx context.Context, u *models.User) error {
	query := `
		UPDATE users
		SET email = $2, password_hash = $3, first_name = $4, last_name = $5,
		    role = $6, phone = $7, active = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(u.ID), u.Email, u.PasswordHash, u.FirstName, u.LastName,
		string(u.Role), u.Phone, u.Active, u.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, sentinel.ErrConflict)
		}
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(res, u.ID)
}

func (s *Postgres) Delete(ctx context.Context, id domain.UserID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id domain.UserID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var (
		u    models.User
		id   uuid.UUID
		role string
	)
	err := row.Scan(&id, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role, &u.Phone, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.ID = domain.UserID(id)
	u.Role = domain.Role(role)
	return &u, nil
}
