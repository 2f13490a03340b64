package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labtrail/internal/platform/config"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pgx unique", &pgconn.PgError{Code: "23505"}, true},
		{"pgx wrapped", fmt.Errorf("insert result: %w", &pgconn.PgError{Code: "23505"}), true},
		{"pgx other", &pgconn.PgError{Code: "23503"}, false},
		{"pq unique", &pq.Error{Code: "23505"}, true},
		{"pq other", &pq.Error{Code: "42P01"}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), config.DBConfig{})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.DBConfig{URL: "postgres://x", Driver: "mysql"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestMigrate(t *testing.T) {
	files := []string{"001_users.sql", "002_lab_orders.sql", "003_results.sql", "004_audit_logs.sql"}
	lookup := regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)")

	t.Run("applies pending files in order", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		for i, name := range files {
			applied := i < 2
			mock.ExpectQuery(lookup).WithArgs(name).
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(applied))
			if applied {
				continue
			}
			mock.ExpectBegin()
			mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).WithArgs(name).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()
		}

		require.NoError(t, Migrate(context.Background(), db))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed file rolls back and stops", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(lookup).WithArgs(files[0]).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("permission denied"))
		mock.ExpectRollback()

		err = Migrate(context.Background(), db)
		assert.ErrorContains(t, err, "apply migration 001_users.sql")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
