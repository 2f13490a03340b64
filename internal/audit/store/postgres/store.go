package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"labtrail/internal/audit"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/sentinel"
	txcontext "labtrail/pkg/platform/tx"
)

// Store implements audit.Store on the append-only audit_logs table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const selectColumns = `
	SELECT id, user_id, user_role, action, resource_type, resource_id,
		   description, metadata, ip_address, user_agent, endpoint, method,
		   status_code, response_time_ms, timestamp
	FROM audit_logs`

// Append inserts one entry. Rows are never updated.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			id, user_id, user_role, action, resource_type, resource_id,
			description, metadata, ip_address, user_agent, endpoint, method,
			status_code, response_time_ms, timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.ActorID),
		string(entry.ActorRole),
		string(entry.Action),
		string(entry.ResourceType),
		entry.ResourceID,
		entry.Description,
		metadata,
		entry.IPAddress,
		entry.UserAgent,
		entry.Endpoint,
		entry.Method,
		entry.StatusCode,
		entry.ResponseTimeMs,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id domain.AuditEntryID) (audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return audit.Entry{}, fmt.Errorf("query audit entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return audit.Entry{}, err
	}
	if len(entries) == 0 {
		return audit.Entry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	return entries[0], nil
}

// Query translates the filter into a WHERE clause, newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	query, args := buildQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func buildQuery(filter audit.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ActorID != nil {
		add("user_id = $%d", uuid.UUID(*filter.ActorID))
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if !filter.From.IsZero() {
		add("timestamp >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("timestamp <= $%d", filter.To)
	}

	var b strings.Builder
	b.WriteString(selectColumns)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY timestamp DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			entry      audit.Entry
			id, userID uuid.UUID
			role       string
			action     string
			resource   string
			resourceID sql.NullString
			metadata   []byte
		)
		err := rows.Scan(
			&id,
			&userID,
			&role,
			&action,
			&resource,
			&resourceID,
			&entry.Description,
			&metadata,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.Endpoint,
			&entry.Method,
			&entry.StatusCode,
			&entry.ResponseTimeMs,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ID = domain.AuditEntryID(id)
		entry.ActorID = domain.UserID(userID)
		entry.ActorRole = domain.Role(role)
		entry.Action = audit.Action(action)
		entry.ResourceType = audit.ResourceType(resource)
		if resourceID.Valid {
			rid := resourceID.String
			entry.ResourceID = &rid
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

