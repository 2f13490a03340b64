package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "labtrail/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so the compiler rejects passing a
// lab order ID where a user ID is expected.
type (
	UserID       uuid.UUID
	LabOrderID   uuid.UUID
	ResultID     uuid.UUID
	AuditEntryID uuid.UUID
)

func parseUUID(s, label string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be nil")
	}
	return u, nil
}

// ParseUserID validates s as a non-nil UUID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParseLabOrderID validates s as a non-nil UUID.
func ParseLabOrderID(s string) (LabOrderID, error) {
	u, err := parseUUID(s, "lab order id")
	return LabOrderID(u), err
}

// ParseResultID validates s as a non-nil UUID.
func ParseResultID(s string) (ResultID, error) {
	u, err := parseUUID(s, "result id")
	return ResultID(u), err
}

// ParseAuditEntryID validates s as a non-nil UUID.
func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID(s, "audit entry id")
	return AuditEntryID(u), err
}

func (id UserID) String() string { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id LabOrderID) String() string { return uuid.UUID(id).String() }
func (id LabOrderID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id LabOrderID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *LabOrderID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ResultID) String() string { return uuid.UUID(id).String() }
func (id ResultID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id ResultID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *ResultID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AuditEntryID) String() string { return uuid.UUID(id).String() }
func (id AuditEntryID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id AuditEntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *AuditEntryID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
