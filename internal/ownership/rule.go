// Package ownership narrows reads and writes to the records a caller is linked to.
//
// Each resource type has a Rule. Scope produces the collection predicate used by
// list queries; Check gates a single record after it has been fetched. A caller
// who is not linked to a record gets the same not-found error as a caller asking
// for a record that does not exist, so ownership never leaks existence.
package ownership

import (
	"errors"
	"fmt"

	"labtrail/internal/access"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/sentinel"
)

// Internal causes behind a NotFound. They stay in the error chain for logs and
// audit metadata; clients only see the message.
var (
	ErrNotFound = errors.New("record does not exist")
	ErrNotOwner = errors.New("caller is not linked to record")
)

// Mutation is a role-gated write on an owned record.
type Mutation string

const (
	MutationUpdate Mutation = "update"
	MutationDelete Mutation = "delete"
	MutationAssign Mutation = "assign"
)

type scopeFunc func(id domain.UserID) Scope

func all(domain.UserID) Scope { return All() }

func owned(f Field) scopeFunc {
	return func(id domain.UserID) Scope { return OwnedBy(f, id) }
}

// Rule is the ownership policy for one resource type.
type Rule struct {
	resource     string
	scopes       map[domain.Role]scopeFunc
	capabilities map[Mutation]domain.Role
}

var (
	LabOrders = Rule{
		resource: "lab order",
		scopes: map[domain.Role]scopeFunc{
			domain.RoleClinician: owned(FieldClinician),
			domain.RoleLab:       owned(FieldLab),
			domain.RolePatient:   owned(FieldPatient),
		},
		capabilities: map[Mutation]domain.Role{
			MutationUpdate: domain.RoleClinician,
			MutationDelete: domain.RoleClinician,
			MutationAssign: domain.RoleClinician,
		},
	}

	Results = Rule{
		resource: "result",
		scopes: map[domain.Role]scopeFunc{
			domain.RoleClinician: owned(FieldClinician),
			domain.RoleLab:       owned(FieldLab),
			domain.RolePatient:   owned(FieldPatient),
		},
		capabilities: map[Mutation]domain.Role{
			MutationUpdate: domain.RoleLab,
			MutationDelete: domain.RoleLab,
		},
	}

	AuditLogs = Rule{
		resource: "audit log",
		scopes: map[domain.Role]scopeFunc{
			domain.RoleClinician: all,
		},
	}

	// Users is the directory. Labs may look any user up; patients only see themselves.
	Users = Rule{
		resource: "user",
		scopes: map[domain.Role]scopeFunc{
			domain.RoleClinician: all,
			domain.RoleLab:       all,
			domain.RolePatient:   owned(FieldSelf),
		},
		capabilities: map[Mutation]domain.Role{
			MutationUpdate: domain.RoleClinician,
			MutationDelete: domain.RoleClinician,
		},
	}
)

// Resource is the singular display name used in error messages.
func (r Rule) Resource() string { return r.resource }

// Scope returns the collection predicate for identity. Anonymous callers and
// roles without an entry get None.
func (r Rule) Scope(identity *domain.Identity) Scope {
	if identity == nil {
		return None()
	}
	fn, ok := r.scopes[identity.Role]
	if !ok {
		return None()
	}
	return fn(identity.ID)
}

// Check gates one fetched record.
func (r Rule) Check(identity *domain.Identity, rec Owned) error {
	if identity == nil {
		return dErrors.New(dErrors.CodeUnauthorized, "User not authenticated")
	}
	if !r.Scope(identity).Matches(rec) {
		return dErrors.Wrap(ErrNotOwner, dErrors.CodeNotFound, r.resource+" not found")
	}
	return nil
}

// Missing translates a store lookup failure. Absent records become the same
// NotFound that Check returns for records the caller is not linked to.
func (r Rule) Missing(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(fmt.Errorf("%w: %w", ErrNotFound, err), dErrors.CodeNotFound, r.resource+" not found")
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+r.resource)
}

// Capability checks the role-level right to apply m, independent of ownership.
// Denials use the access guard's message format.
func (r Rule) Capability(identity *domain.Identity, m Mutation) error {
	role, ok := r.capabilities[m]
	if !ok {
		if identity == nil {
			return dErrors.New(dErrors.CodeUnauthorized, "User not authenticated")
		}
		return dErrors.New(dErrors.CodeForbidden,
			fmt.Sprintf("Access denied. Required roles: none. User role: %s", identity.Role))
	}
	return access.Authorize([]domain.Role{role}, identity).Err()
}
