package ownership

import "labtrail/pkg/domain"

// Field names an owner relationship on a record.
type Field string

const (
	FieldClinician Field = "clinician"
	FieldLab       Field = "lab"
	FieldPatient   Field = "patient"
	FieldSelf      Field = "self"
)

// Owned is implemented by records that carry owner fields. The bool is false
// when the record has no owner of that kind (an unassigned lab order has no lab).
type Owned interface {
	Owner(f Field) (domain.UserID, bool)
}

type scopeKind int

const (
	scopeNone scopeKind = iota
	scopeAll
	scopeField
)

// Scope restricts a collection to the records a caller may see. The zero value
// matches nothing.
type Scope struct {
	kind  scopeKind
	field Field
	id    domain.UserID
}

func All() Scope  { return Scope{kind: scopeAll} }
func None() Scope { return Scope{kind: scopeNone} }

// OwnedBy matches records whose f owner is id.
func OwnedBy(f Field, id domain.UserID) Scope {
	return Scope{kind: scopeField, field: f, id: id}
}

func (s Scope) IsAll() bool  { return s.kind == scopeAll }
func (s Scope) IsNone() bool { return s.kind == scopeNone }

// Owner returns the field constraint for SQL translation; ok is false for All and None.
func (s Scope) Owner() (Field, domain.UserID, bool) {
	if s.kind != scopeField {
		return "", domain.UserID{}, false
	}
	return s.field, s.id, true
}

// Matches evaluates the scope against one record.
func (s Scope) Matches(rec Owned) bool {
	switch s.kind {
	case scopeAll:
		return true
	case scopeField:
		owner, ok := rec.Owner(s.field)
		return ok && owner == s.id
	default:
		return false
	}
}

// Filter keeps the records of in that s matches, preserving order.
func Filter[T Owned](s Scope, in []T) []T {
	if s.IsNone() {
		return []T{}
	}
	out := make([]T, 0, len(in))
	for _, rec := range in {
		if s.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}
