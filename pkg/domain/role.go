package domain

import (
	"strings"

	dErrors "labtrail/pkg/domain-errors"
)

// Role is the closed set of caller kinds.
type Role string

const (
	RoleClinician Role = "clinician"
	RoleLab       Role = "lab"
	RolePatient   Role = "patient"
)

// roleAliases accepts legacy spellings at the trust boundary.
var roleAliases = map[string]Role{
	"clinician": RoleClinician,
	"doctor":    RoleClinician,
	"lab":       RoleLab,
	"patient":   RolePatient,
}

// ParseRole normalizes s to a Role. "doctor" is accepted as a clinician.
func ParseRole(s string) (Role, error) {
	r, ok := roleAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleClinician, RoleLab, RolePatient:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// AllRoles lists every role in a stable order.
func AllRoles() []Role {
	return []Role{RoleClinician, RoleLab, RolePatient}
}
