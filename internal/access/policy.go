package access

import "labtrail/pkg/domain"

// Operation names one protected entry point.
type Operation string

const (
	OpUsersCreate Operation = "users.create"
	OpUsersList   Operation = "users.list"
	OpUsersGet    Operation = "users.get"
	OpUsersUpdate Operation = "users.update"
	OpUsersDelete Operation = "users.delete"

	OpAuthRegister Operation = "auth.register"
	OpAuthLogin    Operation = "auth.login"
	OpAuthProfile  Operation = "auth.profile"

	OpLabOrdersCreate      Operation = "lab_orders.create"
	OpLabOrdersList        Operation = "lab_orders.list"
	OpLabOrdersGet         Operation = "lab_orders.get"
	OpLabOrdersUpdate      Operation = "lab_orders.update"
	OpLabOrdersDelete      Operation = "lab_orders.delete"
	OpLabOrdersAssign      Operation = "lab_orders.assign"
	OpLabOrdersLabPending  Operation = "lab_orders.lab_pending"
	OpLabOrdersLabInReview Operation = "lab_orders.lab_in_review"

	OpResultsCreate       Operation = "results.create"
	OpResultsList         Operation = "results.list"
	OpResultsGet          Operation = "results.get"
	OpResultsByLabOrder   Operation = "results.by_lab_order"
	OpResultsUpdate       Operation = "results.update"
	OpResultsDelete       Operation = "results.delete"
	OpResultsLabPending   Operation = "results.lab_pending"
	OpResultsLabCompleted Operation = "results.lab_completed"

	OpAuditLogsList       Operation = "audit_logs.list"
	OpAuditLogsGet        Operation = "audit_logs.get"
	OpAuditLogsMine       Operation = "audit_logs.mine"
	OpAuditLogsByActor    Operation = "audit_logs.by_actor"
	OpAuditLogsByResource Operation = "audit_logs.by_resource"
	OpAuditLogsByDate     Operation = "audit_logs.by_date_range"
	OpAuditLogsByAction   Operation = "audit_logs.by_action"
	OpAuditLogsRecent     Operation = "audit_logs.recent"
)

var (
	clinicianOnly = []domain.Role{domain.RoleClinician}
	labOnly       = []domain.Role{domain.RoleLab}
	everyRole     = []domain.Role{domain.RoleClinician, domain.RoleLab, domain.RolePatient}
)

// policy is the static role table. Operations absent from the table, or mapped
// to an empty set, are open to any caller (including anonymous ones). Lab order
// and result reads and mutations are open at this layer; ownership and
// capability rules narrow them per record.
var policy = map[Operation][]domain.Role{
	OpUsersCreate: clinicianOnly,
	OpUsersList:   clinicianOnly,
	OpUsersGet:    {domain.RoleClinician, domain.RoleLab},
	OpUsersUpdate: clinicianOnly,
	OpUsersDelete: clinicianOnly,

	OpAuthRegister: nil,
	OpAuthLogin:    nil,
	OpAuthProfile:  everyRole,

	OpLabOrdersCreate:      clinicianOnly,
	OpLabOrdersList:        everyRole,
	OpLabOrdersGet:         everyRole,
	OpLabOrdersUpdate:      everyRole,
	OpLabOrdersDelete:      everyRole,
	OpLabOrdersAssign:      everyRole,
	OpLabOrdersLabPending:  labOnly,
	OpLabOrdersLabInReview: labOnly,

	OpResultsCreate:       labOnly,
	OpResultsList:         everyRole,
	OpResultsGet:          everyRole,
	OpResultsByLabOrder:   everyRole,
	OpResultsUpdate:       everyRole,
	OpResultsDelete:       everyRole,
	OpResultsLabPending:   labOnly,
	OpResultsLabCompleted: labOnly,

	OpAuditLogsList:       clinicianOnly,
	OpAuditLogsGet:        clinicianOnly,
	OpAuditLogsMine:       clinicianOnly,
	OpAuditLogsByActor:    clinicianOnly,
	OpAuditLogsByResource: clinicianOnly,
	OpAuditLogsByDate:     clinicianOnly,
	OpAuditLogsByAction:   clinicianOnly,
	OpAuditLogsRecent:     clinicianOnly,
}

// AllowedRoles returns a copy of the roles permitted to run op.
// An empty result means the operation is public.
func AllowedRoles(op Operation) []domain.Role {
	roles := policy[op]
	if len(roles) == 0 {
		return nil
	}
	out := make([]domain.Role, len(roles))
	copy(out, roles)
	return out
}
