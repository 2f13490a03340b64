package audit

import (
	"time"

	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
)

// Action is what an audited operation did.
type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionLogin    Action = "login"
	ActionRegister Action = "register"
	ActionAssign   Action = "assign"
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
)

var actions = map[Action]struct{}{
	ActionCreate: {}, ActionRead: {}, ActionUpdate: {}, ActionDelete: {}, ActionLogin: {},
	ActionRegister: {}, ActionAssign: {}, ActionUpload: {}, ActionDownload: {},
}

// ParseAction validates s as a known action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := actions[a]; !ok {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown audit action")
	}
	return a, nil
}

// ResourceType is the kind of record an audited operation touched.
type ResourceType string

const (
	ResourceUser     ResourceType = "user"
	ResourceLabOrder ResourceType = "lab_order"
	ResourceResult   ResourceType = "result"
	ResourceAuditLog ResourceType = "audit_log"
	ResourceAuth     ResourceType = "auth"
)

var resourceTypes = map[ResourceType]struct{}{
	ResourceUser: {}, ResourceLabOrder: {}, ResourceResult: {}, ResourceAuditLog: {}, ResourceAuth: {},
}

// ParseResourceType validates s as a known resource type.
func ParseResourceType(s string) (ResourceType, error) {
	rt := ResourceType(s)
	if _, ok := resourceTypes[rt]; !ok {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown resource type")
	}
	return rt, nil
}

// Entry is one immutable audit record. Stores append and query entries; nothing
// updates or deletes them.
type Entry struct {
	ID             domain.AuditEntryID `json:"id"`
	ActorID        domain.UserID       `json:"user_id"`
	ActorRole      domain.Role         `json:"user_role"`
	Action         Action              `json:"action"`
	ResourceType   ResourceType        `json:"resource_type"`
	ResourceID     *string             `json:"resource_id,omitempty"`
	Description    string              `json:"description"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	IPAddress      string              `json:"ip_address,omitempty"`
	UserAgent      string              `json:"user_agent,omitempty"`
	Endpoint       string              `json:"endpoint"`
	Method         string              `json:"method"`
	StatusCode     int                 `json:"status_code"`
	ResponseTimeMs int64               `json:"response_time_ms"`
	Timestamp      time.Time           `json:"timestamp"`
}

// DefaultRecentLimit and MaxQueryLimit bound "recent" reads.
const (
	DefaultRecentLimit = 100
	MaxQueryLimit      = 1000
)

// Filter selects entries. Zero-valued fields do not constrain. Results are
// ordered by timestamp, newest first.
type Filter struct {
	ActorID      *domain.UserID
	ResourceType ResourceType
	ResourceID   string
	Action       Action
	From         time.Time
	To           time.Time
	Limit        int
}

// Matches evaluates the filter against one entry in memory.
func (f Filter) Matches(e Entry) bool {
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && (e.ResourceID == nil || *e.ResourceID != f.ResourceID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
