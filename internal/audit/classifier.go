package audit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"labtrail/pkg/domain"
)

// Classification is the derived (action, resource, id) triple for one request.
type Classification struct {
	Action       Action
	ResourceType ResourceType
	ResourceID   string
}

// resourceSegments is checked in order; the first entry whose segment appears
// anywhere in the path wins, wherever it sits. /audit-logs/resource/auth/x is
// therefore an auth request.
var resourceSegments = []struct {
	segment  string
	resource ResourceType
}{
	{"auth", ResourceAuth},
	{"users", ResourceUser},
	{"lab-orders", ResourceLabOrder},
	{"results", ResourceResult},
	{"audit-logs", ResourceAuditLog},
}

// Classify derives the audit classification of a request from its method and
// path. It is total: every input yields a classification. Query strings are
// ignored, unknown resources fall back to auth, and a resource id is recorded
// only when the segment after the resource looks like an identifier.
func Classify(method, path string, _ domain.Role) Classification {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segments := splitPath(path)

	c := Classification{Action: actionForMethod(method), ResourceType: ResourceAuth}

	idx := -1
	for _, rs := range resourceSegments {
		if i := indexOf(segments, rs.segment); i >= 0 {
			c.ResourceType = rs.resource
			idx = i
			break
		}
	}

	if c.ResourceType != ResourceAuth && idx+1 < len(segments) && isIdentifier(segments[idx+1]) {
		c.ResourceID = segments[idx+1]
	}

	switch c.ResourceType {
	case ResourceAuth:
		if indexOf(segments, "login") >= 0 {
			c.Action = ActionLogin
		} else if indexOf(segments, "register") >= 0 {
			c.Action = ActionRegister
		}
	case ResourceLabOrder:
		if method == http.MethodPost && indexOf(segments, "assign") > idx {
			c.Action = ActionAssign
		}
	case ResourceResult:
		if method == http.MethodPost {
			c.Action = ActionUpload
		}
	}
	return c
}

func actionForMethod(method string) Action {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return ActionCreate
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionRead
	}
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func indexOf(segments []string, s string) int {
	for i, seg := range segments {
		if seg == s {
			return i
		}
	}
	return -1
}

// isIdentifier accepts UUIDs and positive integers.
func isIdentifier(s string) bool {
	if _, err := uuid.Parse(s); err == nil && len(s) == 36 {
		return true
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return err == nil && n > 0
}
