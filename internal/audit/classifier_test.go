package audit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"labtrail/pkg/domain"
)

func TestClassify(t *testing.T) {
	orderID := "3f1c2a9e-8d4b-4c1e-9a7f-0b6d5e4c3a21"

	tests := []struct {
		name   string
		method string
		path   string
		want   Classification
	}{
		{"login", http.MethodPost, "/auth/login", Classification{ActionLogin, ResourceAuth, ""}},
		{"register", http.MethodPost, "/auth/register", Classification{ActionRegister, ResourceAuth, ""}},
		{"profile", http.MethodGet, "/auth/profile", Classification{ActionRead, ResourceAuth, ""}},
		{"patch numeric id", http.MethodPatch, "/lab-orders/42", Classification{ActionUpdate, ResourceLabOrder, "42"}},
		{"assign", http.MethodPost, "/lab-orders/42/assign", Classification{ActionAssign, ResourceLabOrder, "42"}},
		{"assign uuid", http.MethodPost, "/lab-orders/" + orderID + "/assign", Classification{ActionAssign, ResourceLabOrder, orderID}},
		{"unknown path", http.MethodGet, "/unknown-path", Classification{ActionRead, ResourceAuth, ""}},
		{"create order", http.MethodPost, "/lab-orders", Classification{ActionCreate, ResourceLabOrder, ""}},
		{"lab pending is not an id", http.MethodGet, "/lab-orders/lab/pending", Classification{ActionRead, ResourceLabOrder, ""}},
		{"upload result", http.MethodPost, "/results", Classification{ActionUpload, ResourceResult, ""}},
		{"result by order", http.MethodGet, "/results/lab-order/" + orderID, Classification{ActionRead, ResourceResult, ""}},
		{"delete result", http.MethodDelete, "/results/7", Classification{ActionDelete, ResourceResult, "7"}},
		{"put user", http.MethodPut, "/users/" + orderID, Classification{ActionUpdate, ResourceUser, orderID}},
		{"recent is not an id", http.MethodGet, "/audit-logs/recent?limit=5", Classification{ActionRead, ResourceAuditLog, ""}},
		{"query ignored", http.MethodGet, "/lab-orders/42?x=/users/1", Classification{ActionRead, ResourceLabOrder, "42"}},
		{"zero is not an id", http.MethodGet, "/users/0", Classification{ActionRead, ResourceUser, ""}},
		{"options defaults to read", http.MethodOptions, "/results/9", Classification{ActionRead, ResourceResult, "9"}},
		{"empty path", http.MethodGet, "", Classification{ActionRead, ResourceAuth, ""}},
		{"get on assign is a read", http.MethodGet, "/lab-orders/42/assign", Classification{ActionRead, ResourceLabOrder, "42"}},
		// Segments are matched in table order, not by position in the path.
		{"auth segment outranks audit-logs", http.MethodGet, "/audit-logs/resource/auth/x", Classification{ActionRead, ResourceAuth, ""}},
		{"results segment outranks audit-logs", http.MethodGet, "/audit-logs/resource/results/7", Classification{ActionRead, ResourceResult, "7"}},
		{"users segment outranks lab-orders", http.MethodGet, "/lab-orders/42/users/9", Classification{ActionRead, ResourceUser, "9"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, role := range domain.AllRoles() {
				assert.Equal(t, tt.want, Classify(tt.method, tt.path, role))
			}
		})
	}
}

func TestClassify_Total(t *testing.T) {
	inputs := []string{"/", "//", "/lab-orders/", "/auth/login/login", "/%%%", "/results/lab-order/", "/audit-logs/\x00"}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			c := Classify("BREW", in, domain.RolePatient)
			assert.NotEmpty(t, c.Action)
			assert.NotEmpty(t, c.ResourceType)
		})
	}
}
