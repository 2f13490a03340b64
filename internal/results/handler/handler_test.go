package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labtrail/internal/access"
	labmodels "labtrail/internal/laborders/models"
	labservice "labtrail/internal/laborders/service"
	labstore "labtrail/internal/laborders/store"
	"labtrail/internal/results/handler"
	"labtrail/internal/results/service"
	"labtrail/internal/results/store"
	usermodels "labtrail/internal/users/models"
	userstore "labtrail/internal/users/store"
	"labtrail/pkg/domain"
	"labtrail/pkg/platform/tx"
	"labtrail/pkg/requestcontext"
)

type fixture struct {
	router    http.Handler
	orders    *labservice.Service
	clinician *domain.Identity
	lab       *domain.Identity
	otherLab  *domain.Identity
	patient   *domain.Identity
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := userstore.NewInMemory()
	add := func(email, role string) *domain.Identity {
		u, err := usermodels.NewUser(domain.UserID(uuid.New()), usermodels.Profile{
			Email: email, Password: "secret99", FirstName: "A", LastName: "B", Role: role,
		}, time.Now())
		require.NoError(t, err)
		require.NoError(t, users.Create(ctx, u))
		return u.Identity()
	}
	guard := access.NewGuard(access.WithLogger(logger))
	runner := tx.NewSharded()
	orderStore := labstore.NewInMemory()
	f := fixture{
		orders:    labservice.New(orderStore, users, guard, labservice.WithLogger(logger), labservice.WithTx(runner)),
		clinician: add("doc@example.org", "clinician"),
		lab:       add("lab@example.org", "lab"),
		otherLab:  add("lab2@example.org", "lab"),
		patient:   add("pat@example.org", "patient"),
	}
	svc := service.New(store.NewInMemory(), orderStore, guard, service.WithLogger(logger), service.WithTx(runner))
	r := chi.NewRouter()
	handler.New(svc, guard, logger).Register(r)
	f.router = r
	return f
}

func (f fixture) do(t *testing.T, identity *domain.Identity, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req = req.WithContext(requestcontext.WithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestResultRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.orders.Create(ctx, f.clinician, labmodels.Draft{PatientID: f.patient.ID, TestType: "urine_test"})
	require.NoError(t, err)
	_, err = f.orders.Assign(ctx, f.clinician, o.ID, f.lab.ID)
	require.NoError(t, err)

	body := map[string]any{
		"lab_order_id": o.ID.String(),
		"result_text":  "no abnormalities",
		"attachments":  []string{"report.pdf"},
	}

	rec := f.do(t, f.clinician, http.MethodPost, "/results/", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, f.otherLab, http.MethodPost, "/results/", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, f.lab, http.MethodPost, "/results/", map[string]any{"lab_order_id": "42", "result_text": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, f.lab, http.MethodPost, "/results/", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID          string   `json:"id"`
		Status      string   `json:"status"`
		Attachments []string `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "completed", created.Status)
	assert.Equal(t, []string{"report.pdf"}, created.Attachments)

	rec = f.do(t, f.lab, http.MethodPost, "/results/", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, f.patient, http.MethodGet, "/results/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, f.otherLab, http.MethodGet, "/results/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, f.patient, http.MethodGet, "/results/lab-order/"+o.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var byOrder []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &byOrder))
	assert.Len(t, byOrder, 1)

	rec = f.do(t, f.lab, http.MethodGet, "/results/lab/completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var completed []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.Len(t, completed, 1)

	rec = f.do(t, f.patient, http.MethodGet, "/results/lab/completed", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, f.lab, http.MethodPatch, "/results/"+created.ID, map[string]string{"comments": "rechecked"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rechecked")

	rec = f.do(t, f.patient, http.MethodDelete, "/results/"+created.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, f.lab, http.MethodDelete, "/results/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
