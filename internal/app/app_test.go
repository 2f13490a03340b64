package app

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"labtrail/internal/audit"
	"labtrail/internal/platform/config"
	"labtrail/pkg/domain"
)

type ScenarioSuite struct {
	suite.Suite
	ctx context.Context
	app *App
	srv *httptest.Server
}

func TestScenarioSuite(t *testing.T) {
	suite.Run(t, new(ScenarioSuite))
}

func (s *ScenarioSuite) SetupTest() {
	s.ctx = context.Background()
	s.start(config.Server{
		JWT:     config.JWTConfig{SigningKey: "test-key", Issuer: "labtrail", Audience: "labtrail-api", TTL: time.Hour},
		Storage: config.StorageConfig{Backend: "memory"},
		Audit:   config.AuditConfig{Store: "memory", BufferSize: 64, Workers: 2, WriteTimeout: time.Second},
	})
}

func (s *ScenarioSuite) start(cfg config.Server) {
	a, err := Build(s.ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Telemetry{})
	s.Require().NoError(err)
	s.app = a
	s.srv = httptest.NewServer(a.Handler)
}

func (s *ScenarioSuite) TearDownTest() {
	s.srv.Close()
	s.NoError(s.app.Close(s.ctx))
}

type account struct {
	token string
	id    domain.UserID
}

func (s *ScenarioSuite) call(token, method, path string, body any) (int, []byte) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(s.ctx, method, s.srv.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.srv.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, data
}

func (s *ScenarioSuite) register(email, role string) account {
	status, body := s.call("", http.MethodPost, "/auth/register", map[string]string{
		"email": email, "password": "secret99", "first_name": "T", "last_name": "User", "role": role,
	})
	s.Require().Equal(http.StatusCreated, status, string(body))
	var session struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID domain.UserID `json:"id"`
		} `json:"user"`
	}
	s.Require().NoError(json.Unmarshal(body, &session))
	return account{token: session.AccessToken, id: session.User.ID}
}

// drain flushes the audit queue and returns every entry, newest first.
func (s *ScenarioSuite) drain() []audit.Entry {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(s.app.Dispatcher.Close(ctx))
	entries, err := s.app.AuditStore.Query(s.ctx, audit.Filter{})
	s.Require().NoError(err)
	return entries
}

func decodeID(t *testing.T, body []byte) string {
	t.Helper()
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	require.NotEmpty(t, out.ID)
	return out.ID
}

func find(entries []audit.Entry, actor domain.UserID, action audit.Action, rt audit.ResourceType) *audit.Entry {
	for i := range entries {
		e := &entries[i]
		if e.ActorID == actor && e.Action == action && e.ResourceType == rt {
			return e
		}
	}
	return nil
}

func (s *ScenarioSuite) TestOrderToResultScenario() {
	clinician := s.register("doc@example.org", "clinician")
	lab := s.register("lab@example.org", "lab")
	otherLab := s.register("lab2@example.org", "lab")
	patient := s.register("pat@example.org", "patient")

	status, body := s.call(clinician.token, http.MethodPost, "/lab-orders", map[string]string{
		"patient_id": patient.id.String(), "test_type": "blood_test",
	})
	s.Require().Equal(http.StatusCreated, status, string(body))
	var order struct {
		ID          string  `json:"id"`
		Status      string  `json:"status"`
		CompletedAt *string `json:"completed_at"`
	}
	s.Require().NoError(json.Unmarshal(body, &order))

	status, body = s.call(clinician.token, http.MethodPost, "/lab-orders/"+order.ID+"/assign", map[string]string{
		"lab_id": lab.id.String(),
	})
	s.Require().Equal(http.StatusOK, status, string(body))
	s.Require().NoError(json.Unmarshal(body, &order))
	s.Equal("in_review", order.Status)

	status, body = s.call(lab.token, http.MethodPost, "/results", map[string]any{
		"lab_order_id": order.ID, "result_text": "HbA1c 5.4%",
	})
	s.Require().Equal(http.StatusCreated, status, string(body))
	var result struct {
		ID string `json:"id"`
	}
	s.Require().NoError(json.Unmarshal(body, &result))

	status, body = s.call(clinician.token, http.MethodGet, "/lab-orders/"+order.ID, nil)
	s.Require().Equal(http.StatusOK, status)
	s.Require().NoError(json.Unmarshal(body, &order))
	s.Equal("completed", order.Status)
	s.NotNil(order.CompletedAt)

	status, _ = s.call(patient.token, http.MethodGet, "/results/"+result.ID, nil)
	s.Equal(http.StatusOK, status)

	status, notFound := s.call(otherLab.token, http.MethodGet, "/results/"+result.ID, nil)
	s.Equal(http.StatusNotFound, status)
	status, missing := s.call(otherLab.token, http.MethodGet, "/results/00000000-0000-4000-8000-000000000001", nil)
	s.Equal(http.StatusNotFound, status)
	s.JSONEq(string(missing), string(notFound), "denial is indistinguishable from absence")

	status, _ = s.call(lab.token, http.MethodPost, "/results", map[string]any{
		"lab_order_id": order.ID, "result_text": "again",
	})
	s.Equal(http.StatusConflict, status)

	entries := s.drain()

	created := find(entries, clinician.id, audit.ActionCreate, audit.ResourceLabOrder)
	s.Require().NotNil(created)
	s.Equal(http.StatusCreated, created.StatusCode)

	assigned := find(entries, clinician.id, audit.ActionAssign, audit.ResourceLabOrder)
	s.Require().NotNil(assigned)
	s.Require().NotNil(assigned.ResourceID)
	s.Equal(order.ID, *assigned.ResourceID)

	uploads := 0
	for _, e := range entries {
		if e.ActorID == lab.id && e.Action == audit.ActionUpload {
			uploads++
		}
	}
	s.Equal(2, uploads, "the conflicting upload is audited as a failure")

	read := find(entries, patient.id, audit.ActionRead, audit.ResourceResult)
	s.Require().NotNil(read)
	s.Equal(http.StatusOK, read.StatusCode)
	s.Equal(result.ID, *read.ResourceID)

	denied := find(entries, otherLab.id, audit.ActionRead, audit.ResourceResult)
	s.Require().NotNil(denied)
	s.Equal(http.StatusNotFound, denied.StatusCode)
}

func (s *ScenarioSuite) TestDeletingAnOrderRemovesItsResult() {
	clinician := s.register("doc@example.org", "clinician")
	lab := s.register("lab@example.org", "lab")
	patient := s.register("pat@example.org", "patient")

	_, body := s.call(clinician.token, http.MethodPost, "/lab-orders", map[string]string{
		"patient_id": patient.id.String(), "test_type": "mri",
	})
	orderID := decodeID(s.T(), body)
	status, _ := s.call(clinician.token, http.MethodPost, "/lab-orders/"+orderID+"/assign", map[string]string{
		"lab_id": lab.id.String(),
	})
	s.Require().Equal(http.StatusOK, status)
	status, body = s.call(lab.token, http.MethodPost, "/results", map[string]any{
		"lab_order_id": orderID, "result_text": "clear",
	})
	s.Require().Equal(http.StatusCreated, status, string(body))
	resultID := decodeID(s.T(), body)

	status, _ = s.call(clinician.token, http.MethodDelete, "/lab-orders/"+orderID, nil)
	s.Require().Equal(http.StatusNoContent, status)

	for name, caller := range map[string]account{"clinician": clinician, "lab": lab, "patient": patient} {
		status, _ = s.call(caller.token, http.MethodGet, "/results/"+resultID, nil)
		s.Equal(http.StatusNotFound, status, name)
	}
	status, body = s.call(patient.token, http.MethodGet, "/results", nil)
	s.Require().Equal(http.StatusOK, status)
	s.JSONEq(`[]`, string(body))
}

func (s *ScenarioSuite) TestAuditLogsAreClinicianOnly() {
	clinician := s.register("doc@example.org", "clinician")
	patient := s.register("pat@example.org", "patient")

	status, _ := s.call(patient.token, http.MethodGet, "/audit-logs", nil)
	s.Equal(http.StatusForbidden, status)

	status, _ = s.call(clinician.token, http.MethodGet, "/audit-logs/recent?limit=5", nil)
	s.Equal(http.StatusOK, status)

	status, _ = s.call("not-a-token", http.MethodGet, "/audit-logs", nil)
	s.Equal(http.StatusUnauthorized, status)
}

func TestHealth(t *testing.T) {
	a, err := Build(context.Background(), config.Server{
		JWT:   config.JWTConfig{SigningKey: "k", TTL: time.Minute},
		Audit: config.AuditConfig{Store: "memory"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), Telemetry{})
	require.NoError(t, err)
	defer a.Close(context.Background())

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBuildRejectsUnknownBackends(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Build(context.Background(), config.Server{Storage: config.StorageConfig{Backend: "mongo"}}, logger, Telemetry{})
	assert.Error(t, err)

	_, err = Build(context.Background(), config.Server{Audit: config.AuditConfig{Store: "redis"}}, logger, Telemetry{})
	assert.Error(t, err)
}
