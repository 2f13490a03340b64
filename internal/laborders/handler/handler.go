package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"labtrail/internal/access"
	"labtrail/internal/laborders/models"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/httputil"
	"labtrail/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, identity *domain.Identity, d models.Draft) (*models.LabOrder, error)
	List(ctx context.Context, identity *domain.Identity) ([]*models.LabOrder, error)
	LabPending(ctx context.Context, identity *domain.Identity) ([]*models.LabOrder, error)
	LabInReview(ctx context.Context, identity *domain.Identity) ([]*models.LabOrder, error)
	Get(ctx context.Context, identity *domain.Identity, id domain.LabOrderID) (*models.LabOrder, error)
	Update(ctx context.Context, identity *domain.Identity, id domain.LabOrderID, c models.Changes) (*models.LabOrder, error)
	Delete(ctx context.Context, identity *domain.Identity, id domain.LabOrderID) error
	Assign(ctx context.Context, identity *domain.Identity, id domain.LabOrderID, lab domain.UserID) (*models.LabOrder, error)
}

type Guard interface {
	Require(op access.Operation) func(http.Handler) http.Handler
}

type Handler struct {
	service Service
	guard   Guard
	logger  *slog.Logger
}

func New(service Service, guard Guard, logger *slog.Logger) *Handler {
	return &Handler{service: service, guard: guard, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/lab-orders", func(r chi.Router) {
		r.With(h.guard.Require(access.OpLabOrdersCreate)).Post("/", h.handleCreate)
		r.With(h.guard.Require(access.OpLabOrdersList)).Get("/", h.handleList)
		r.With(h.guard.Require(access.OpLabOrdersLabPending)).Get("/lab/pending", h.handleLabPending)
		r.With(h.guard.Require(access.OpLabOrdersLabInReview)).Get("/lab/in-review", h.handleLabInReview)
		r.With(h.guard.Require(access.OpLabOrdersGet)).Get("/{id}", h.handleGet)
		r.With(h.guard.Require(access.OpLabOrdersUpdate)).Patch("/{id}", h.handleUpdate)
		r.With(h.guard.Require(access.OpLabOrdersDelete)).Delete("/{id}", h.handleDelete)
		r.With(h.guard.Require(access.OpLabOrdersAssign)).Post("/{id}/assign", h.handleAssign)
	})
}

type createRequest struct {
	PatientID   string     `json:"patient_id"`
	TestType    string     `json:"test_type"`
	Notes       string     `json:"notes"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type updateRequest struct {
	TestType    *string    `json:"test_type"`
	Notes       *string    `json:"notes"`
	Status      *string    `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type assignRequest struct {
	LabID string `json:"lab_id"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	patient, err := domain.ParseUserID(req.PatientID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	o, err := h.service.Create(ctx, requestcontext.Identity(ctx), models.Draft{
		PatientID:   patient,
		TestType:    req.TestType,
		Notes:       req.Notes,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.service.List)
}

func (h *Handler) handleLabPending(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.service.LabPending)
}

func (h *Handler) handleLabInReview(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.service.LabInReview)
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, list func(context.Context, *domain.Identity) ([]*models.LabOrder, error)) {
	ctx := r.Context()
	orders, err := list(ctx, requestcontext.Identity(ctx))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseLabOrderID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	o, err := h.service.Get(ctx, requestcontext.Identity(ctx), id)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseLabOrderID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	var req updateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	o, err := h.service.Update(ctx, requestcontext.Identity(ctx), id, models.Changes(req))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseLabOrderID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	if err := h.service.Delete(ctx, requestcontext.Identity(ctx), id); err != nil {
		h.fail(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseLabOrderID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	var req assignRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	lab, err := domain.ParseUserID(req.LabID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	o, err := h.service.Assign(ctx, requestcontext.Identity(ctx), id, lab)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "lab order request failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
