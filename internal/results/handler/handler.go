package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"labtrail/internal/access"
	"labtrail/internal/results/models"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/httputil"
	"labtrail/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, identity *domain.Identity, sub models.Submission) (*models.Result, error)
	List(ctx context.Context, identity *domain.Identity) ([]*models.Result, error)
	LabPending(ctx context.Context, identity *domain.Identity) ([]*models.Result, error)
	LabCompleted(ctx context.Context, identity *domain.Identity) ([]*models.Result, error)
	ByLabOrder(ctx context.Context, identity *domain.Identity, orderID domain.LabOrderID) ([]*models.Result, error)
	Get(ctx context.Context, identity *domain.Identity, id domain.ResultID) (*models.Result, error)
	Update(ctx context.Context, identity *domain.Identity, id domain.ResultID, c models.Changes) (*models.Result, error)
	Delete(ctx context.Context, identity *domain.Identity, id domain.ResultID) error
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
	r.Route("/results", func(r chi.Router) {
		r.With(h.guard.Require(access.OpResultsCreate)).Post("/", h.handleCreate)
		r.With(h.guard.Require(access.OpResultsList)).Get("/", h.handleList)
		r.With(h.guard.Require(access.OpResultsLabPending)).Get("/lab/pending", h.handleLabPending)
		r.With(h.guard.Require(access.OpResultsLabCompleted)).Get("/lab/completed", h.handleLabCompleted)
		r.With(h.guard.Require(access.OpResultsByLabOrder)).Get("/lab-order/{orderID}", h.handleByLabOrder)
		r.With(h.guard.Require(access.OpResultsGet)).Get("/{id}", h.handleGet)
		r.With(h.guard.Require(access.OpResultsUpdate)).Patch("/{id}", h.handleUpdate)
		r.With(h.guard.Require(access.OpResultsDelete)).Delete("/{id}", h.handleDelete)
	})
}

type createRequest struct {
	LabOrderID      string   `json:"lab_order_id"`
	ResultText      string   `json:"result_text"`
	Comments        string   `json:"comments"`
	Findings        string   `json:"findings"`
	Recommendations string   `json:"recommendations"`
	Attachments     []string `json:"attachments"`
}

type updateRequest struct {
	ResultText      *string   `json:"result_text"`
	Comments        *string   `json:"comments"`
	Findings        *string   `json:"findings"`
	Recommendations *string   `json:"recommendations"`
	Attachments     *[]string `json:"attachments"`
	Status          *string   `json:"status"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	orderID, err := domain.ParseLabOrderID(req.LabOrderID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	res, err := h.service.Create(ctx, requestcontext.Identity(ctx), models.Submission{
		LabOrderID:      orderID,
		ResultText:      req.ResultText,
		Comments:        req.Comments,
		Findings:        req.Findings,
		Recommendations: req.Recommendations,
		Attachments:     req.Attachments,
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.service.List)
}

func (h *Handler) handleLabPending(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.service.LabPending)
}

func (h *Handler) handleLabCompleted(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.service.LabCompleted)
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, list func(context.Context, *domain.Identity) ([]*models.Result, error)) {
	ctx := r.Context()
	results, err := list(ctx, requestcontext.Identity(ctx))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}

func (h *Handler) handleByLabOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := domain.ParseLabOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	results, err := h.service.ByLabOrder(ctx, requestcontext.Identity(ctx), orderID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseResultID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	res, err := h.service.Get(ctx, requestcontext.Identity(ctx), id)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseResultID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	var req updateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	res, err := h.service.Update(ctx, requestcontext.Identity(ctx), id, models.Changes(req))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseResultID(chi.URLParam(r, "id"))
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

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "result request failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
