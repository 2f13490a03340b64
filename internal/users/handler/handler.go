package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"labtrail/internal/access"
	"labtrail/internal/users/models"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/httputil"
	"labtrail/pkg/requestcontext"
)

// Service defines the directory operations the handler needs.
type Service interface {
	Create(ctx context.Context, identity *domain.Identity, p models.Profile) (*models.User, error)
	List(ctx context.Context, identity *domain.Identity) ([]*models.User, error)
	Get(ctx context.Context, identity *domain.Identity, id domain.UserID) (*models.User, error)
	Update(ctx context.Context, identity *domain.Identity, id domain.UserID, c models.Changes) (*models.User, error)
	Delete(ctx context.Context, identity *domain.Identity, id domain.UserID) error
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
	r.Route("/users", func(r chi.Router) {
		r.With(h.guard.Require(access.OpUsersCreate)).Post("/", h.handleCreate)
		r.With(h.guard.Require(access.OpUsersList)).Get("/", h.handleList)
		r.With(h.guard.Require(access.OpUsersGet)).Get("/{id}", h.handleGet)
		r.With(h.guard.Require(access.OpUsersUpdate)).Patch("/{id}", h.handleUpdate)
		r.With(h.guard.Require(access.OpUsersDelete)).Delete("/{id}", h.handleDelete)
	})
}

type createRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Phone     string `json:"phone"`
}

type updateRequest struct {
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Role      *string `json:"role"`
	Phone     *string `json:"phone"`
	Active    *bool   `json:"active"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	u, err := h.service.Create(ctx, requestcontext.Identity(ctx), models.Profile(req))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := h.service.List(ctx, requestcontext.Identity(ctx))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	u, err := h.service.Get(ctx, requestcontext.Identity(ctx), id)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	var req updateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	u, err := h.service.Update(ctx, requestcontext.Identity(ctx), id, models.Changes(req))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseUserID(chi.URLParam(r, "id"))
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
		h.logger.ErrorContext(ctx, "user request failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
