package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"labtrail/internal/access"
	authservice "labtrail/internal/auth/service"
	"labtrail/internal/users/models"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/httputil"
	"labtrail/pkg/requestcontext"
)

type Service interface {
	Register(ctx context.Context, p models.Profile) (*authservice.Session, error)
	Login(ctx context.Context, email, password string) (*authservice.Session, error)
	Profile(ctx context.Context, identity *domain.Identity) (*models.User, error)
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
	r.Route("/auth", func(r chi.Router) {
		r.With(h.guard.Require(access.OpAuthRegister)).Post("/register", h.handleRegister)
		r.With(h.guard.Require(access.OpAuthLogin)).Post("/login", h.handleLogin)
		r.With(h.guard.Require(access.OpAuthProfile)).Get("/profile", h.handleProfile)
	})
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Phone     string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	session, err := h.service.Register(ctx, models.Profile(req))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	session, err := h.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, err := h.service.Profile(ctx, requestcontext.Identity(ctx))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "auth request failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
