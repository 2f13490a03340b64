package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"labtrail/internal/access"
	"labtrail/internal/audit"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/httputil"
	"labtrail/pkg/requestcontext"
)

// Service defines the read operations on the audit trail.
type Service interface {
	Get(ctx context.Context, identity *domain.Identity, id domain.AuditEntryID) (*audit.Entry, error)
	List(ctx context.Context, identity *domain.Identity) ([]audit.Entry, error)
	Mine(ctx context.Context, identity *domain.Identity) ([]audit.Entry, error)
	ByActor(ctx context.Context, identity *domain.Identity, actor domain.UserID) ([]audit.Entry, error)
	ByResource(ctx context.Context, identity *domain.Identity, rt audit.ResourceType, resourceID string) ([]audit.Entry, error)
	ByDateRange(ctx context.Context, identity *domain.Identity, from, to time.Time) ([]audit.Entry, error)
	ByAction(ctx context.Context, identity *domain.Identity, action audit.Action) ([]audit.Entry, error)
	Recent(ctx context.Context, identity *domain.Identity, limit int) ([]audit.Entry, error)
}

// Guard gates each route before the handler runs.
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

// Register mounts the audit-log routes under /audit-logs.
func (h *Handler) Register(r chi.Router) {
	r.Route("/audit-logs", func(r chi.Router) {
		r.With(h.guard.Require(access.OpAuditLogsList)).Get("/", h.handleList)
		r.With(h.guard.Require(access.OpAuditLogsMine)).Get("/user/me", h.handleMine)
		r.With(h.guard.Require(access.OpAuditLogsByActor)).Get("/actor/{userID}", h.handleByActor)
		r.With(h.guard.Require(access.OpAuditLogsByResource)).Get("/resource/{type}/{id}", h.handleByResource)
		r.With(h.guard.Require(access.OpAuditLogsByDate)).Get("/date-range", h.handleByDateRange)
		r.With(h.guard.Require(access.OpAuditLogsByAction)).Get("/action/{action}", h.handleByAction)
		r.With(h.guard.Require(access.OpAuditLogsRecent)).Get("/recent", h.handleRecent)
		r.With(h.guard.Require(access.OpAuditLogsGet)).Get("/{id}", h.handleGet)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.service.List(ctx, requestcontext.Identity(ctx))
	h.respond(ctx, w, entries, err)
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.service.Mine(ctx, requestcontext.Identity(ctx))
	h.respond(ctx, w, entries, err)
}

func (h *Handler) handleByActor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	entries, err := h.service.ByActor(ctx, requestcontext.Identity(ctx), actor)
	h.respond(ctx, w, entries, err)
}

func (h *Handler) handleByResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rt, err := audit.ParseResourceType(chi.URLParam(r, "type"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	entries, err := h.service.ByResource(ctx, requestcontext.Identity(ctx), rt, chi.URLParam(r, "id"))
	h.respond(ctx, w, entries, err)
}

func (h *Handler) handleByDateRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, err := parseTime(r.URL.Query().Get("start"), "start")
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	to, err := parseTime(r.URL.Query().Get("end"), "end")
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	entries, err := h.service.ByDateRange(ctx, requestcontext.Identity(ctx), from, to)
	h.respond(ctx, w, entries, err)
}

func (h *Handler) handleByAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action, err := audit.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	entries, err := h.service.ByAction(ctx, requestcontext.Identity(ctx), action)
	h.respond(ctx, w, entries, err)
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(ctx, w, dErrors.Wrap(err, dErrors.CodeBadRequest, "limit must be an integer"))
			return
		}
		limit = n
	}
	entries, err := h.service.Recent(ctx, requestcontext.Identity(ctx), limit)
	h.respond(ctx, w, entries, err)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseAuditEntryID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	entry, err := h.service.Get(ctx, requestcontext.Identity(ctx), id)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, entries []audit.Entry, err error) {
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "audit log request failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, name+" is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeBadRequest, name+" must be an RFC3339 timestamp")
	}
	return t, nil
}
