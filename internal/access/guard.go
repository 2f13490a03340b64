// Package access decides whether a caller's role may run an operation.
//
// The decision is a pure function of the operation's allowed roles and the
// caller's identity (see Authorize). Guard wraps it with logging, metrics and a
// chi middleware so the table is enforced before any handler runs.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/httputil"
	"labtrail/pkg/requestcontext"
)

// DenialKind distinguishes a missing caller from a caller with the wrong role.
type DenialKind int

const (
	NotAuthenticated DenialKind = iota + 1
	NotAuthorized
)

func (k DenialKind) String() string {
	switch k {
	case NotAuthenticated:
		return "not_authenticated"
	case NotAuthorized:
		return "not_authorized"
	default:
		return "none"
	}
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Kind    DenialKind
	Reason  string
}

// Err converts a denial into a domain error; it returns nil when allowed.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Kind == NotAuthenticated:
		return dErrors.New(dErrors.CodeUnauthorized, d.Reason)
	default:
		return dErrors.New(dErrors.CodeForbidden, d.Reason)
	}
}

// Authorize evaluates the role table entry for one operation.
//
// An empty allowed set is public and admits anonymous callers. Otherwise the
// caller must be present and hold one of the allowed roles.
func Authorize(allowed []domain.Role, identity *domain.Identity) Decision {
	if len(allowed) == 0 {
		return Decision{Allowed: true}
	}
	if identity == nil {
		return Decision{Kind: NotAuthenticated, Reason: "User not authenticated"}
	}
	for _, role := range allowed {
		if identity.Role == role {
			return Decision{Allowed: true}
		}
	}
	names := make([]string, len(allowed))
	for i, role := range allowed {
		names[i] = role.String()
	}
	return Decision{
		Kind:   NotAuthorized,
		Reason: fmt.Sprintf("Access denied. Required roles: %s. User role: %s", strings.Join(names, ", "), identity.Role),
	}
}

// Guard enforces the role table.
type Guard struct {
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

func NewGuard(opts ...Option) *Guard {
	g := &Guard{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check authorizes identity for op. Services call it again even when the route
// middleware already did, so a non-HTTP caller cannot skip the table.
func (g *Guard) Check(ctx context.Context, op Operation, identity *domain.Identity) error {
	decision := Authorize(AllowedRoles(op), identity)
	if decision.Allowed {
		return nil
	}
	g.metrics.IncDenied(op, decision.Kind)
	attrs := []any{
		"operation", string(op),
		"kind", decision.Kind.String(),
		"request_id", requestcontext.RequestID(ctx),
	}
	if identity != nil {
		attrs = append(attrs, "user_id", identity.ID.String(), "role", identity.Role.String())
	}
	g.logger.WarnContext(ctx, "access denied", attrs...)
	return decision.Err()
}

// Require returns middleware that rejects the request before the handler when
// the caller may not run op.
func (g *Guard) Require(op Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if err := g.Check(ctx, op, requestcontext.Identity(ctx)); err != nil {
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
