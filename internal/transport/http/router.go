package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"

	"labtrail/internal/audit"
	"labtrail/internal/platform/metrics"
	"labtrail/pkg/platform/httputil"
	authmw "labtrail/pkg/platform/middleware/auth"
	"labtrail/pkg/platform/middleware/metadata"
	"labtrail/pkg/platform/middleware/request"
)

// Routes is implemented by every domain handler.
type Routes interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Config struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Validator authmw.JWTValidator
	Recorder  *audit.Recorder
	Checks    []HealthCheck
}

// NewRouter assembles the API. The chain runs request id, clock, client
// metadata, metrics, authentication and then the audit recorder, so every
// authenticated request is recorded with its final status. Per-route guards
// run inside the recorder and their denials are audited too. The whole router
// is wrapped in an otelhttp span that continues any W3C traceparent, so error
// entries carry the request's trace id.
func NewRouter(cfg Config, routes ...Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Time)
	r.Use(metadata.ClientMetadata)
	r.Use(cfg.Metrics.Middleware)

	r.Get("/health", healthHandler(cfg.Checks))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authmw.Authenticate(cfg.Validator, cfg.Logger))
		r.Use(cfg.Recorder.Middleware)
		for _, rt := range routes {
			rt.Register(r)
		}
	})
	return otelhttp.NewHandler(r, "labtrail",
		otelhttp.WithPropagators(propagation.TraceContext{}),
	)
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok"}
		deps := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				deps[c.Name] = err.Error()
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				continue
			}
			deps[c.Name] = "ok"
		}
		if len(deps) > 0 {
			body["dependencies"] = deps
		}
		httputil.WriteJSON(w, status, body)
	}
}
