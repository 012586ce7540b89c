// Package httptransport assembles the HTTP surface: shared middleware,
// operational endpoints and the identity routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dErrors "reconciler/pkg/domain-errors"
	"reconciler/pkg/platform/httputil"
	"reconciler/pkg/platform/middleware/metadata"
	"reconciler/pkg/platform/middleware/requesttime"
	"reconciler/pkg/requestcontext"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// RouterConfig carries the ambient dependencies of the router.
type RouterConfig struct {
	ServiceName    string
	Logger         *slog.Logger
	Metrics        *Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	// ReadinessChecks are checked by GET /ready, keyed by dependency name.
	ReadinessChecks map[string]func(context.Context) error
	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// ReadinessResponse is the GET /ready body.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewRouter wires middleware, operational endpoints and every module's routes.
func NewRouter(cfg RouterConfig, modules ...Registrar) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recovery(logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(SecurityHeaders)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
			ExposedHeaders: []string{RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			MaxAge:         300,
		}))
	}
	r.Use(AccessLog(logger, cfg.Metrics))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	r.Get("/health", health(cfg.ServiceName))
	r.Get("/ready", ready(cfg.ReadinessChecks, logger))
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	for _, m := range modules {
		m.Register(r)
	}
	return r
}

func health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:    "OK",
			Timestamp: requestcontext.Now(r.Context()).Format(time.RFC3339Nano),
			Service:   service,
		})
	}
}

func ready(checks map[string]func(context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed",
					"dependency", name,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				resp.Checks[name] = "unavailable"
				resp.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "Cannot "+r.Method+" "+r.URL.Path))
}
