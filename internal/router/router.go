package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"go-audit-trail/internal/config"
	"go-audit-trail/internal/handler"
	"go-audit-trail/internal/middleware"
	"go-audit-trail/internal/websocket"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	Audit   *handler.AuditHandler
	Docs    *handler.DocsHandler
	Stream  *websocket.Handler
	Metrics http.Handler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers, checks map[string]HealthCheck) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.RecoverRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", healthHandler(checks))
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	if h.Docs != nil {
		r.Get("/openapi.yaml", h.Docs.OpenAPI)
		r.Get("/swagger", h.Docs.SwaggerUI)
	}

	r.Route("/api/v1/audit-trail", func(api chi.Router) {
		api.Use(authMiddleware.RequireAuth)

		// Websocket upgrades need the raw connection, which http.TimeoutHandler hides.
		if h.Stream != nil {
			api.Get("/stream", h.Stream.ServeWS)
		}

		api.Group(func(timed chi.Router) {
			timed.Use(middleware.Timeout(cfg.RequestTimeout))

			timed.Get("/", h.Audit.List)
			timed.Get("/deleted-ids", h.Audit.DeletedIDs)
			timed.Post("/recover", h.Audit.Recover)
		})
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				slog.Warn("health check failed", "dependency", name, "error", err)
				results[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": http.StatusText(status),
			"checks": results,
		})
	}
}
