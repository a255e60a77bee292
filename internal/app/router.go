// Package app assembles the HTTP router, readiness checks, and the job
// GC schedule from the adapters.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/quizforge/quizforge/internal/adapter/httpserver"
	"github.com/quizforge/quizforge/internal/adapter/observability"
	"github.com/quizforge/quizforge/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice,
// trimming spaces. Empty input means allow all.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Recipient-facing surface: bearer token required. The websocket
	// route stays outside this group; http.TimeoutHandler's response
	// writer cannot be hijacked for the upgrade.
	r.Group(func(ar chi.Router) {
		ar.Use(httpserver.TimeoutMiddleware(60 * time.Second))
		ar.Use(httpserver.BearerAuth(cfg.AuthSecret))
		ar.Get("/questions", srv.QuestionsHandler())
		ar.Get("/generation_status/{job_id}", srv.GenerationStatusHandler())

		// Mutating endpoints are additionally rate limited.
		ar.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
			wr.Post("/questions/import", srv.ImportHandler())
			wr.Post("/generate_questions_async", srv.GenerateAsyncHandler())
		})
	})

	// The push channel carries its token in a query param; auth happens
	// inside the handler where the subject is matched to the path.
	r.Get("/ws/{recipient_id}", srv.WSHandler())

	// Public surface.
	r.Get("/", srv.RootHandler())
	r.Get("/health", srv.HealthHandler())
	r.Get("/health/ready", srv.ReadyHandler())
	r.Get("/health/detailed", srv.HealthDetailedHandler())
	r.Get("/metrics", srv.MetricsHandler())
	r.Get("/metrics/prometheus", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })
	r.Get("/alerts", srv.AlertsHandler())

	// Admin surface.
	r.Group(func(adm chi.Router) {
		adm.Use(httpserver.AdminBasicAuth(cfg.AdminUsername, cfg.AdminPasswordHash))
		adm.Post("/admin/cleanup_jobs", srv.AdminCleanupHandler())
	})

	return httpserver.SecurityHeaders(r)
}
