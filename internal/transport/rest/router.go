package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/fleet-portal/api"
	"github.com/frahmantamala/fleet-portal/internal/portal"
	"github.com/frahmantamala/fleet-portal/internal/session"
	"github.com/frahmantamala/fleet-portal/internal/telemetry"
	"github.com/frahmantamala/fleet-portal/internal/transport/middleware"
	"github.com/frahmantamala/fleet-portal/internal/transport/swagger"
)

// Routes carries everything RegisterAllRoutes mounts. Nil members are skipped.
type Routes struct {
	Health    *HealthHandler
	Session   *session.Handler
	Access    *portal.AccessHandler
	Static    *portal.Static
	PageGuard func(http.Handler) http.Handler

	Metrics      *telemetry.Metrics
	MetricsPath  string
	Validator    *middleware.RequestValidator
	LoginLimiter *middleware.RateLimiter

	AllowedOrigins []string
	HomeRoute      string
}

func RegisterAllRoutes(router *chi.Mux, routes Routes, logger *slog.Logger) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))
	if routes.Metrics != nil {
		router.Use(routes.Metrics.Middleware)
	}
	router.Use(middleware.CORS(routes.AllowedOrigins))

	// OpenAPI document and Swagger UI at root
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPI)
	})
	router.Handle("/swagger/*", swagger.Handler())

	if routes.Metrics != nil {
		path := routes.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, routes.Metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		if routes.Health != nil {
			r.Get("/health", routes.Health.Health)
			r.Get("/ping", routes.Health.Ping)
		}

		r.Group(func(br chi.Router) {
			br.Use(middleware.CSRF(routes.AllowedOrigins, logger))
			if routes.Validator != nil {
				br.Use(routes.Validator.Handler)
			}

			if routes.Session != nil {
				br.Route("/session", func(sr chi.Router) {
					sr.Get("/", routes.Session.Current)
					sr.Post("/logout", routes.Session.Logout)
					sr.Put("/password", routes.Session.UpdatePassword)
					sr.Group(func(lr chi.Router) {
						if routes.LoginLimiter != nil {
							lr.Use(routes.LoginLimiter.Handler)
						}
						lr.Post("/login", routes.Session.Login)
					})
				})
			}

			if routes.Access != nil {
				br.Route("/access", func(ar chi.Router) {
					ar.Get("/", routes.Access.Summary)
					ar.Get("/route", routes.Access.Route)
					ar.Get("/reports/{reportID}", routes.Access.Report)
				})
			}
		})
	})

	if routes.Static != nil {
		home := "/app" + routes.HomeRoute
		router.Get("/", http.RedirectHandler(home, http.StatusFound).ServeHTTP)
		router.Get("/app", http.RedirectHandler(home, http.StatusFound).ServeHTTP)
		router.Handle("/app/assets/*", routes.Static.Assets("/app/assets/"))
		router.Group(func(pr chi.Router) {
			if routes.PageGuard != nil {
				pr.Use(routes.PageGuard)
			}
			pr.Get("/app/*", routes.Static.Index)
		})
	}
}
