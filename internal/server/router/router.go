// Package router wires the reference backend HTTP surface.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/iudanet/gophsync/internal/server/handlers"
	"github.com/iudanet/gophsync/internal/server/middleware"
)

// HealthPath путь health endpoint'а, который опрашивает монитор связи
const HealthPath = "/api/health"

// Config holds the configuration for creating a router.
type Config struct {
	Logger         *slog.Logger
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Records        *handlers.RecordsHandler
	Limiter        *middleware.RateLimiter // nil отключает rate limiting
	AllowedOrigins []string
	JWT            handlers.JWTConfig
	RequireAuth    bool // записи доступны только с access token
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger, HealthPath))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get(HealthPath, cfg.Health.Health)

	// auth endpoints не проверяют access token: refresh приходит
	// как раз с истекшим
	r.Route("/api/collections/users", func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(middleware.RateLimit(cfg.Limiter, cfg.Logger))
		}
		r.Post("/records", cfg.Auth.SignUp)
		r.Post("/auth-with-password", cfg.Auth.AuthWithPassword)
		r.Post("/auth-refresh", cfg.Auth.AuthRefresh)
	})

	r.Route("/api/collections/{collection}/records", func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Logger, cfg.JWT))
		if cfg.Limiter != nil {
			r.Use(middleware.RateLimit(cfg.Limiter, cfg.Logger))
		}
		if cfg.RequireAuth {
			r.Use(middleware.RequireAuth(cfg.Logger))
		}
		r.Get("/", cfg.Records.List)
		r.Post("/", cfg.Records.Create)
		r.Get("/{id}", cfg.Records.View)
		r.Patch("/{id}", cfg.Records.Update)
		r.Delete("/{id}", cfg.Records.Delete)
	})

	return r
}
