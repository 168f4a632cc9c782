package server

import (
	"net/http"

	"github.com/cloo-solutions/docintel/internal/api/handlers"
	"github.com/cloo-solutions/docintel/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

// DefaultMaxBodyBytes caps request bodies when RouterConfig leaves it unset.
const DefaultMaxBodyBytes int64 = 5 * 1024 * 1024

type RouterConfig struct {
	MaxBodyBytes    int64
	HealthHandler   *handlers.HealthHandler
	DocumentHandler *handlers.DocumentHandler
	SummaryHandler  *handlers.SummaryHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.OwnerID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", cfg.HealthHandler.Health)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", cfg.DocumentHandler.Upload)
		r.Get("/", cfg.DocumentHandler.List)
		r.Get("/search", cfg.DocumentHandler.Search)
		r.Get("/{id}", cfg.DocumentHandler.Get)
		r.Delete("/{id}", cfg.DocumentHandler.Delete)
		r.Post("/{id}/reprocess", cfg.DocumentHandler.Reprocess)
	})

	r.Post("/summaries", cfg.SummaryHandler.Summarize)

	return r
}
