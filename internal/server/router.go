package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sievedata/sieve/internal/api"
	"github.com/sievedata/sieve/internal/api/handlers"
	"github.com/sievedata/sieve/internal/api/middleware"
)

type RouterConfig struct {
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
	MaxBodyBytes    int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 32 * 1024 * 1024
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireTenant)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", cfg.DocumentHandler.Submit)
			r.Get("/", cfg.DocumentHandler.List)
			r.Get("/stats", cfg.DocumentHandler.Stats)
			r.Get("/{id}", cfg.DocumentHandler.Get)
			r.Get("/{id}/download", cfg.DocumentHandler.Download)
			r.Post("/{id}/cancel", cfg.DocumentHandler.Cancel)
			r.Delete("/{id}", cfg.DocumentHandler.Delete)
		})

		r.Post("/search", cfg.SearchHandler.Search)
	})

	return r
}
