package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/grabba/internal/api/handler"
	mw "github.com/iconidentify/grabba/internal/api/middleware"
	"github.com/iconidentify/grabba/internal/config"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	cfg config.ServerConfig,
	downloadHandler *handler.DownloadHandler,
	eventHandler *handler.EventHandler,
	jobHandler *handler.JobHandler,
	healthHandler *handler.HealthHandler,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.CORS(cfg.AllowedOrigins))

	// Health endpoints
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/stats", healthHandler.Stats)

	// Long-lived responses: no request timeout
	r.Get("/events/stream", eventHandler.Stream)
	r.Get("/download_file/{filename}", downloadHandler.ServeFile)

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		// Submission endpoints are rate limited per client
		r.Group(func(r chi.Router) {
			if cfg.RateLimit > 0 {
				r.Use(mw.NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Handler)
			}
			r.Post("/resolve", downloadHandler.Resolve)
			r.Post("/download", downloadHandler.Download)
		})

		r.Get("/events", eventHandler.List)
		r.Get("/events/stats", eventHandler.Stats)

		r.Get("/jobs", jobHandler.List)
		r.Get("/jobs/{jobID}", jobHandler.Get)
		r.Delete("/jobs/{jobID}", jobHandler.Cancel)
	})

	return r
}
