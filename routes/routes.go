package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/ip-broker/app"
	"github.com/upb/ip-broker/middleware"
	"github.com/upb/ip-broker/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	if deps.Config.Server.WriteTimeout > 0 {
		r.Use(chimw.Timeout(deps.Config.Server.WriteTimeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if deps.AuthMiddleware != nil {
			r.Use(deps.AuthMiddleware.RequireAuth)
		}
		r.Get("/lookup/{ip}", deps.LookupHandler.HandleLookup)
		r.Get("/providers", deps.LookupHandler.HandleProviders)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "endpoint not found", nil)
	})

	return r
}
