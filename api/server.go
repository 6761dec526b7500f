/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the app
  5. Auth:       Resolves the caller's user id (API routes only)

ROUTE GROUPS:
  /api/screens/*        Screen entry, completion, progress
  /api/achievements/*   Achievement grants
  /api/me/*             Caller's stats and events
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticator
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth Authenticator, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		// Screen routes
		r.Route("/screens/{screenKey}", func(r chi.Router) {
			r.Get("/", h.GetScreen)
			r.Get("/award", h.GetScreenAward)
			r.Post("/enter", h.EnterScreen)
			r.Post("/complete", h.CompleteScreen)
		})

		// Achievement routes
		r.Route("/achievements/{id}", func(r chi.Router) {
			r.Get("/", h.GetAchievement)
			r.Post("/", h.GrantAchievement)
		})

		// Caller routes
		r.Route("/me", func(r chi.Router) {
			r.Get("/stats", h.GetStats)
			r.Get("/events", h.ListEvents)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/{id}/run", h.RunScenario)
		})
	})

	return r
}
