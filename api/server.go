/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin frontends

ROUTE GROUPS:
  /api/templates/*    Template management and resolution
  /api/assignments/*  Worker assignments and overrides
  /api/workers/*      Attendance ingestion and calculation
  /api/payruns        Batch calculation

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Template routes
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{id}", h.GetTemplate)
			r.Post("/{id}/status", h.UpdateTemplateStatus)
			r.Get("/{id}/resolved", h.ResolveTemplate)
		})

		// Assignment routes
		r.Route("/assignments", func(r chi.Router) {
			r.Post("/", h.CreateAssignment)
			r.Post("/{id}/overrides", h.CreateOverride)
		})

		// Worker routes
		r.Route("/workers", func(r chi.Router) {
			r.Post("/{id}/time-entries", h.CreateTimeEntry)
			r.Post("/{id}/calculate", h.CalculateWorker)
		})

		// Pay run routes
		r.Post("/payruns", h.RunPayRun)
	})

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Payroll Structure Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Payroll Structure Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><code>GET /api/templates?org_id=...</code> - List templates</li>
<li><code>POST /api/templates</code> - Create a draft template</li>
<li><code>GET /api/templates/{id}/resolved</code> - Resolve the component list</li>
<li><code>POST /api/assignments</code> - Assign a worker</li>
<li><code>POST /api/workers/{id}/calculate</code> - Calculate a worker's pay</li>
<li><code>POST /api/payruns</code> - Run a batch calculation</li>
</ul>
</body>
</html>`))
	})

	return r
}
