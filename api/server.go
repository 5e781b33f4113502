/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /health               Liveness probe
  /metrics              Prometheus scrape endpoint
  /api/leads/*          Lead posting, claims, cancellation, acceptance
  /api/professionals/*  Directory and credit ledger
  /api/scenarios/*      Demo data
  /api/admin/*          Admin operations

SECURITY NOTE:
  Authentication happens upstream; handlers trust the X-Actor-ID header.

SEE ALSO:
  - handlers.go:        Handler implementations
  - cli/serve.go:       Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Lead routes
		r.Route("/leads", func(r chi.Router) {
			r.Get("/", h.ListLeads)
			r.Post("/", h.CreateLead)
			r.Get("/{id}", h.GetLead)
			r.Post("/{id}/claims", h.ClaimLead)
			r.Get("/{id}/claims", h.ListClaims)
			r.Post("/{id}/cancel", h.CancelLead)
			r.Post("/{id}/accept", h.AcceptLead)
			r.Post("/{id}/quotes", h.SubmitQuote)
		})

		// Professional + credit routes
		r.Route("/professionals", func(r chi.Router) {
			r.Get("/", h.ListProfessionals)
			r.Post("/", h.CreateProfessional)
			r.Get("/{id}", h.GetProfessional)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Post("/{id}/credits", h.GrantCredits)
			r.Get("/{id}/ledger/verify", h.VerifyLedger)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	return r
}
