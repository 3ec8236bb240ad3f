/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address behind a proxy
  3. Logger:     zap request log + Prometheus request metrics
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Per-request deadline carried in the context
  6. CORS:       Cross-origin requests for a frontend

ROUTE GROUPS:
  /api/territories/*       Registry, protection rules, assignments
  /api/conflicts/*         Dispute reports
  /api/reps/*              Rep territories and performance
  /api/accounts/*          Account directory (stand-in for the account store)
  /api/commissions/*       Calculation and ledger
  /api/commission-rules/*  Rule management
  /api/jobs/*              Externally triggered batch jobs
  /api/scenarios/*         Demo data (only when enabled)
  /healthz, /metrics       Operations

SECURITY NOTE:
  No authentication middleware. Approver and actor ids are taken from the
  request body as given.

SEE ALSO:
  - handlers.go: Handler wiring and shared helpers
  - cmd/territoryd/serve.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the HTTP settings the router needs.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// DefaultRouterConfig is used by tests and when nothing is configured.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		RequestTimeout: 15 * time.Second,
		MaxBodyBytes:   1 << 20,
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRouterConfig().RequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultRouterConfig().MaxBodyBytes
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger, h.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(maxBody(cfg.MaxBodyBytes))

		r.Route("/territories", func(r chi.Router) {
			r.Get("/", h.ListTerritories)
			r.Post("/", h.CreateTerritory)
			r.Get("/by-postal-code/{code}", h.FindByPostalCode)
			r.Post("/conflicts/check", h.CheckConflicts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTerritory)
				r.Patch("/", h.UpdateTerritory)
				r.Post("/deactivate", h.DeactivateTerritory)

				r.Get("/protection", h.GetProtection)
				r.Put("/protection", h.SetProtection)

				r.Post("/assign", h.Assign)
				r.Post("/transfer", h.Transfer)
				r.Post("/release", h.Release)
				r.Get("/assignments", h.ListAssignments)

				r.Get("/conflicts", h.ListTerritoryConflicts)
				r.Post("/conflicts", h.ReportConflict)
			})
		})

		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", h.ListConflicts)
			r.Post("/{id}/resolve", h.ResolveConflict)
		})

		r.Route("/reps", func(r chi.Router) {
			r.Get("/", h.ListReps)
			r.Put("/{id}", h.SaveRep)
			r.Get("/{id}/territories", h.RepTerritories)
			r.Get("/{id}/performance", h.RepPerformance)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}", h.SaveAccount)
		})

		r.Route("/commissions", func(r chi.Router) {
			r.Get("/", h.ListCommissions)
			r.Post("/calculate", h.CalculateCommission)
			r.Post("/record", h.RecordCommission)
			r.Post("/approve", h.ApproveCommissions)
			r.Post("/payout", h.Payout)
			r.Get("/{id}", h.GetCommission)
			r.Post("/{id}/cancel", h.CancelCommission)
		})

		r.Route("/commission-rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Get("/{id}", h.GetRule)
			r.Put("/{id}", h.UpdateRule)
			r.Put("/{id}/active", h.SetRuleActive)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/reevaluate-protection", h.ReevaluateProtection)
		})

		if h.ScenariosEnabled {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}
