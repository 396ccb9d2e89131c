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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS (under /api/tenants/{tenant}):
  /units/*       Unit inventory and reservation locks
  /leads/*       Prospective buyers
  /bookings/*    Booking lifecycle, discounts, cancellation
  /approvals/*   Approval chains
  /schedules/*   Payment schedules
  /templates/*   Reusable schedule templates

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

	r.Route("/api/tenants/{tenant}", func(r chi.Router) {
		// Unit routes
		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Post("/", h.CreateUnit)
			r.Get("/{id}", h.GetUnit)
			r.Post("/{id}/lock", h.LockUnit)
			r.Post("/{id}/release", h.ReleaseUnit)
			r.Post("/{id}/sell", h.SellUnit)
		})

		// Lead routes
		r.Route("/leads", func(r chi.Router) {
			r.Post("/", h.CreateLead)
			r.Get("/{id}", h.GetLead)
		})

		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Get("/{id}/breakdown", h.GetBreakdown)
			r.Get("/{id}/schedule", h.GetBookingSchedule)
			r.Post("/{id}/discounts", h.AddDiscount)
			r.Post("/{id}/status", h.UpdateBookingStatus)
			r.Post("/{id}/discount-approvals/{approvalID}", h.ApplyDiscountApproval)
			r.Post("/{id}/cancellation-approvals/{approvalID}", h.ApplyCancellationApproval)
		})

		// Approval routes
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/pending", h.ListPendingApprovals)
			r.Get("/{id}", h.GetApproval)
			r.Post("/{id}/decision", h.ProcessApproval)
		})

		// Schedule routes
		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", h.CreateSchedule)
			r.Get("/{id}", h.GetSchedule)
			r.Put("/{id}/installments/{index}", h.UpdateInstallment)
			r.Post("/{id}/total", h.UpdateScheduleTotal)
			r.Post("/{id}/recalculate", h.RecalculateSchedule)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/changes/{approvalID}/resolve", h.ResolveScheduleChange)
		})

		// Template routes
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{id}", h.GetTemplate)
			r.Put("/{id}", h.UpdateTemplate)
			r.Delete("/{id}", h.DeleteTemplate)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
