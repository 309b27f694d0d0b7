package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all routes. hc may be nil in tests.
func SetupRoutes(h *Handlers, hc *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/recommendations", func(r chi.Router) {
			r.Get("/", h.ListRecommendations)
			r.Get("/export", h.ExportRecommendations)
			r.Post("/bulk-approve", h.BulkApprove)
			r.Get("/{id}", h.GetRecommendation)
			r.Post("/{id}/approve", h.Approve)
			r.Post("/{id}/reject", h.Reject)
		})
		r.Route("/changes", func(r chi.Router) {
			r.Get("/", h.ListChanges)
			r.Get("/{id}", h.GetChange)
			r.Post("/{id}/revert", h.Revert)
		})
		r.Route("/entities/{type}/{id}", func(r chi.Router) {
			r.Get("/gate", h.GateState)
			r.Post("/lock", h.Lock)
			r.Post("/unlock", h.Unlock)
		})
		r.Get("/learning/stats", h.LearningStats)
		r.Post("/cycles", h.RunCycle)
	})

	return r
}
