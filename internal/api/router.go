package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/Mashup/internal/session"
)

func NewRouter(mgr *session.Manager, adminToken string, rateLimit int, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(rateLimit))

	sessions := NewSessionsHandler(mgr)
	results := NewResultsHandler(mgr)
	bandsH := NewBandsHandler(mgr)
	admin := NewAdminHandler(mgr)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", sessions.Open)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", sessions.Get)
			r.Delete("/", sessions.Close)
			r.Put("/mode", sessions.SetMode)
			r.Put("/percentiles", sessions.SetAllPercentiles)
			r.Post("/submit", sessions.Submit)
			r.Get("/submission", sessions.Submission)

			r.Post("/analytes/{name}/activate", sessions.Activate)
			r.Post("/analytes/{name}/deactivate", sessions.Deactivate)
			r.Put("/analytes/{name}/rank", sessions.SetRank)
			r.Put("/analytes/{name}/percentile", sessions.EditPercentile)
			r.Put("/analytes/{name}/value", sessions.EditValue)
		})

		r.Get("/results/{dataset}", results.List)
		r.Get("/results/{dataset}/export", results.Export)
		r.Delete("/results/{dataset}", results.Clear)

		r.Get("/bands", bandsH.List)
		r.Put("/bands", bandsH.Replace)
		r.Put("/bands/{index}", bandsH.Update)
		r.Post("/bands/reset", bandsH.Reset)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Get("/admin/stats", admin.Stats)
			r.Delete("/admin/results/{dataset}", results.ClearAll)
		})
	})

	return r
}

func NewMetricsRouter(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}
