package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apimiddleware "github.com/phrazzld/dispatch-api/internal/api/middleware"
)

// newRouter assembles the HTTP routes. Token issuance is the only public
// endpoint; everything else requires a bearer token scoped to a tenant.
func (app *application) newRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.TraceMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/token", app.authHandler.IssueToken)

		r.Group(func(r chi.Router) {
			r.Use(app.authMiddleware.Authenticate)

			r.Post("/generations", app.taskHandler.CreateGeneration)
			r.Get("/generations/{id}", app.taskHandler.GetGeneration)
			r.Get("/generations/{id}/wait", app.taskHandler.WaitGeneration)
			r.Delete("/generations/{id}", app.taskHandler.CancelGeneration)

			r.Get("/queue/stats", app.taskHandler.QueueStats)
			r.Get("/notifications/health", app.taskHandler.NotificationHealth)
			r.Post("/notifications/reset", app.taskHandler.ResetNotificationCircuit)
		})
	})

	return r
}
