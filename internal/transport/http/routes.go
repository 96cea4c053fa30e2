package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "doc-ingest-service/docs"
)

// Routes builds the router. A nil verifier disables authentication, and
// uploads are then attributed to "anonymous".
func Routes(h *Handler, verifier *TokenVerifier, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if verifier != nil {
			r.Use(Auth(verifier))
		}

		r.Post("/uploads", h.Upload)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Get("/export", h.ExportJobs)
			r.Get("/{id}", h.GetJob)
			r.Get("/{id}/result", h.GetJobResult)
		})
		r.Get("/statuses", h.ListStatuses)
		r.Get("/audit/{table}/{id}", h.ListAudit)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
