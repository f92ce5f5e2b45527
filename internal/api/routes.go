package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/deliverability-guard/internal/pkg/httputil"
)

// Handlers bundles the route groups mounted under /api.
type Handlers struct {
	Suppression *SuppressionAPI
	Reputation  *ReputationAPI
	Training    *TrainingAPI
	Credentials *CredentialAPI
}

// SetupRoutes configures the top-level mux: standard middleware, CORS,
// health check, and the /api route groups.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		h.Suppression.RegisterRoutes(r)
		h.Reputation.RegisterRoutes(r)
		h.Training.RegisterRoutes(r)
		h.Credentials.RegisterRoutes(r)
	})

	return r
}
