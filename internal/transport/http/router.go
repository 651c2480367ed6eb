package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports readiness of one dependency.
type HealthChecker func() error

// NewRouter wires the full HTTP surface: the trainee-facing action API, the
// operational state query, health, and metrics.
func NewRouter(h *Handler, logger *slog.Logger, health map[string]HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealth(health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/action", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RequireTrainee(logger))
			r.Get("/", h.handleListActions)
			r.Post("/{actionID}/complete", h.handleCompleteAction)
		})
		// Operational surface, reachable only on the internal network.
		r.Get("/state/{state}", h.handleListByState)
	})
	// Parked-entry recovery, on the same internal-only surface.
	r.Post("/api/outbox/{entryID}/requeue", h.handleRequeueOutbox)

	return r
}

func handleHealth(health map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		checks := make(map[string]string, len(health))
		for name, check := range health {
			if err := check(); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		writeJSON(w, status, checks)
	}
}
