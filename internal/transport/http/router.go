// Package httptransport assembles the public HTTP surface. Handlers live
// beside their domains; this package only mounts them and serves the
// operational endpoints.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tipline/internal/transport/http/shared"
)

// Registrar is any domain handler that mounts itself on the router.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports the liveness of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewRouter mounts every domain handler plus the operational endpoints. The
// checks map gates /healthz on the named dependencies.
func NewRouter(checks map[string]HealthChecker, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealth(checks))
	r.Handle("/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		out := map[string]string{"status": "ok"}
		for name, c := range checks {
			if err := c.Health(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out["status"] = "degraded"
				out[name] = err.Error()
			} else {
				out[name] = "ok"
			}
		}
		shared.WriteJSON(w, status, out)
	}
}
