package routes

import (
	"github.com/dukerupert/stripetax/internal/router"
)

// RegisterSystemRoutes registers operational endpoints: health checks for
// load balancers and the Prometheus scrape target.
func RegisterSystemRoutes(r *router.Router, deps SystemDeps) {
	r.Get("/health", deps.HealthCheck)
	if deps.MetricsHandler != nil {
		r.Handle("GET", "/metrics", deps.MetricsHandler)
	}
}
