package routes

import (
	"net/http"

	"github.com/dukerupert/tuition/internal/router"
)

// RegisterSystemRoutes registers health and metrics endpoints.
func RegisterSystemRoutes(r *router.Router, deps SystemDeps) {
	r.Handle(http.MethodGet, "/health", deps.Health)
	if deps.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", deps.Metrics)
	}
}
