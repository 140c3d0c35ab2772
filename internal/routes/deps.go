// Package routes wires handlers onto the router.
package routes

import (
	"net/http"
)

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}

// SystemDeps contains dependencies for operational routes
type SystemDeps struct {
	// MetricsHandler serves the Prometheus scrape endpoint.
	MetricsHandler http.Handler

	// HealthCheck reports readiness of the service's dependencies.
	HealthCheck http.HandlerFunc
}
