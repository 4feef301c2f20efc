package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"signflow/internal/common/logging"
	"signflow/internal/handlers"
	"signflow/internal/metrics"
	"signflow/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, webhookLimiter func(http.Handler) http.Handler, logger logging.Logger) {
	// Correlation first so request logs carry the id
	router.Use(middleware.Correlation)
	router.Use(middleware.Logging(logger))

	// Prometheus scrape endpoint
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Webhooks are rate limited per source IP when configured
	var webhookMiddleware []mux.MiddlewareFunc
	if webhookLimiter != nil {
		webhookMiddleware = append(webhookMiddleware, webhookLimiter)
	}
	h.RegisterRoutes(router, webhookMiddleware...)
}
