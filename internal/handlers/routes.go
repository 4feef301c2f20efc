package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the webhook receivers and the client API on router.
// webhookMiddleware wraps only the provider-facing webhook routes.
func (h *Handlers) RegisterRoutes(router *mux.Router, webhookMiddleware ...mux.MiddlewareFunc) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	webhooks := router.PathPrefix("/webhooks").Subrouter()
	for _, mw := range webhookMiddleware {
		webhooks.Use(mw)
	}
	webhooks.HandleFunc("/signing", h.HandleLifecycleWebhook).Methods(http.MethodPost)
	webhooks.HandleFunc("/signing/completion", h.HandleCompletionWebhook).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/orders/{orderRef}/signing", h.StartSession).Methods(http.MethodPost)
	api.HandleFunc("/orders/{orderRef}/signing", h.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderRef}/signing/complete", h.CompleteSession).Methods(http.MethodPost)
	api.HandleFunc("/orders/{orderRef}/signing/identity", h.InitiateIdentity).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sessionId}/cancel", h.CancelSession).Methods(http.MethodPost)
	api.HandleFunc("/gateway/metrics", h.GatewayMetrics).Methods(http.MethodGet)
}
