package app

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"signflow/internal/common/logging"
	"signflow/internal/handlers"
	"signflow/internal/server"
)

// Handler builds the routed HTTP handler for the application
func (app *App) Handler() http.Handler {
	opts := []handlers.Option{
		handlers.WithLogger(app.Logger.WithFields(logging.String("component", "http"))),
		handlers.WithHealthCheck("store", app.Store.Health),
	}
	if app.RedisClient != nil {
		opts = append(opts, handlers.WithHealthCheck("redis", func(ctx context.Context) error {
			return app.RedisClient.Health()
		}))
	}
	h := handlers.New(app.Orchestrator, app.Verifier, app.Gateway, opts...)

	router := mux.NewRouter()
	SetupRoutes(router, h, app.WebhookRateLimiter(), app.Logger)
	return router
}

// RunServer starts the HTTP server with all handlers configured
func (app *App) RunServer() (*server.Server, error) {
	srv := server.New(app.Handler(), server.DefaultConfig(app.Config.Port), app.Logger)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}

// Shutdown stops background work before the listener closes
func (app *App) Shutdown(ctx context.Context) error {
	if app.Gateway != nil {
		app.Gateway.Stop()
	}
	return nil
}
