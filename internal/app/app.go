// Package app wires configuration into the running service.
package app

import (
	"signflow/internal/common/logging"
	"signflow/internal/config"
	"signflow/internal/gateway"
	"signflow/internal/locks"
	"signflow/internal/notify"
	"signflow/internal/redis"
	"signflow/internal/signature"
	"signflow/internal/signing"
	"signflow/internal/storage"
)

// App holds all the application dependencies
type App struct {
	Config       *config.Config
	Store        storage.OrderStore
	RedisClient  *redis.Client
	Locks        locks.Manager
	Gateway      *gateway.Gateway
	Verifier     *signature.Verifier
	Notifier     notify.Sink
	Orchestrator *signing.Orchestrator
	Logger       logging.Logger
}

// New creates a new application instance with all dependencies. Any
// partially built resources are released when it fails.
func New(cfg *config.Config) (_ *App, err error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}
	defer func() {
		if err != nil {
			app.Cleanup()
		}
	}()

	// Initialize components in order of dependency
	if err := app.initializeStorage(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		return nil, err
	}

	app.initializeLocks()

	if err := app.initializeGateway(); err != nil {
		return nil, err
	}

	if err := app.initializeVerifier(); err != nil {
		return nil, err
	}

	if err := app.initializeNotifier(); err != nil {
		return nil, err
	}

	app.Orchestrator = signing.New(app.Store, app.Gateway, app.Notifier,
		signing.WithLockManager(app.Locks),
		signing.WithLogger(app.Logger.WithFields(logging.String("component", "signing"))),
	)

	return app, nil
}

func (app *App) initializeVerifier() error {
	mode, err := signature.ParseMode(app.Config.WebhookVerification)
	if err != nil {
		return err
	}
	verifier, err := signature.NewVerifier(signature.Config{
		Mode:   mode,
		Secret: app.Config.WebhookSecret,
		Header: app.Config.WebhookSignatureHeader,
	}, app.Logger)
	if err != nil {
		return err
	}
	app.Verifier = verifier
	app.Logger.Info("Webhook verification configured",
		logging.String("mode", string(mode)),
		logging.String("header", verifier.Header()))
	return nil
}

func (app *App) initializeNotifier() error {
	sinks := notify.MultiSink{notify.NewLogSink(app.Logger.WithFields(logging.String("component", "notify")))}

	if app.Config.SMTPEnabled {
		smtpSink, err := notify.NewSMTPSink(&notify.SMTPConfig{
			Host:       app.Config.SMTPHost,
			Port:       app.Config.SMTPPort,
			Username:   app.Config.SMTPUsername,
			Password:   app.Config.SMTPPassword,
			From:       app.Config.SMTPFrom,
			FromName:   app.Config.SMTPFromName,
			UseSSL:     app.Config.SMTPUseSSL,
			SkipVerify: app.Config.SMTPSkipVerify,
			Recipient:  app.Config.NotifyRecipient,
		}, app.Logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, smtpSink)
		app.Logger.Info("Notifications: SMTP enabled", logging.String("host", app.Config.SMTPHost))
	}

	app.Notifier = notify.NewInstrumented(sinks)
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Gateway != nil {
		app.Gateway.Stop()
	}
	if app.Locks != nil {
		if err := app.Locks.Close(); err != nil {
			app.Logger.Warn("Error closing lock manager", logging.Err(err))
		}
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Warn("Error closing order store", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
