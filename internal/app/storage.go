package app

import (
	"fmt"

	"signflow/internal/common/logging"
	"signflow/internal/storage"
	_ "signflow/internal/storage/memory"
	_ "signflow/internal/storage/postgres"
	_ "signflow/internal/storage/sqlite"
)

func (app *App) initializeStorage() error {
	storageConfig := storage.Config{Type: app.Config.StorageType()}

	switch storageConfig.Type {
	case "postgres":
		app.Logger.Info("Database: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.Int("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
		storageConfig.Host = app.Config.PostgresHost
		storageConfig.Port = app.Config.PostgresPort
		storageConfig.Database = app.Config.PostgresDB
		storageConfig.Username = app.Config.PostgresUser
		storageConfig.Password = app.Config.PostgresPassword
		storageConfig.SSLMode = app.Config.PostgresSSLMode
	case "sqlite":
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
		storageConfig.Path = app.Config.DatabasePath
	default:
		app.Logger.Warn("Database: in-memory, orders are lost on restart")
	}

	store, err := storage.Create(storageConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.Store = store
	return nil
}
