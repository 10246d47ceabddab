package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/hivedb/hivedb/internal/app"
	"github.com/hivedb/hivedb/internal/config"
)

// RunMigrations executes catalog database migrations based on the configured
// driver. Returns nil if no migrations need to be applied.
func RunMigrations() error {
	cfg := config.Load()

	// Create container just for logger
	container := app.NewContainer(cfg)
	logger := container.Logger()

	logger.Info("running database migrations",
		slog.String("driver", cfg.DBDriver),
	)

	// Determine migration path based on driver
	migrationsPath := "file://migrations/sqlite"
	databaseURL := cfg.DBConnectionString
	if cfg.DBDriver == "postgres" {
		migrationsPath = "file://migrations/postgresql"
	} else if !strings.HasPrefix(databaseURL, "sqlite://") {
		// The sql driver accepts file: DSNs, migrate needs a sqlite:// URL.
		databaseURL = "sqlite://" + strings.TrimPrefix(databaseURL, "file:")
	}

	m, err := migrate.New(migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer closeMigrate(m, logger)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("migrations completed successfully")
	return nil
}
