package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"bizops/pkg/config"
)

// MigrateConfig applies every pending up-migration found at migrationsPath (e.g. file://migrations).
func MigrateConfig(migrationsPath string, cfg config.Config) error {
	return withMigrator(migrationsPath, cfg, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// Rollback undoes the last steps migrations. It is a dev tool; the server only migrates up.
func Rollback(migrationsPath string, cfg config.Config, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	return withMigrator(migrationsPath, cfg, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down %d: %w", steps, err)
		}
		return nil
	})
}

// MigrateURL is MigrateConfig against an explicit connection string.
func MigrateURL(migrationsPath, connString string) error {
	return MigrateConfig(migrationsPath, config.Config{DirectURL: connString})
}

func withMigrator(migrationsPath string, cfg config.Config, fn func(m *migrate.Migrate) error) error {
	m, err := migrate.New(migrationsPath, migrationConnString(cfg))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	return fn(m)
}
