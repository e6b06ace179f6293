package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var _migrations embed.FS

func newMigrate(cfg *Config) (*migrate.Migrate, error) {
	src, err := iofs.New(_migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("%w: can't open embedded migrations", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("%w: can't create migrate instance", err)
	}
	return m, nil
}

func MigrateUp(cfg *Config) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: can't apply migrations", err)
	}
	return nil
}

// MigrateDown rolls back the last applied migration.
func MigrateDown(cfg *Config) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: can't roll back migration", err)
	}
	return nil
}

func MigrationVersion(cfg *Config) (uint, bool, error) {
	m, err := newMigrate(cfg)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("%w: can't read migration version", err)
	}
	return version, dirty, nil
}
