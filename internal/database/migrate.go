package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

func migrateUp(db *sql.DB, driver, dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	var m *migrate.Migrate
	switch driver {
	case DriverPostgres:
		// the postgres driver pins a connection for its advisory lock and
		// closes the handle it was given, so it gets a handle of its own
		migrationDB, err := sql.Open(driver, dsn)
		if err != nil {
			return err
		}

		dbDriver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
		if err != nil {
			migrationDB.Close()
			return err
		}

		m, err = migrate.NewWithInstance("iofs", src, driver, dbDriver)
		if err != nil {
			return err
		}
		defer m.Close()
	case DriverSqlite:
		// the store's own handle is used so in-memory databases see the schema;
		// closing the migrator would close it
		dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			return err
		}

		m, err = migrate.NewWithInstance("iofs", src, driver, dbDriver)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("no migrations for driver %q", driver)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}
