package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// Migrate applies every pending migration for the dialect of db. Running it
// against an up-to-date schema is a no-op.
func Migrate(db *sqlx.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("database: migrate up: %w", err)
	}
	return nil
}

// Version returns the applied schema version and whether the last migration
// left the schema dirty.
func Version(db *sqlx.DB) (uint, bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// newMigrator binds the embedded migrations to db. The returned migrator is
// never closed: closing it would close db as well.
func newMigrator(db *sqlx.DB) (*migrate.Migrate, error) {
	dialect := Dialect(db)
	src, err := iofs.New(migrationFS, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("database: load migrations: %w", err)
	}

	switch dialect {
	case DriverPostgres:
		drv, err := migratepgx.WithInstance(db.DB, &migratepgx.Config{})
		if err != nil {
			return nil, fmt.Errorf("database: migrate driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "pgx5", drv)
	default:
		drv, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("database: migrate driver: %w", err)
		}
		return migrate.NewWithInstance("iofs", src, "sqlite", drv)
	}
}
