// Package migrate applies the kernel's embedded SQL schema with
// golang-migrate, the same "apply on startup, idempotent, embedded source"
// shape the teacher's internal/platform/migrations package uses — swapped
// here for the real golang-migrate/migrate/v4 library rather than a
// hand-rolled file-exec loop.
package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var schemaFiles embed.FS

// Apply runs every pending up migration against db. It is safe to call on
// every process start: golang-migrate tracks the applied version in its own
// schema_migrations table and is a no-op once the schema is current.
func Apply(db *sql.DB) error {
	src, err := iofs.New(schemaFiles, "sql")
	if err != nil {
		return fmt.Errorf("migrate: load embedded source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrate: postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate: build migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: apply: %w", err)
	}
	return nil
}
