// Package migrations применяет встроенные SQL-миграции к PostgreSQL.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	schema "github.com/magabrotheeeer/quote-of-the-day/migrations"
)

// Run применяет все миграции из встроенной схемы.
func Run(db *sql.DB) error {
	return RunFS(db, schema.FS, ".")
}

// RunFS применяет миграции из каталога dir файловой системы fsys.
// Отсутствие новых миграций не считается ошибкой.
func RunFS(db *sql.DB, fsys fs.FS, dir string) error {
	const op = "migrations.Run"

	source, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("%s: source: %w", op, err)
	}
	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("%s: driver: %w", op, err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx_v5", driver)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: up: %w", op, err)
	}
	return nil
}
