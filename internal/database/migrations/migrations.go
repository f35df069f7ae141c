// Package migrations embeds the engine's goose migrations and exposes a
// Run helper for cmd/epimem-migrate and integration test setup.
package migrations

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

// Run applies all pending migrations to db, which must already be open
// against the target database.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

// Status reports the current migration version without applying anything.
func Status(db *sql.DB) (int64, error) {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
