package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
)

//go:embed schema/*.sql
var schemas embed.FS

// Migrate applies the embedded schema for dialect. Every statement is
// idempotent, so running it against an existing database is safe.
func Migrate(ctx context.Context, d *sql.DB, dialect Dialect) error {
	name := "schema/sqlite.sql"
	if dialect == Postgres {
		name = "schema/postgres.sql"
	}
	b, err := schemas.ReadFile(name)
	if err != nil {
		return err
	}
	if _, err := d.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply %s: %w", name, err)
	}
	return nil
}
