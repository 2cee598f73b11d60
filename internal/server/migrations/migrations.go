// Package migrations embeds the schema migrations for both storage backends
// and applies them with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Run applies all pending migrations for the given dialect.
func Run(ctx context.Context, db *sql.DB, dialect Dialect) error {
	dir := "sqlite"
	if dialect == DialectPostgres {
		dir = "postgres"
	}

	sub, err := fs.Sub(files, dir)
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	goose.SetBaseFS(sub)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(string(dialect)); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}
