package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avolkovs/termvault/internal/server/migrations"
	"github.com/avolkovs/termvault/internal/server/schema"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore writes through to Postgres, which is durable on commit, so
// Flush has nothing left to do. It exists so deployments that already run a
// database server can skip the snapshot machinery entirely.
type PostgresStore struct {
	sqlStore
}

func NewPostgresStore(ctx context.Context, dsn string, catalog schema.Catalog) (*PostgresStore, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := migrations.Run(ctx, db, migrations.DialectPostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &PostgresStore{
		sqlStore: sqlStore{
			db:          db,
			catalog:     catalog,
			placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		},
	}, nil
}

// Flush is a no-op: every statement is already durable.
func (s *PostgresStore) Flush(ctx context.Context) error {
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
