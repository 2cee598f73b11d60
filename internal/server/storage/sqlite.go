package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/avolkovs/termvault/internal/common"
	"github.com/avolkovs/termvault/internal/server/migrations"
	"github.com/avolkovs/termvault/internal/server/schema"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the working database entirely in memory and owns the
// snapshot file it is restored from and flushed to. Statement writes are
// cheap and immediately visible; durability happens only in Flush, which
// serializes the whole database. The single pooled connection pins the
// in-memory database for the lifetime of the store.
type SQLiteStore struct {
	sqlStore
	snapshotPath string
}

func NewSQLiteStore(ctx context.Context, snapshotPath string, catalog schema.Catalog) (*SQLiteStore, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	// The in-memory database exists per connection; a second connection
	// would see an empty database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		sqlStore: sqlStore{
			db:          db,
			catalog:     catalog,
			placeholder: func(int) string { return "?" },
		},
		snapshotPath: snapshotPath,
	}

	if err := s.restore(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrations.Run(ctx, db, migrations.DialectSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return s, nil
}

// restore loads the previous snapshot, if any, into the in-memory database:
// schema objects first, then table contents. Runs before migrations so a
// snapshot written by an older version is upgraded in place.
func (s *SQLiteStore) restore(ctx context.Context) error {
	if _, err := os.Stat(s.snapshotPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat snapshot: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "ATTACH DATABASE ? AS snap", s.snapshotPath); err != nil {
		return fmt.Errorf("attach snapshot: %w", err)
	}
	defer s.db.ExecContext(ctx, "DETACH DATABASE snap")

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, sql FROM snap.sqlite_master
		 WHERE type IN ('table', 'index') AND sql IS NOT NULL
		 AND name NOT LIKE 'sqlite_%'
		 ORDER BY CASE type WHEN 'table' THEN 0 ELSE 1 END`)
	if err != nil {
		return fmt.Errorf("read snapshot schema: %w", err)
	}

	type object struct{ name, ddl string }
	var tables []string
	var ddls []string

	for rows.Next() {
		var o object
		if err := rows.Scan(&o.name, &o.ddl); err != nil {
			rows.Close()
			return err
		}
		ddls = append(ddls, o.ddl)
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(o.ddl)), "CREATE TABLE") {
			tables = append(tables, o.name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, ddl := range ddls {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("recreate snapshot object: %w", err)
		}
	}

	for _, table := range tables {
		stmt := fmt.Sprintf("INSERT INTO main.%s SELECT * FROM snap.%s", table, table)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("restore table %s: %w", table, err)
		}
	}

	// Carry the AUTOINCREMENT high-water marks over so key values of rows
	// deleted before the snapshot are never reissued.
	var hasSeq int
	err = s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM snap.sqlite_master WHERE name = 'sqlite_sequence'").Scan(&hasSeq)
	if err != nil {
		return err
	}
	if hasSeq > 0 {
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO main.sqlite_sequence SELECT * FROM snap.sqlite_sequence"); err != nil {
			return fmt.Errorf("restore sequences: %w", err)
		}
	}

	return nil
}

// Flush serializes the in-memory database to a temp file next to the
// snapshot and renames it into place, so a crash mid-flush leaves the
// previous snapshot intact.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	tmp, err := flushTempName(s.snapshotPath)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("serialize database: %w", err)
	}

	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SnapshotPath returns the durable snapshot location (used by the off-site
// snapshot uploader).
func (s *SQLiteStore) SnapshotPath() string {
	return s.snapshotPath
}

// flushTempName builds a unique sibling name; VACUUM INTO refuses to write
// to an existing file.
func flushTempName(path string) (string, error) {
	suffix, err := common.MakeRandHexString(6)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".flush-"+suffix), nil
}
