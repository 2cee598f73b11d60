// Package storage implements the table collaborator behind the encrypted
// record layer: generic insert/select/update/delete against the governed
// tables, plus the durable Flush the persistence coordinator coalesces.
//
// Two backends share one interface. The SQLite backend keeps the working
// database in memory and serializes it to a snapshot file on Flush, which is
// the expensive durable write the coordinator exists for. The Postgres
// backend writes durably on every statement, so its Flush is a no-op.
package storage

import (
	"context"

	"github.com/avolkovs/termvault/internal/server/schema"
)

// Query narrows a Select. The zero value selects every row of the table.
type Query struct {
	Where   schema.Where
	OrderBy string // must be a declared column
	Desc    bool
	Limit   int
}

// Store is the storage engine seen by the encrypted repository. All writes
// are immediately visible to subsequent queries; only durability of the
// SQLite backend is deferred until Flush.
type Store interface {
	// Insert writes one row and returns it as stored, including any
	// engine-assigned key and column defaults.
	Insert(ctx context.Context, table string, values schema.Record) (schema.Record, error)

	// Select returns the rows matching q.
	Select(ctx context.Context, table string, q Query) ([]schema.Record, error)

	// Update applies values to every row matching where and returns the
	// affected rows. A zero-match update returns an empty slice, not an
	// error. The predicate must not be empty.
	Update(ctx context.Context, table string, where schema.Where, values schema.Record) ([]schema.Record, error)

	// Delete removes every row matching where and returns the removed rows.
	// The predicate must not be empty.
	Delete(ctx context.Context, table string, where schema.Where) ([]schema.Record, error)

	// DeleteBefore removes every row whose column value sorts at or before
	// cutoff and returns the removed rows. One statement regardless of how
	// many rows expire; used by sweep paths.
	DeleteBefore(ctx context.Context, table string, column string, cutoff any) ([]schema.Record, error)

	// Flush persists current state to the durable medium.
	Flush(ctx context.Context) error

	Close() error
}
