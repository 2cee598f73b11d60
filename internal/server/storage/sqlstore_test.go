package storage

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/avolkovs/termvault/internal/server/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockStore wires the shared CRUD layer to sqlmock with Postgres-style
// positional placeholders, to pin down the exact SQL both backends generate.
func newMockStore(t *testing.T) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &sqlStore{
		db:          db,
		catalog:     schema.Default(),
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}, mock
}

func TestSQLStore_InsertSQL(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"INSERT INTO hosts (name, password, user_id) VALUES ($1, $2, $3) RETURNING *")).
		WithArgs("prod-web", "v1:nonce:blob", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "password"}).
			AddRow(int64(7), "u1", "prod-web", "v1:nonce:blob"))

	// Map iteration order must not leak into the statement: columns are
	// emitted sorted.
	row, err := s.Insert(context.Background(), "hosts", schema.Record{
		"user_id":  "u1",
		"password": "v1:nonce:blob",
		"name":     "prod-web",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), row["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_InsertExpectsExactlyOneRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO hosts")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Insert(context.Background(), "hosts", schema.Record{"name": "x"})
	assert.ErrorContains(t, err, "expected 1 returned row")
}

func TestSQLStore_SelectSQL(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM hosts WHERE user_id = $1 ORDER BY name DESC LIMIT 10")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "b").
			AddRow(int64(2), "a"))

	rows, err := s.Select(context.Background(), "hosts", Query{
		Where:   schema.Where{"user_id": "u1"},
		OrderBy: "name",
		Desc:    true,
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_WherePredicatesSortedAndNullAware(t *testing.T) {
	s, mock := newMockStore(t)

	// credential_id is nil: rendered as IS NULL, consuming no placeholder;
	// the remaining predicates keep their sorted order.
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM hosts WHERE credential_id IS NULL AND name = $1 AND user_id = $2")).
		WithArgs("a", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Select(context.Background(), "hosts", Query{
		Where: schema.Where{"user_id": "u1", "credential_id": nil, "name": "a"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateSQL(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE hosts SET name = $1, password = $2 WHERE id = $3 RETURNING *")).
		WithArgs("new-name", "v1:n:c", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "password"}).
			AddRow(int64(7), "new-name", "v1:n:c"))

	rows, err := s.Update(context.Background(), "hosts",
		schema.Where{"id": int64(7)},
		schema.Record{"password": "v1:n:c", "name": "new-name"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteSQL(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"DELETE FROM refresh_tokens WHERE token = $1 RETURNING *")).
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"token", "user_id"}).
			AddRow("tok-1", "u1"))

	rows, err := s.Delete(context.Background(), "refresh_tokens",
		schema.Where{"token": "tok-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0]["user_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteBeforeSQL(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"DELETE FROM refresh_tokens WHERE expires_at <= $1 RETURNING *")).
		WithArgs("2026-01-01T00:00:00.000000000Z").
		WillReturnRows(sqlmock.NewRows([]string{"token", "user_id"}).
			AddRow("tok-1", "u1").
			AddRow("tok-2", "u2"))

	rows, err := s.DeleteBefore(context.Background(), "refresh_tokens",
		"expires_at", "2026-01-01T00:00:00.000000000Z")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteBeforeGuards(t *testing.T) {
	s, mock := newMockStore(t)

	_, err := s.DeleteBefore(context.Background(), "refresh_tokens", "bogus", "x")
	assert.ErrorContains(t, err, "unknown column")

	_, err = s.DeleteBefore(context.Background(), "refresh_tokens", "expires_at", nil)
	assert.ErrorContains(t, err, "nil cutoff")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ByteSliceValuesNormalized(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "salt"}).
			AddRow("u1", []byte("aabbcc")))

	rows, err := s.Select(context.Background(), "users", Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "aabbcc", rows[0]["salt"])
}

func TestSQLStore_GuardsRunBeforeSQL(t *testing.T) {
	s, mock := newMockStore(t)

	_, err := s.Insert(context.Background(), "hosts", schema.Record{})
	assert.ErrorContains(t, err, "no columns")

	_, err = s.Insert(context.Background(), "hosts", schema.Record{"bogus": 1})
	assert.ErrorContains(t, err, "unknown column")

	_, err = s.Update(context.Background(), "hosts",
		schema.Where{"id": 1}, schema.Record{"id": 2})
	assert.ErrorContains(t, err, "cannot be updated")

	_, err = s.Delete(context.Background(), "hosts", schema.Where{"bogus": 1})
	assert.ErrorContains(t, err, "unknown predicate column")

	// None of the rejected calls may have reached the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}
