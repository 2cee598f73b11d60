package encrepo

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/avolkovs/termvault/internal/common"
	"github.com/avolkovs/termvault/internal/cryptox"
	"github.com/avolkovs/termvault/internal/server/keyvault"
	"github.com/avolkovs/termvault/internal/server/schema"
	"github.com/avolkovs/termvault/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a map-backed Store that records every call. It issues
// integer keys for auto-keyed tables the way the real engines do.
type fakeStore struct {
	catalog schema.Catalog
	rows    map[string][]schema.Record
	nextID  int64
	calls   []string

	insertErr error
	selectErr error
	updateErr error
	deleteErr error
}

func newFakeStore(catalog schema.Catalog) *fakeStore {
	return &fakeStore{catalog: catalog, rows: map[string][]schema.Record{}, nextID: 1}
}

func (s *fakeStore) Insert(ctx context.Context, table string, values schema.Record) (schema.Record, error) {
	s.calls = append(s.calls, "insert:"+table)
	if s.insertErr != nil {
		return nil, s.insertErr
	}

	t, err := s.catalog.Lookup(table)
	if err != nil {
		return nil, err
	}

	row := values.Clone()
	if t.AutoKey {
		if _, ok := row[t.Key]; !ok {
			row[t.Key] = s.nextID
			s.nextID++
		}
	}
	s.rows[table] = append(s.rows[table], row)
	return row.Clone(), nil
}

func (s *fakeStore) Select(ctx context.Context, table string, q storage.Query) ([]schema.Record, error) {
	s.calls = append(s.calls, "select:"+table)
	if s.selectErr != nil {
		return nil, s.selectErr
	}

	out := []schema.Record{}
	for _, row := range s.rows[table] {
		if matches(row, q.Where) {
			out = append(out, row.Clone())
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) Update(ctx context.Context, table string, where schema.Where, values schema.Record) ([]schema.Record, error) {
	s.calls = append(s.calls, "update:"+table)
	if s.updateErr != nil {
		return nil, s.updateErr
	}

	out := []schema.Record{}
	for _, row := range s.rows[table] {
		if matches(row, where) {
			for k, v := range values {
				row[k] = v
			}
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) Delete(ctx context.Context, table string, where schema.Where) ([]schema.Record, error) {
	s.calls = append(s.calls, "delete:"+table)
	if s.deleteErr != nil {
		return nil, s.deleteErr
	}

	kept := []schema.Record{}
	out := []schema.Record{}
	for _, row := range s.rows[table] {
		if matches(row, where) {
			out = append(out, row.Clone())
		} else {
			kept = append(kept, row)
		}
	}
	s.rows[table] = kept
	return out, nil
}

func (s *fakeStore) DeleteBefore(ctx context.Context, table string, column string, cutoff any) ([]schema.Record, error) {
	s.calls = append(s.calls, "delete_before:"+table)

	kept := []schema.Record{}
	out := []schema.Record{}
	for _, row := range s.rows[table] {
		if fmt.Sprint(row[column]) <= fmt.Sprint(cutoff) {
			out = append(out, row.Clone())
		} else {
			kept = append(kept, row)
		}
	}
	s.rows[table] = kept
	return out, nil
}

func (s *fakeStore) Flush(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                    { return nil }

func matches(row schema.Record, where schema.Where) bool {
	for k, v := range where {
		if fmt.Sprint(row[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

type fakeSaver struct {
	reasons []string
}

func (s *fakeSaver) TriggerSave(reason string) {
	s.reasons = append(s.reasons, reason)
}

func newTestRepo(t *testing.T) (*Repository, *keyvault.Vault, *fakeStore, *fakeSaver) {
	t.Helper()

	catalog := schema.Default()
	vault, err := keyvault.New(catalog)
	require.NoError(t, err)
	t.Cleanup(vault.Close)

	store := newFakeStore(catalog)
	saver := &fakeSaver{}
	return New(catalog, vault, store, saver), vault, store, saver
}

func TestInsert_EncryptsSensitiveFields(t *testing.T) {
	repo, vault, store, saver := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	rec := schema.Record{
		"user_id":  "alice",
		"name":     "prod-web",
		"address":  "10.0.0.5",
		"password": "hunter2",
	}

	got, err := repo.Insert(context.Background(), "hosts", rec, "alice")
	require.NoError(t, err)

	// Caller sees plaintext again, with the engine-assigned key.
	assert.Equal(t, "hunter2", got["password"])
	assert.Equal(t, int64(1), got["id"])

	// Storage only ever saw ciphertext.
	stored := store.rows["hosts"][0]
	assert.NotEqual(t, "hunter2", stored["password"])
	assert.True(t, cryptox.IsEncryptedValue(stored["password"].(string)))
	assert.Equal(t, "prod-web", stored["name"])

	assert.Equal(t, []string{"insert:hosts"}, saver.reasons)
}

func TestInsert_LockedUser(t *testing.T) {
	repo, _, store, saver := newTestRepo(t)

	_, err := repo.Insert(context.Background(), "hosts",
		schema.Record{"user_id": "alice", "password": "hunter2"}, "alice")

	assert.ErrorIs(t, err, common.ErrAccessDenied)
	assert.Empty(t, store.calls, "a locked insert must not reach storage")
	assert.Empty(t, saver.reasons)
}

func TestInsert_UnknownTable(t *testing.T) {
	repo, vault, _, _ := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	_, err := repo.Insert(context.Background(), "no_such_table", schema.Record{}, "alice")
	assert.Error(t, err)
}

func TestInsert_TempKeyStripped(t *testing.T) {
	repo, vault, store, _ := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	got, err := repo.Insert(context.Background(), "hosts",
		schema.Record{"user_id": "alice", "password": "x"}, "alice")
	require.NoError(t, err)

	// The engine, not the placeholder, assigned the key.
	assert.Equal(t, int64(1), got["id"])
	stored := store.rows["hosts"][0]
	if id, ok := stored["id"].(string); ok {
		assert.False(t, strings.HasPrefix(id, "alice-"),
			"temporary placeholder key leaked into storage")
	}
}

func TestInsert_CallerSuppliedKeyKept(t *testing.T) {
	repo, vault, store, _ := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	got, err := repo.Insert(context.Background(), "users",
		schema.Record{"id": "user-7", "username": "alice"}, "alice")
	require.NoError(t, err)

	assert.Equal(t, "user-7", got["id"])
	assert.Equal(t, "user-7", store.rows["users"][0]["id"])
}

func TestSelect_RoundTrip(t *testing.T) {
	repo, vault, _, _ := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	_, err := repo.Insert(context.Background(), "hosts",
		schema.Record{"user_id": "alice", "name": "a", "password": "hunter2"}, "alice")
	require.NoError(t, err)

	rows, err := repo.Select(context.Background(),
		storage.Query{Where: schema.Where{"user_id": "alice"}}, "hosts", "alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hunter2", rows[0]["password"])
}

func TestSelect_LockedUser(t *testing.T) {
	repo, vault, store, _ := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	_, err := repo.Insert(context.Background(), "hosts",
		schema.Record{"user_id": "alice", "password": "x"}, "alice")
	require.NoError(t, err)

	vault.Lock("alice")
	store.calls = nil

	rows, err := repo.Select(context.Background(), storage.Query{}, "hosts", "alice")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
	assert.Empty(t, store.calls, "a locked select must not touch storage")
}

func TestSelect_WrongUsersKey(t *testing.T) {
	repo, vault, _, _ := newTestRepo(t)
	vault.Unlock("alice", []byte("pw-a"), []byte("salt-a"))
	vault.Unlock("bob", []byte("pw-b"), []byte("salt-b"))

	_, err := repo.Insert(context.Background(), "hosts",
		schema.Record{"user_id": "alice", "password": "x"}, "alice")
	require.NoError(t, err)

	// Bob's query strays into Alice's rows: hard decrypt failure, no leak.
	_, err = repo.Select(context.Background(), storage.Query{}, "hosts", "bob")
	assert.ErrorIs(t, err, common.ErrDecryptFailed)
}

func TestSelectOne(t *testing.T) {
	repo, vault, _, _ := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	_, err := repo.Insert(context.Background(), "hosts",
		schema.Record{"user_id": "alice", "name": "a", "password": "x"}, "alice")
	require.NoError(t, err)

	got, err := repo.SelectOne(context.Background(),
		storage.Query{Where: schema.Where{"name": "a"}}, "hosts", "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "x", got["password"])

	got, err = repo.SelectOne(context.Background(),
		storage.Query{Where: schema.Where{"name": "nope"}}, "hosts", "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdate_PartialEncryptsOnlyPresentFields(t *testing.T) {
	repo, vault, store, saver := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	inserted, err := repo.Insert(context.Background(), "hosts",
		schema.Record{"user_id": "alice", "name": "a", "password": "old", "ssh_key": "key-material"}, "alice")
	require.NoError(t, err)

	before := store.rows["hosts"][0]["ssh_key"]

	rows, err := repo.Update(context.Background(), "hosts",
		schema.Where{"id": inserted["id"]},
		schema.Record{"password": "new"}, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0]["password"])
	assert.Equal(t, "key-material", rows[0]["ssh_key"])

	// Untouched ciphertext stays byte-identical.
	assert.Equal(t, before, store.rows["hosts"][0]["ssh_key"])
	assert.Contains(t, saver.reasons, "update:hosts")
}

func TestUpdate_LockedUser(t *testing.T) {
	repo, _, store, saver := newTestRepo(t)

	_, err := repo.Update(context.Background(), "hosts",
		schema.Where{"id": 1}, schema.Record{"name": "x"}, "alice")

	assert.ErrorIs(t, err, common.ErrAccessDenied)
	assert.Empty(t, store.calls)
	assert.Empty(t, saver.reasons)
}

func TestUpdate_ZeroMatch(t *testing.T) {
	repo, vault, _, _ := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	rows, err := repo.Update(context.Background(), "hosts",
		schema.Where{"id": 999}, schema.Record{"name": "x"}, "alice")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDelete_AllowedWhileLocked(t *testing.T) {
	repo, vault, store, saver := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	inserted, err := repo.Insert(context.Background(), "hosts",
		schema.Record{"user_id": "alice", "password": "x"}, "alice")
	require.NoError(t, err)

	vault.Lock("alice")
	saver.reasons = nil

	rows, err := repo.Delete(context.Background(), "hosts",
		schema.Where{"id": inserted["id"]}, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Removed rows come back as stored: ciphertext, not plaintext.
	assert.True(t, cryptox.IsEncryptedValue(rows[0]["password"].(string)))
	assert.Empty(t, store.rows["hosts"])
	assert.Equal(t, []string{"delete:hosts"}, saver.reasons)
}

func TestStoreErrors_NoSaveSignal(t *testing.T) {
	repo, vault, store, saver := newTestRepo(t)
	vault.Unlock("alice", []byte("pw"), []byte("salt"))

	store.insertErr = fmt.Errorf("constraint violation")
	_, err := repo.Insert(context.Background(), "hosts",
		schema.Record{"user_id": "alice", "password": "x"}, "alice")
	assert.Error(t, err)

	store.updateErr = fmt.Errorf("boom")
	_, err = repo.Update(context.Background(), "hosts",
		schema.Where{"id": 1}, schema.Record{"name": "x"}, "alice")
	assert.Error(t, err)

	store.deleteErr = fmt.Errorf("boom")
	_, err = repo.Delete(context.Background(), "hosts", schema.Where{"id": 1}, "alice")
	assert.Error(t, err)

	assert.Empty(t, saver.reasons, "failed writes must not trigger a save")
}

func TestTempRecordID_Unique(t *testing.T) {
	a := tempRecordID("alice")
	b := tempRecordID("alice")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "alice-"))
}
