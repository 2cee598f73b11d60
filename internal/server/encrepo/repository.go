// Package encrepo wraps the storage engine with the per-user encryption
// contract: sensitive fields never cross into storage in clear text, and
// never come back out without the calling user's unlocked key.
//
// All operations are scoped per call by userID. Scoping the query itself to
// the right user is the caller's responsibility, but decryption always uses
// the calling user's key, so a query that strays into another user's rows
// fails decryption instead of leaking them.
package encrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/avolkovs/termvault/internal/server/keyvault"
	"github.com/avolkovs/termvault/internal/server/schema"
	"github.com/avolkovs/termvault/internal/server/storage"
	"github.com/google/uuid"
)

// Vault is the key-lifecycle collaborator (implemented by keyvault.Vault).
type Vault interface {
	GetKey(userID string) (keyvault.KeyHandle, bool)
	RequireKey(userID string) (keyvault.KeyHandle, error)
	EncryptFields(table string, record schema.Record, key keyvault.KeyHandle) (schema.Record, error)
	DecryptFields(table string, record schema.Record, key keyvault.KeyHandle) (schema.Record, error)
}

// Saver receives a mutation signal after every successful write
// (implemented by persist.Coordinator).
type Saver interface {
	TriggerSave(reason string)
}

type Repository struct {
	catalog schema.Catalog
	vault   Vault
	store   storage.Store
	saver   Saver
}

func New(catalog schema.Catalog, vault Vault, store storage.Store, saver Saver) *Repository {
	return &Repository{catalog: catalog, vault: vault, store: store, saver: saver}
}

// Insert encrypts the record's sensitive fields and writes it through.
// Fails with ErrAccessDenied when the user is locked; storage errors
// propagate unchanged. The returned record is decrypted, including any
// engine-assigned key and column defaults.
func (r *Repository) Insert(ctx context.Context, table string, record schema.Record, userID string) (schema.Record, error) {
	t, err := r.catalog.Lookup(table)
	if err != nil {
		return nil, err
	}

	key, err := r.vault.RequireKey(userID)
	if err != nil {
		return nil, err
	}

	rec := record.Clone()

	// Encryption needs an identifier to bind to even before the engine has
	// issued the definitive key. The temporary one is stripped again below
	// when the engine assigns keys itself; it is never reused.
	tempKey := false
	if v, ok := rec[t.Key]; !ok || v == nil {
		rec[t.Key] = tempRecordID(userID)
		tempKey = true
	}

	enc, err := r.vault.EncryptFields(table, rec, key)
	if err != nil {
		return nil, err
	}

	if tempKey && t.AutoKey {
		delete(enc, t.Key)
	}

	stored, err := r.store.Insert(ctx, table, enc)
	if err != nil {
		return nil, err
	}

	r.saver.TriggerSave("insert:" + table)

	return r.vault.DecryptFields(table, stored, key)
}

// Select runs the query and decrypts every returned row. A locked user gets
// an empty result with no error — and no storage access, so row existence is
// not leaked either. A row that fails decryption is a hard error: corrupt
// ciphertext is a data-integrity signal, not something to drop silently.
func (r *Repository) Select(ctx context.Context, q storage.Query, table string, userID string) ([]schema.Record, error) {
	key, ok := r.vault.GetKey(userID)
	if !ok {
		return []schema.Record{}, nil
	}

	rows, err := r.store.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}

	out := make([]schema.Record, 0, len(rows))
	for _, row := range rows {
		dec, err := r.vault.DecryptFields(table, row, key)
		if err != nil {
			return nil, err
		}
		out = append(out, dec)
	}

	return out, nil
}

// SelectOne is Select limited to one row. Locked users and absent rows both
// yield (nil, nil).
func (r *Repository) SelectOne(ctx context.Context, q storage.Query, table string, userID string) (schema.Record, error) {
	q.Limit = 1

	rows, err := r.Select(ctx, q, table, userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Update encrypts only the fields present in partial — untouched sensitive
// fields keep their existing ciphertext — and returns the affected rows
// decrypted. A zero-match update is an empty result, not an error.
func (r *Repository) Update(ctx context.Context, table string, where schema.Where, partial schema.Record, userID string) ([]schema.Record, error) {
	key, err := r.vault.RequireKey(userID)
	if err != nil {
		return nil, err
	}

	enc, err := r.vault.EncryptFields(table, partial, key)
	if err != nil {
		return nil, err
	}

	rows, err := r.store.Update(ctx, table, where, enc)
	if err != nil {
		return nil, err
	}

	r.saver.TriggerSave("update:" + table)

	out := make([]schema.Record, 0, len(rows))
	for _, row := range rows {
		dec, err := r.vault.DecryptFields(table, row, key)
		if err != nil {
			return nil, err
		}
		out = append(out, dec)
	}

	return out, nil
}

// Delete removes matching rows and returns them as stored, without
// decryption. Deletion deliberately does not require an unlocked key:
// removing ciphertext is not a confidentiality operation, and callers
// authorize deletes a layer above. The asymmetry with Insert/Update is
// intentional and pinned down by tests.
func (r *Repository) Delete(ctx context.Context, table string, where schema.Where, userID string) ([]schema.Record, error) {
	rows, err := r.store.Delete(ctx, table, where)
	if err != nil {
		return nil, err
	}

	r.saver.TriggerSave("delete:" + table)

	return rows, nil
}

// tempRecordID builds a collision-resistant placeholder key:
// userID + timestamp + random suffix.
func tempRecordID(userID string) string {
	return fmt.Sprintf("%s-%d-%s", userID, time.Now().UnixNano(), uuid.NewString()[:8])
}
