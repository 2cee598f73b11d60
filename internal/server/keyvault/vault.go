// Package keyvault holds per-user symmetric keys in memory for the duration
// of an unlocked session and applies the table field policy when rows cross
// the storage boundary.
//
// Keys exist only between Unlock and Lock. Nothing in this package ever
// writes key material to durable storage.
package keyvault

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avolkovs/termvault/internal/common"
	"github.com/avolkovs/termvault/internal/cryptox"
	"github.com/avolkovs/termvault/internal/server/schema"
)

// KeyHandle is a caller-owned copy of an unlocked user key. Locking the user
// wipes the vault's copy; handles already held by in-flight operations stay
// valid until they are garbage collected.
type KeyHandle []byte

type entry struct {
	key      []byte
	lastUsed atomic.Int64 // unix nanos
}

func (e *entry) touch() {
	e.lastUsed.Store(time.Now().UnixNano())
}

// Vault owns the in-memory user-key map. One instance per process, injected
// into every component that encrypts or decrypts rows.
type Vault struct {
	catalog schema.Catalog

	mu   sync.RWMutex
	keys map[string]*entry
}

func New(catalog schema.Catalog) (*Vault, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field policy: %w", err)
	}

	return &Vault{
		catalog: catalog,
		keys:    make(map[string]*entry),
	}, nil
}

// Unlock derives the user's symmetric key from credential material and the
// user's salt, and stores it. Idempotent: unlocking an already-unlocked user
// replaces the held key with a freshly derived one.
//
// Callers that must verify the credential first (the login path) derive and
// check the key themselves and install it with UnlockWithKey, so a wrong
// credential never puts a key into the vault.
func (v *Vault) Unlock(userID string, credential, salt []byte) KeyHandle {
	return v.UnlockWithKey(userID, cryptox.DeriveUserKey(credential, salt))
}

// UnlockWithKey stores an already-derived key for the user. The vault takes
// ownership of key; the returned handle is the caller's copy.
func (v *Vault) UnlockWithKey(userID string, key []byte) KeyHandle {
	e := &entry{key: key}
	e.touch()

	v.mu.Lock()
	if old, ok := v.keys[userID]; ok {
		common.WipeByteArray(old.key)
	}
	v.keys[userID] = e
	v.mu.Unlock()

	return cloneKey(key)
}

// Lock removes and zeroes the user's key material. Idempotent.
func (v *Vault) Lock(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if e, ok := v.keys[userID]; ok {
		common.WipeByteArray(e.key)
		delete(v.keys, userID)
	}
}

// GetKey is the non-failing lookup used on read paths: callers degrade to an
// empty result when the second return value is false.
func (v *Vault) GetKey(userID string) (KeyHandle, bool) {
	v.mu.RLock()
	e, ok := v.keys[userID]
	v.mu.RUnlock()

	if !ok {
		return nil, false
	}

	e.touch()
	return cloneKey(e.key), true
}

// RequireKey is the failing lookup used on write paths, where proceeding
// without a key would silently corrupt or lose data.
func (v *Vault) RequireKey(userID string) (KeyHandle, error) {
	key, ok := v.GetKey(userID)
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, common.ErrAccessDenied)
	}
	return key, nil
}

// CanAccess reports whether the user currently has an unlocked key.
func (v *Vault) CanAccess(userID string) bool {
	_, ok := v.GetKey(userID)
	return ok
}

// EncryptFields returns a copy of record with every sensitive field of the
// table sealed under key. Absent and nil fields are left untouched so their
// absence stays introspectable by storage constraints.
func (v *Vault) EncryptFields(table string, record schema.Record, key KeyHandle) (schema.Record, error) {
	t, err := v.catalog.Lookup(table)
	if err != nil {
		return nil, err
	}

	out := record.Clone()
	for _, field := range t.Sensitive {
		value, ok := out[field]
		if !ok || value == nil {
			continue
		}

		plaintext, ok := stringValue(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s holds %T, want string", common.ErrEncryptFailed, table, field, value)
		}

		blob, err := cryptox.EncryptValue(plaintext, []byte(key))
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", common.ErrEncryptFailed, table, field, err)
		}
		out[field] = blob
	}

	return out, nil
}

// DecryptFields is the inverse of EncryptFields. A sensitive field that
// cannot be authenticated under key — wrong key or tampered data — fails the
// whole record with ErrDecryptFailed; garbage plaintext is never returned.
func (v *Vault) DecryptFields(table string, record schema.Record, key KeyHandle) (schema.Record, error) {
	t, err := v.catalog.Lookup(table)
	if err != nil {
		return nil, err
	}

	out := record.Clone()
	for _, field := range t.Sensitive {
		value, ok := out[field]
		if !ok || value == nil {
			continue
		}

		blob, ok := stringValue(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s holds %T, want string", common.ErrDecryptFailed, table, field, value)
		}

		plaintext, err := cryptox.DecryptValue(blob, []byte(key))
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", common.ErrDecryptFailed, table, field, err)
		}
		out[field] = plaintext
	}

	return out, nil
}

// SweepIdle locks every user whose key has not been used for at least
// idleFor. Returns the number of keys removed. Intended to run periodically
// from the app so unlocked sessions do not accumulate without bound.
func (v *Vault) SweepIdle(idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor).UnixNano()

	v.mu.Lock()
	defer v.mu.Unlock()

	removed := 0
	for userID, e := range v.keys {
		if e.lastUsed.Load() < cutoff {
			common.WipeByteArray(e.key)
			delete(v.keys, userID)
			removed++
		}
	}
	return removed
}

// Close wipes every held key. Called at process shutdown.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for userID, e := range v.keys {
		common.WipeByteArray(e.key)
		delete(v.keys, userID)
	}
}

func cloneKey(key []byte) KeyHandle {
	out := make([]byte, len(key))
	copy(out, key)
	return out
}

// stringValue normalizes driver-returned values: TEXT columns may scan as
// string or []byte depending on the backend.
func stringValue(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case []byte:
		return string(value), true
	default:
		return "", false
	}
}
