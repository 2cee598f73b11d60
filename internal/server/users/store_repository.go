package users

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/avolkovs/termvault/internal/common"
	"github.com/avolkovs/termvault/internal/server/schema"
	"github.com/avolkovs/termvault/internal/server/storage"
	"github.com/google/uuid"
)

// Saver receives a mutation signal after every successful account write.
type Saver interface {
	TriggerSave(reason string)
}

// StoreRepository persists accounts through the storage engine directly,
// bypassing the encrypted repository: the users table carries no sensitive
// columns, and salt lookup must work before any key is unlocked.
type StoreRepository struct {
	store storage.Store
	saver Saver
}

func NewStoreRepository(store storage.Store, saver Saver) *StoreRepository {
	return &StoreRepository{store: store, saver: saver}
}

func (r *StoreRepository) Create(ctx context.Context, user *User) (*User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	rec := schema.Record{
		"id":       user.ID,
		"username": user.UserName,
		"salt":     hex.EncodeToString(user.Salt),
		"verifier": hex.EncodeToString(user.Verifier),
		"is_admin": user.IsAdmin,
	}
	if user.OIDCSubject != "" {
		rec["oidc_subject"] = user.OIDCSubject
	}
	if user.TOTPSecret != "" {
		rec["totp_secret"] = user.TOTPSecret
	}
	if user.TOTPBackupCodes != "" {
		rec["totp_backup_codes"] = user.TOTPBackupCodes
	}

	stored, err := r.store.Insert(ctx, "users", rec)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	r.saver.TriggerSave("insert:users")

	return recordToUser(stored)
}

func (r *StoreRepository) GetUserByLogin(ctx context.Context, login string) (*User, error) {
	return r.getOne(ctx, schema.Where{"username": login})
}

func (r *StoreRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.getOne(ctx, schema.Where{"id": id})
}

func (r *StoreRepository) getOne(ctx context.Context, where schema.Where) (*User, error) {
	rows, err := r.store.Select(ctx, "users", storage.Query{Where: where, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("error performing user lookup: %w", err)
	}
	if len(rows) == 0 {
		return nil, common.ErrorNotFound
	}
	return recordToUser(rows[0])
}

func recordToUser(rec schema.Record) (*User, error) {
	u := &User{
		ID:       asString(rec["id"]),
		UserName: asString(rec["username"]),
	}

	salt, err := hex.DecodeString(asString(rec["salt"]))
	if err != nil {
		return nil, fmt.Errorf("malformed user salt: %w", err)
	}
	u.Salt = salt

	verifier, err := hex.DecodeString(asString(rec["verifier"]))
	if err != nil {
		return nil, fmt.Errorf("malformed user verifier: %w", err)
	}
	u.Verifier = verifier

	u.IsAdmin = asBool(rec["is_admin"])
	u.OIDCSubject = asString(rec["oidc_subject"])
	u.TOTPSecret = asString(rec["totp_secret"])
	u.TOTPBackupCodes = asString(rec["totp_backup_codes"])
	u.CreatedAt = asTime(rec["created_at"])

	return u, nil
}

func asString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case []byte:
		return string(value)
	default:
		return ""
	}
}

func asBool(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case int64:
		return value != 0
	default:
		return false
	}
}

func asTime(v any) time.Time {
	switch value := v.(type) {
	case time.Time:
		return value
	case string:
		if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
