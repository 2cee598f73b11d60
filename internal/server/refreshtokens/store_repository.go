package refreshtokens

import (
	"context"
	"fmt"
	"time"

	"github.com/avolkovs/termvault/internal/common"
	"github.com/avolkovs/termvault/internal/server/schema"
	"github.com/avolkovs/termvault/internal/server/storage"
)

// Saver receives a mutation signal after every successful token write.
type Saver interface {
	TriggerSave(reason string)
}

type StoreRepository struct {
	store storage.Store
	saver Saver
}

func NewStoreRepository(store storage.Store, saver Saver) *StoreRepository {
	return &StoreRepository{store: store, saver: saver}
}

// expiryLayout is fixed-width (no trimmed fractional zeros) so stored expiry
// strings sort the same lexicographically as chronologically, which the
// single-statement expiry sweep relies on with the TEXT-typed backend.
const expiryLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (r *StoreRepository) Create(ctx context.Context, userID string, token string, validity time.Duration) error {
	rec := schema.Record{
		"token":      token,
		"user_id":    userID,
		"expires_at": time.Now().Add(validity).UTC().Format(expiryLayout),
	}

	if _, err := r.store.Insert(ctx, "refresh_tokens", rec); err != nil {
		return fmt.Errorf("error creating refresh token: %w", err)
	}

	r.saver.TriggerSave("insert:refresh_tokens")
	return nil
}

func (r *StoreRepository) Find(ctx context.Context, token string) (*RefreshToken, error) {
	rows, err := r.store.Select(ctx, "refresh_tokens", storage.Query{
		Where: schema.Where{"token": token},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if len(rows) == 0 {
		return nil, common.ErrorNotFound
	}

	rec := rows[0]
	return &RefreshToken{
		Token:   asString(rec["token"]),
		UserID:  asString(rec["user_id"]),
		Expires: asTime(rec["expires_at"]),
	}, nil
}

func (r *StoreRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.store.Delete(ctx, "refresh_tokens", schema.Where{"token": token}); err != nil {
		return fmt.Errorf("error deleting refresh token: %w", err)
	}

	r.saver.TriggerSave("delete:refresh_tokens")
	return nil
}

// DeleteExpired removes tokens past their expiry in one statement. Sweeping
// runs from the app loop alongside the vault's idle sweep.
func (r *StoreRepository) DeleteExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Format(expiryLayout)

	rows, err := r.store.DeleteBefore(ctx, "refresh_tokens", "expires_at", cutoff)
	if err != nil {
		return 0, err
	}

	if len(rows) > 0 {
		r.saver.TriggerSave("delete:refresh_tokens")
	}
	return len(rows), nil
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
