// Package refreshtokens stores the opaque refresh tokens that let a client
// renew its access token without re-entering credentials. Renewal never
// re-derives the user's key, so tokens must stay readable while the vault
// is locked; the table carries no sensitive columns.
package refreshtokens

import (
	"context"
	"time"
)

type RefreshToken struct {
	Token   string
	UserID  string
	Expires time.Time
}

type Repository interface {
	Create(ctx context.Context, userID string, token string, validity time.Duration) error
	Find(ctx context.Context, token string) (*RefreshToken, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) (int, error)
}
