package auth

import (
	"context"
	"errors"
	"time"

	"secure-notes/internal/wire"
)

type Claims struct {
	Sub       string `json:"sub"` // username
	TokenID   string `json:"jti"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

// Account is the server's copy of a user. AuthKey is sealed with the server's
// master key; the server never learns the password or the user key.
type Account struct {
	Username string
	AuthKey  []byte
	Record   wire.UserRecord
	Created  time.Time
}

type AccountStore interface {
	Find(ctx context.Context, username string) (*Account, error)
	Add(ctx context.Context, a *Account) error
	Update(ctx context.Context, a *Account) error
}
