// Package cache persists encrypted server records locally so reads and
// logins can be served offline. Nothing stored here is plaintext.
package cache

import (
	"context"

	"secure-notes/internal/wire"
)

// Manager is the local cache. Lookups of absent records return nil, nil.
type Manager interface {
	GetPreLogin(ctx context.Context, username string) (*wire.PreLogin, error)
	GetUser(ctx context.Context, username string) (*wire.UserRecord, error)
	SetUser(ctx context.Context, pre wire.PreLogin, user wire.UserRecord) error
	DeleteUser(ctx context.Context, username string) error
	SetUserData(ctx context.Context, username string, payload []byte) error

	GetKey(ctx context.Context, userID, id string) (*wire.KeyRecord, error)
	SetKey(ctx context.Context, userID string, key wire.KeyRecord) error
	DeleteKey(ctx context.Context, userID, id string) error
	GetAllKeys(ctx context.Context, userID string) ([]wire.KeyRecord, error)

	GetNote(ctx context.Context, id string) (*wire.NoteRecord, error)
	SetNote(ctx context.Context, note wire.NoteRecord) error
	DeleteNote(ctx context.Context, id string) error
}

// Nop caches nothing.
type Nop struct{}

var _ Manager = Nop{}

func (Nop) GetPreLogin(context.Context, string) (*wire.PreLogin, error)     { return nil, nil }
func (Nop) GetUser(context.Context, string) (*wire.UserRecord, error)       { return nil, nil }
func (Nop) SetUser(context.Context, wire.PreLogin, wire.UserRecord) error   { return nil }
func (Nop) DeleteUser(context.Context, string) error                        { return nil }
func (Nop) SetUserData(context.Context, string, []byte) error               { return nil }
func (Nop) GetKey(context.Context, string, string) (*wire.KeyRecord, error) { return nil, nil }
func (Nop) SetKey(context.Context, string, wire.KeyRecord) error            { return nil }
func (Nop) DeleteKey(context.Context, string, string) error                 { return nil }
func (Nop) GetAllKeys(context.Context, string) ([]wire.KeyRecord, error)    { return nil, nil }
func (Nop) GetNote(context.Context, string) (*wire.NoteRecord, error)       { return nil, nil }
func (Nop) SetNote(context.Context, wire.NoteRecord) error                  { return nil }
func (Nop) DeleteNote(context.Context, string) error                        { return nil }
