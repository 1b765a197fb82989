package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"secure-notes/internal/storage"
	"secure-notes/internal/wire"
)

const recordVersion = 1

type userEntry struct {
	V        int             `cbor:"1,keyasint"`
	PreLogin wire.PreLogin   `cbor:"2,keyasint"`
	User     wire.UserRecord `cbor:"3,keyasint"`
	Stored   time.Time       `cbor:"4,keyasint"`
}

type keyEntry struct {
	V   int            `cbor:"1,keyasint"`
	Key wire.KeyRecord `cbor:"2,keyasint"`
}

type noteEntry struct {
	V      int             `cbor:"1,keyasint"`
	Note   wire.NoteRecord `cbor:"2,keyasint"`
	Stored time.Time       `cbor:"3,keyasint"`
}

// BlobCache implements Manager on any storage.BlobStore, one CBOR record
// per blob.
type BlobCache struct {
	store storage.BlobStore
	now   func() time.Time
}

var _ Manager = (*BlobCache)(nil)

func NewBlobCache(store storage.BlobStore) *BlobCache {
	return &BlobCache{store: store, now: time.Now}
}

func userBlob(username string) string  { return "user/" + username }
func keyPrefix(userID string) string   { return "key/" + userID + "/" }
func keyBlob(userID, id string) string { return keyPrefix(userID) + id }
func noteBlob(id string) string        { return "note/" + id }

// load decodes the blob at id into v; ok is false when it does not exist.
func (c *BlobCache) load(ctx context.Context, id string, v any) (bool, error) {
	b, err := c.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := cbor.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", id, err)
	}
	return true, nil
}

func (c *BlobCache) save(ctx context.Context, id string, v any) error {
	b, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", id, err)
	}
	return c.store.Put(ctx, id, b)
}

func (c *BlobCache) GetPreLogin(ctx context.Context, username string) (*wire.PreLogin, error) {
	var e userEntry
	ok, err := c.load(ctx, userBlob(username), &e)
	if !ok || err != nil {
		return nil, err
	}
	return &e.PreLogin, nil
}

func (c *BlobCache) GetUser(ctx context.Context, username string) (*wire.UserRecord, error) {
	var e userEntry
	ok, err := c.load(ctx, userBlob(username), &e)
	if !ok || err != nil {
		return nil, err
	}
	return &e.User, nil
}

// SetUser stores the pre-login parameters without the one-time challenge.
func (c *BlobCache) SetUser(ctx context.Context, pre wire.PreLogin, user wire.UserRecord) error {
	pre.ChallengeID, pre.Challenge = "", nil
	return c.save(ctx, userBlob(user.Username), userEntry{
		V:        recordVersion,
		PreLogin: pre,
		User:     user,
		Stored:   c.now().UTC(),
	})
}

func (c *BlobCache) DeleteUser(ctx context.Context, username string) error {
	return c.store.Delete(ctx, userBlob(username))
}

func (c *BlobCache) SetUserData(ctx context.Context, username string, payload []byte) error {
	var e userEntry
	ok, err := c.load(ctx, userBlob(username), &e)
	if !ok || err != nil {
		return err
	}
	e.User.Payload = payload
	e.Stored = c.now().UTC()
	return c.save(ctx, userBlob(username), e)
}

func (c *BlobCache) GetKey(ctx context.Context, userID, id string) (*wire.KeyRecord, error) {
	var e keyEntry
	ok, err := c.load(ctx, keyBlob(userID, id), &e)
	if !ok || err != nil {
		return nil, err
	}
	return &e.Key, nil
}

func (c *BlobCache) SetKey(ctx context.Context, userID string, key wire.KeyRecord) error {
	return c.save(ctx, keyBlob(userID, key.ID), keyEntry{V: recordVersion, Key: key})
}

func (c *BlobCache) DeleteKey(ctx context.Context, userID, id string) error {
	return c.store.Delete(ctx, keyBlob(userID, id))
}

func (c *BlobCache) GetAllKeys(ctx context.Context, userID string) ([]wire.KeyRecord, error) {
	ids, err := c.store.List(ctx, keyPrefix(userID))
	if err != nil {
		return nil, err
	}
	keys := make([]wire.KeyRecord, 0, len(ids))
	for _, id := range ids {
		var e keyEntry
		ok, err := c.load(ctx, id, &e)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

func (c *BlobCache) GetNote(ctx context.Context, id string) (*wire.NoteRecord, error) {
	var e noteEntry
	ok, err := c.load(ctx, noteBlob(id), &e)
	if !ok || err != nil {
		return nil, err
	}
	return &e.Note, nil
}

func (c *BlobCache) SetNote(ctx context.Context, note wire.NoteRecord) error {
	return c.save(ctx, noteBlob(note.ID), noteEntry{V: recordVersion, Note: note, Stored: c.now().UTC()})
}

func (c *BlobCache) DeleteNote(ctx context.Context, id string) error {
	return c.store.Delete(ctx, noteBlob(id))
}
