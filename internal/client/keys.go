package client

import (
	"context"
	"net/http"

	"secure-notes/internal/keychain"
	"secure-notes/internal/wire"
)

// CreateKey generates a Key Set, stores it wrapped under the root key and adds
// it to the chain.
func (c *Client) CreateKey(ctx context.Context, meta wire.KeyMeta) (*keychain.KeySet, error) {
	ks, err := keychain.New(meta)
	if err != nil {
		return nil, err
	}
	if err := c.storeKey(ctx, ks); err != nil {
		ks.Destroy()
		return nil, err
	}
	return ks, nil
}

func (c *Client) storeKey(ctx context.Context, ks *keychain.KeySet) error {
	if err := c.requireOnline(); err != nil {
		return err
	}
	username, root, _, err := c.identity()
	if err != nil {
		return err
	}
	rec, err := ks.Wrap(root)
	if err != nil {
		return err
	}
	err = c.send(ctx, request{method: http.MethodPost, path: wire.PathKeyCreate, body: rec, signed: true}, nil)
	if err != nil {
		return err
	}
	c.keys.Add(ks)
	if err := c.cache.SetKey(ctx, username, rec); err != nil {
		c.log.Warn().Err(err).Str("key", ks.ID).Msg("cache key")
	}
	return nil
}

// ReadKey fetches one key by id, preferring the cache when offline.
func (c *Client) ReadKey(ctx context.Context, id string) (*keychain.KeySet, error) {
	if ks, ok := c.keys.ByID(id); ok {
		return ks, nil
	}
	username, root, _, err := c.identity()
	if err != nil {
		return nil, err
	}
	var rec *wire.KeyRecord
	if c.Online() {
		var out wire.KeyRecord
		err := c.send(ctx, request{method: http.MethodPost, path: wire.PathKeyRead, body: wire.KeyIDRequest{ID: id}, signed: true}, &out)
		if IsNotFound(err) {
			return nil, ErrKeyNotFound
		}
		if err != nil {
			return nil, err
		}
		rec = &out
		if err := c.cache.SetKey(ctx, username, out); err != nil {
			c.log.Warn().Err(err).Str("key", id).Msg("cache key")
		}
	} else if rec, err = c.cache.GetKey(ctx, username, id); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrKeyNotFound
	}
	ks, err := keychain.Unwrap(*rec, root)
	if err != nil {
		return nil, err
	}
	c.keys.Add(ks)
	return ks, nil
}

// ReadAllKeys replaces the chain with the server's key list.
func (c *Client) ReadAllKeys(ctx context.Context) error {
	if err := c.requireOnline(); err != nil {
		return err
	}
	username, _, _, err := c.identity()
	if err != nil {
		return err
	}
	var recs []wire.KeyRecord
	err = c.send(ctx, request{method: http.MethodPost, path: wire.PathKeyReadAll, body: struct{}{}, signed: true}, &recs)
	if err != nil {
		return err
	}
	if err := c.importKeys(ctx, recs, true); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := c.cache.SetKey(ctx, username, rec); err != nil {
			c.log.Warn().Err(err).Str("key", rec.ID).Msg("cache key")
		}
	}
	return nil
}

// DeleteKey revokes a key on the server and forgets it locally.
func (c *Client) DeleteKey(ctx context.Context, id string) error {
	if err := c.requireOnline(); err != nil {
		return err
	}
	username, _, _, err := c.identity()
	if err != nil {
		return err
	}
	err = c.send(ctx, request{method: http.MethodPost, path: wire.PathKeyDelete, body: wire.KeyIDRequest{ID: id}, signed: true}, nil)
	if err != nil && !IsNotFound(err) {
		return err
	}
	c.keys.Remove(id)
	return c.cache.DeleteKey(ctx, username, id)
}

func (c *Client) keySet(name string) (*keychain.KeySet, error) {
	if ks, ok := c.keys.ByName(name); ok {
		return ks, nil
	}
	return nil, ErrKeyNotFound
}
