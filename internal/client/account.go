package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	cr "secure-notes/internal/crypto"
	"secure-notes/internal/keychain"
	"secure-notes/internal/wire"
)

func rootAAD(username string) []byte    { return []byte("root:" + username) }
func signAAD(username string) []byte    { return []byte("sign:" + username) }
func payloadAAD(username string) []byte { return []byte("payload:" + username) }

func (c *Client) PreLogin(ctx context.Context, username string) (*wire.PreLogin, error) {
	var pre wire.PreLogin
	err := c.send(ctx, request{method: http.MethodGet, path: wire.PathPreLogin + url.PathEscape(username)}, &pre)
	if err != nil {
		return nil, err
	}
	pre.Username = username
	return &pre, nil
}

// Login derives the password keys from the server's pre-login parameters and
// logs in online. The returned keys can restore the session later.
func (c *Client) Login(ctx context.Context, username string, password []byte) (cr.PasswordKeys, error) {
	pre, err := c.PreLogin(ctx, username)
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	keys, err := cr.DerivePasswordKeys(password, pre.Params)
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	if err := c.login(ctx, pre, keys); err != nil {
		keys.Zero()
		return cr.PasswordKeys{}, err
	}
	return keys, nil
}

// LoginWithKeys logs in online with previously derived keys.
func (c *Client) LoginWithKeys(ctx context.Context, username string, keys cr.PasswordKeys) error {
	pre, err := c.PreLogin(ctx, username)
	if err != nil {
		return err
	}
	return c.login(ctx, pre, keys)
}

// GoOnline repeats the network login for an offline session, keeping the
// key material already in memory.
func (c *Client) GoOnline(ctx context.Context, keys cr.PasswordKeys) error {
	username, _, _, err := c.identity()
	if err != nil {
		return err
	}
	return c.LoginWithKeys(ctx, username, keys)
}

func (c *Client) login(ctx context.Context, pre *wire.PreLogin, keys cr.PasswordKeys) error {
	var resp wire.LoginResponse
	err := c.send(ctx, request{
		method: http.MethodPost,
		path:   wire.PathLogin,
		body: wire.LoginRequest{
			Username:    pre.Username,
			ChallengeID: pre.ChallengeID,
			Response:    cr.ChallengeResponse(keys.AuthKey[:], pre.Challenge),
		},
	}, &resp)
	if err != nil {
		return err
	}
	if err := c.unlock(pre.Username, resp.User, keys.UserKey[:]); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = resp.Token
	c.online = true
	c.usage, c.pending = resp.User.Usage, wire.Usage{}
	c.mu.Unlock()

	if err := c.ReadAllKeys(ctx); err != nil {
		return err
	}
	if err := c.cache.SetUser(ctx, *pre, resp.User); err != nil {
		c.log.Warn().Err(err).Msg("cache user record")
	}
	c.log.Info().Str("user", pre.Username).Int("keys", c.keys.Len()).Msg("logged in")
	return nil
}

// LoginOffline unlocks a cached account without contacting the server.
func (c *Client) LoginOffline(ctx context.Context, username string, password []byte) (cr.PasswordKeys, error) {
	pre, err := c.cache.GetPreLogin(ctx, username)
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	if pre == nil {
		return cr.PasswordKeys{}, ErrNotCached
	}
	keys, err := cr.DerivePasswordKeys(password, pre.Params)
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	if err := c.LoginOfflineWithKeys(ctx, username, keys); err != nil {
		keys.Zero()
		return cr.PasswordKeys{}, err
	}
	return keys, nil
}

func (c *Client) LoginOfflineWithKeys(ctx context.Context, username string, keys cr.PasswordKeys) error {
	user, err := c.cache.GetUser(ctx, username)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNotCached
	}
	if err := c.unlock(username, *user, keys.UserKey[:]); err != nil {
		return err
	}
	c.mu.Lock()
	c.online = false
	c.usage, c.pending = user.Usage, wire.Usage{}
	c.mu.Unlock()

	recs, err := c.cache.GetAllKeys(ctx, username)
	if err != nil {
		return err
	}
	return c.importKeys(ctx, recs, false)
}

// unlock opens the root key and signature with the password-derived user key.
// An already unlocked session for the same user keeps its key material once
// the wraps are shown to open.
func (c *Client) unlock(username string, user wire.UserRecord, userKey []byte) error {
	rootRaw, err := cr.OpenX(userKey, user.RootKeyWrap, rootAAD(username))
	if err != nil {
		return ErrBadCredentials
	}
	defer cr.Zero(rootRaw)
	sigRaw, err := cr.OpenX(userKey, user.SignWrap, signAAD(username))
	if err != nil {
		return ErrBadCredentials
	}
	defer cr.Zero(sigRaw)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.root == nil || c.username != username {
		root, err := keychain.NewCipher(rootRaw)
		if err != nil {
			return err
		}
		sig, err := keychain.ImportSignature(sigRaw)
		if err != nil {
			root.Destroy()
			return err
		}
		c.keys.Clear()
		c.root.Destroy()
		c.sig.Destroy()
		c.root, c.sig, c.username = root, sig, username
	}

	c.user = user
	c.payload = nil
	if len(user.Payload) > 0 {
		pt, err := c.root.Open(user.Payload, payloadAAD(username))
		if err != nil {
			return fmt.Errorf("client: open user payload: %w", err)
		}
		c.payload = pt
	}
	return nil
}

// CheckUsername reports whether username can be registered. The request is
// gated by proof of work.
func (c *Client) CheckUsername(ctx context.Context, username string) (bool, error) {
	var out wire.CheckUsernameResponse
	err := c.withPoW(ctx, wire.PathUserCheck, func(sol *wire.PoWSolution) any {
		return wire.CheckUsernameRequest{Username: username, PoW: sol}
	}, &out)
	return out.Available, err
}

// CreateAccount registers username and logs in. payload is stored encrypted
// under the new root key.
func (c *Client) CreateAccount(ctx context.Context, username string, password []byte, payload any) (cr.PasswordKeys, error) {
	params, err := c.cfg.Params.WithFreshSalt()
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	keys, err := cr.DerivePasswordKeys(password, params)
	if err != nil {
		return cr.PasswordKeys{}, err
	}

	root, err := keychain.RandomCipher()
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	defer root.Destroy()
	sig, err := keychain.NewSignature()
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	defer sig.Destroy()

	rec, err := wrapAccount(username, params, keys, root, sig)
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return cr.PasswordKeys{}, err
		}
		if rec.Payload, err = root.Seal(raw, payloadAAD(username)); err != nil {
			return cr.PasswordKeys{}, err
		}
	}

	err = c.send(ctx, request{
		method: http.MethodPost,
		path:   wire.PathUserCreate,
		body:   wire.CreateUserRequest{User: rec, AuthKey: keys.AuthKey[:]},
	}, nil)
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	if err := c.LoginWithKeys(ctx, username, keys); err != nil {
		return cr.PasswordKeys{}, err
	}
	return keys, nil
}

func wrapAccount(username string, params cr.PasswordParams, keys cr.PasswordKeys, root *keychain.Cipher, sig *keychain.Signature) (wire.UserRecord, error) {
	rootRaw := root.Export()
	defer cr.Zero(rootRaw)
	rootWrap, err := cr.SealX(keys.UserKey[:], rootRaw, rootAAD(username))
	if err != nil {
		return wire.UserRecord{}, err
	}
	sigRaw := sig.Export()
	defer cr.Zero(sigRaw)
	signWrap, err := cr.SealX(keys.UserKey[:], sigRaw, signAAD(username))
	if err != nil {
		return wire.UserRecord{}, err
	}
	return wire.UserRecord{
		Username:    username,
		Params:      params,
		RootKeyWrap: rootWrap,
		SignWrap:    signWrap,
		SignPub:     sig.SignPub(),
		BoxPub:      sig.BoxPub(),
	}, nil
}

// Payload decodes the account's user payload into v.
func (c *Client) Payload(v any) error {
	c.mu.RLock()
	raw := c.payload
	c.mu.RUnlock()
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (c *Client) UpdateUserData(ctx context.Context, payload any) error {
	if err := c.requireOnline(); err != nil {
		return err
	}
	username, root, _, err := c.identity()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	sealed, err := root.Seal(raw, payloadAAD(username))
	if err != nil {
		return err
	}
	err = c.send(ctx, request{
		method: http.MethodPost,
		path:   wire.PathUserData,
		body:   wire.UpdateUserDataRequest{Payload: sealed},
		signed: true,
	}, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.user.Payload = sealed
	c.payload = raw
	c.mu.Unlock()
	if err := c.cache.SetUserData(ctx, username, sealed); err != nil {
		c.log.Warn().Err(err).Msg("cache user data")
	}
	return nil
}

// ChangePassword rewraps the root keys under a key derived from newPassword.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) (cr.PasswordKeys, error) {
	if err := c.requireOnline(); err != nil {
		return cr.PasswordKeys{}, err
	}
	username, root, sig, err := c.identity()
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	user := c.User()

	old, err := cr.DerivePasswordKeys(oldPassword, user.Params)
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	defer old.Zero()
	check, err := cr.OpenX(old.UserKey[:], user.RootKeyWrap, rootAAD(username))
	if err != nil {
		return cr.PasswordKeys{}, ErrBadCredentials
	}
	cr.Zero(check)

	params, err := c.cfg.Params.WithFreshSalt()
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	keys, err := cr.DerivePasswordKeys(newPassword, params)
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	rec, err := wrapAccount(username, params, keys, root, sig)
	if err != nil {
		return cr.PasswordKeys{}, err
	}
	err = c.send(ctx, request{
		method: http.MethodPost,
		path:   wire.PathUserUpdate,
		body: wire.UpdateUserRequest{
			Params:      params,
			AuthKey:     keys.AuthKey[:],
			RootKeyWrap: rec.RootKeyWrap,
			SignWrap:    rec.SignWrap,
		},
		signed: true,
	}, nil)
	if err != nil {
		keys.Zero()
		return cr.PasswordKeys{}, err
	}

	c.mu.Lock()
	c.user.Params = params
	c.user.RootKeyWrap = rec.RootKeyWrap
	c.user.SignWrap = rec.SignWrap
	user = c.user
	c.mu.Unlock()
	if err := c.cache.SetUser(ctx, wire.PreLogin{Username: username, Params: params}, user); err != nil {
		c.log.Warn().Err(err).Msg("cache user record")
	}
	return keys, nil
}

// importKeys unwraps recs into the chain in parallel. With prune set, chain
// entries absent from recs are dropped.
func (c *Client) importKeys(ctx context.Context, recs []wire.KeyRecord, prune bool) error {
	_, root, _, err := c.identity()
	if err != nil {
		return err
	}
	sets := make([]*keychain.KeySet, len(recs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, rec := range recs {
		g.Go(func() error {
			ks, err := keychain.Unwrap(rec, root)
			if err != nil {
				return err
			}
			sets[i] = ks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ks := range sets {
			ks.Destroy()
		}
		return err
	}

	if prune {
		keep := make(map[string]bool, len(recs))
		for _, rec := range recs {
			keep[rec.ID] = true
		}
		for _, ks := range c.keys.All() {
			if !keep[ks.ID] {
				c.keys.Remove(ks.ID)
			}
		}
	}
	for _, ks := range sets {
		if cur, ok := c.keys.ByID(ks.ID); ok && cur.Name == ks.Name && cur.Meta == ks.Meta {
			ks.Destroy()
			continue
		}
		c.keys.Add(ks)
	}
	return nil
}
