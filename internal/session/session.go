// Package session drives identity bootstrap: it turns credentials or stored
// key material into a logged-in sync client and note tree, and tears both
// down on logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"secure-notes/internal/client"
	cr "secure-notes/internal/crypto"
	"secure-notes/internal/notes"
	"secure-notes/internal/tree"
	"secure-notes/internal/wire"
)

type State int

const (
	LoggedOut State = iota
	Offline
	Online
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Online:
		return "online"
	}
	return "logged-out"
}

// Titles of the notes created with every account.
const (
	RecycleBinTitle   = "Recycle Bin"
	ControlPanelTitle = "Control Panel"
)

// Payload is the account's encrypted user payload.
type Payload struct {
	RootNote string `json:"rootNote"`
}

type Config struct {
	Client client.Config
	Tree   tree.Config
	// Store holds key material for Restore and GoOnline. A private store
	// with the default TTL is created when nil.
	Store *Store
	// Logger is shared by the session, its client and its tree.
	Logger zerolog.Logger
	Now    func() time.Time
}

// Session owns one logged-in account at a time. Its client, key chain and
// tree are created at login and destroyed at logout.
type Session struct {
	cfg   Config
	log   zerolog.Logger
	store *Store

	mu       sync.Mutex
	client   *client.Client
	tree     *tree.Manager
	username string
	keys     cr.PasswordKeys
}

func New(cfg Config) (*Session, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	store := cfg.Store
	if store == nil {
		var err error
		if store, err = NewStore(DefaultMaterialTTL); err != nil {
			return nil, err
		}
	}
	cfg.Client.Logger = cfg.Logger
	cfg.Tree.Logger = cfg.Logger
	return &Session{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "session").Logger(),
		store: store,
	}, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.client == nil:
		return LoggedOut
	case s.client.Online():
		return Online
	}
	return Offline
}

func (s *Session) Client() *client.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) Tree() *tree.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Login logs in over the network. Wrong credentials and unexpected failures
// report false with a nil error; only client.ErrPossibleConversion is
// returned.
func (s *Session) Login(ctx context.Context, username string, password []byte) (bool, error) {
	s.Logout()
	c := client.New(s.cfg.Client)
	keys, err := c.Login(ctx, username, password)
	return s.finish(ctx, c, username, keys, err)
}

// LoginOffline unlocks the cached account without contacting the server.
func (s *Session) LoginOffline(ctx context.Context, username string, password []byte) (bool, error) {
	s.Logout()
	c := client.New(s.cfg.Client)
	keys, err := c.LoginOffline(ctx, username, password)
	return s.finish(ctx, c, username, keys, err)
}

// Restore logs in with key material kept from an earlier login, falling back
// to the cache when the server cannot be reached.
func (s *Session) Restore(ctx context.Context, username string) (bool, error) {
	keys, ok, err := s.store.Get(username)
	if err != nil || !ok {
		return false, err
	}
	s.Logout()
	c := client.New(s.cfg.Client)
	err = c.LoginWithKeys(ctx, username, keys)
	var se *client.StatusError
	if err != nil && !errors.As(err, &se) &&
		!errors.Is(err, client.ErrBadCredentials) && !errors.Is(err, client.ErrPossibleConversion) {
		s.log.Info().Err(err).Str("user", username).Msg("server unreachable, restoring offline")
		err = c.LoginOfflineWithKeys(ctx, username, keys)
	}
	return s.finish(ctx, c, username, keys, err)
}

func (s *Session) finish(ctx context.Context, c *client.Client, username string, keys cr.PasswordKeys, err error) (bool, error) {
	if err == nil {
		err = s.start(ctx, c, username, keys)
	}
	if err == nil {
		return true, nil
	}
	c.Close()
	keys.Zero()
	switch {
	case errors.Is(err, client.ErrPossibleConversion):
		return false, err
	case errors.Is(err, client.ErrBadCredentials):
		s.log.Info().Str("user", username).Msg("login rejected")
	default:
		s.log.Error().Err(err).Str("user", username).Msg("login failed")
	}
	return false, nil
}

// start loads the account's tree, completing account setup first if an
// earlier attempt was interrupted, and installs c as the active client.
func (s *Session) start(ctx context.Context, c *client.Client, username string, keys cr.PasswordKeys) error {
	var p Payload
	if err := c.Payload(&p); err != nil {
		return fmt.Errorf("session: decode user payload: %w", err)
	}
	if p.RootNote == "" {
		if !c.Online() {
			return errors.New("session: account setup incomplete; log in online first")
		}
		rootID, err := s.setupAccount(ctx, c, username)
		if err != nil {
			return err
		}
		p.RootNote = rootID
	}
	t := tree.New(c, s.cfg.Tree)
	if _, err := t.Load(ctx, p.RootNote); err != nil {
		return fmt.Errorf("session: load note tree: %w", err)
	}
	if err := s.store.Put(username, keys); err != nil {
		return err
	}

	s.mu.Lock()
	s.client, s.tree, s.username, s.keys = c, t, username, keys
	s.mu.Unlock()
	s.log.Info().Str("user", username).Bool("online", c.Online()).Msg("session started")
	return nil
}

// setupAccount creates the root key and the root, recycle bin and control
// panel notes in one batch, then records the root in the user payload.
func (s *Session) setupAccount(ctx context.Context, c *client.Client, username string) (string, error) {
	ks, err := c.CreateKey(ctx, wire.KeyMeta{Root: true})
	if err != nil {
		return "", err
	}
	now := s.cfg.Now().UTC()
	bin := notes.New(ks.Name, &notes.Metadata{Title: RecycleBinTitle, Created: now})
	panel := notes.New(ks.Name, &notes.Metadata{Title: ControlPanelTitle, Created: now})
	root := notes.New(ks.Name, &notes.Metadata{
		Title:        username,
		Created:      now,
		Children:     []string{bin.ID, panel.ID},
		RecycleBin:   bin.ID,
		ControlPanel: panel.ID,
	})
	err = c.Multi(ctx, []client.Action{
		client.CreateAction(root),
		client.CreateAction(bin),
		client.CreateAction(panel),
	})
	if err != nil {
		return "", err
	}
	if err := c.UpdateUserData(ctx, Payload{RootNote: root.ID}); err != nil {
		return "", err
	}
	s.log.Info().Str("user", username).Str("root", root.ID).Msg("account set up")
	return root.ID, nil
}

// CreateAccount registers username, sets up its notes and logs in.
func (s *Session) CreateAccount(ctx context.Context, username string, password []byte) error {
	s.Logout()
	c := client.New(s.cfg.Client)
	keys, err := c.CreateAccount(ctx, username, password, nil)
	if err == nil {
		err = s.start(ctx, c, username, keys)
	}
	if err != nil {
		c.Close()
		keys.Zero()
		return err
	}
	return nil
}

// GoOnline upgrades an offline session. Without a password the key material
// held since login is used.
func (s *Session) GoOnline(ctx context.Context, password []byte) error {
	s.mu.Lock()
	c, t, username, keys := s.client, s.tree, s.username, s.keys
	s.mu.Unlock()
	if c == nil {
		return client.ErrNotLoggedIn
	}
	if c.Online() {
		return nil
	}
	if password != nil {
		fresh, err := c.Login(ctx, username, password)
		if err != nil {
			return err
		}
		keys.Zero()
		keys = fresh
		s.mu.Lock()
		s.keys.Zero()
		s.keys = keys
		s.mu.Unlock()
	} else if err := c.GoOnline(ctx, keys); err != nil {
		return err
	}
	if err := s.store.Put(username, keys); err != nil {
		return err
	}
	s.log.Info().Str("user", username).Msg("session online")
	return t.Refresh(ctx, t.Root())
}

// Logout destroys every key and session artifact of the active account.
func (s *Session) Logout() {
	s.mu.Lock()
	c, username := s.client, s.username
	s.client, s.tree, s.username = nil, nil, ""
	s.keys.Zero()
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.Close()
	s.store.Delete(username)
	s.log.Info().Str("user", username).Msg("logged out")
}
