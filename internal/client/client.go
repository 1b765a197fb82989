// Package client speaks the note sync protocol: accounts, keys, notes, batched
// actions and sharing. All note and key content is encrypted before it leaves
// the process.
package client

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"secure-notes/internal/cache"
	cr "secure-notes/internal/crypto"
	"secure-notes/internal/keychain"
	"secure-notes/internal/wire"
)

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// RequestsPerSecond and Burst throttle outgoing requests.
	RequestsPerSecond float64
	Burst             int
	// SealRequests seals every JSON body to the server's published box key.
	SealRequests bool
	// Params seed the password KDF for new accounts and password changes.
	Params cr.PasswordParams
	Cache  cache.Manager
	Logger zerolog.Logger
	Now    func() time.Time
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 40
	}
	if c.Params.Algorithm == "" {
		c.Params = cr.DefaultPasswordParams()
	}
	if c.Cache == nil {
		c.Cache = cache.Nop{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Client is one session's protocol endpoint. Its key chain and usage counters
// live only as long as the session; Close destroys them.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	cache   cache.Manager
	keys    *keychain.Chain

	mu        sync.RWMutex
	online    bool
	token     string
	username  string
	root      *keychain.Cipher
	sig       *keychain.Signature
	user      wire.UserRecord
	payload   json.RawMessage
	usage     wire.Usage
	pending   wire.Usage
	serverBox *[32]byte
}

func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:     cfg,
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     cfg.Logger.With().Str("component", "client").Logger(),
		cache:   cfg.Cache,
		keys:    keychain.NewChain(),
	}
}

func (c *Client) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root != nil
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// User returns the last known server record for the account.
func (c *Client) User() wire.UserRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Usage is the server-confirmed usage plus deltas of unconfirmed actions.
func (c *Client) Usage() wire.Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage.Add(c.pending)
}

func (c *Client) Keys() *keychain.Chain { return c.keys }

func (c *Client) Cache() cache.Manager { return c.cache }

// Close forgets the session and destroys all key material.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys.Clear()
	c.root.Destroy()
	c.sig.Destroy()
	c.root, c.sig = nil, nil
	c.online = false
	c.token = ""
	c.username = ""
	c.user = wire.UserRecord{}
	c.payload = nil
	c.usage, c.pending = wire.Usage{}, wire.Usage{}
}

func (c *Client) addPending(d wire.Usage) {
	c.mu.Lock()
	c.pending = c.pending.Add(d)
	c.mu.Unlock()
}

// dropPending removes d, the delta of one finished request, from the pending
// total. Deltas of requests still in flight stay pending.
func (c *Client) dropPending(d wire.Usage) {
	c.mu.Lock()
	c.pending = c.pending.Sub(d)
	c.mu.Unlock()
}

// confirmUsage installs the server's total after the request carrying d
// succeeded.
func (c *Client) confirmUsage(u, d wire.Usage) {
	c.mu.Lock()
	c.usage = u
	c.pending = c.pending.Sub(d)
	c.mu.Unlock()
}

func (c *Client) requireOnline() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.root == nil {
		return ErrNotLoggedIn
	}
	if !c.online {
		return ErrOffline
	}
	return nil
}

func (c *Client) identity() (string, *keychain.Cipher, *keychain.Signature, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.root == nil {
		return "", nil, nil, ErrNotLoggedIn
	}
	return c.username, c.root, c.sig, nil
}
