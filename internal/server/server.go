// Package server is a reference implementation of the note sync protocol. It
// stores only ciphertext and public keys; notes, keys and offers live in
// memory, accounts in memory or MongoDB.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"secure-notes/internal/audit"
	"secure-notes/internal/auth"
	cr "secure-notes/internal/crypto"
	"secure-notes/internal/wire"
)

type loginChallenge struct {
	username  string
	challenge []byte
	expires   time.Time
}

type Server struct {
	cfg      Config
	router   chi.Router
	signer   *auth.JWTSigner
	accounts auth.AccountStore
	box      *cr.BoxKey
	log      zerolog.Logger
	audit    *audit.Log
	pow      *powGate
	legacy   map[string]bool

	mu         sync.Mutex
	notes      map[string]*noteState
	keys       map[string]map[string]wire.KeyRecord
	offers     map[string][]wire.ShareOffer
	usage      map[string]wire.Usage
	seen       map[string]time.Time
	challenges map[string]loginChallenge

	rlLoginIP  *multiLimiter
	rlLoginID  *multiLimiter
	rlCreateIP *multiLimiter
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	cfg.setDefaults()
	if len(cfg.MasterKey) == 0 {
		k, err := cr.RandomKey()
		if err != nil {
			return nil, err
		}
		cfg.MasterKey = k
	}

	accounts := cfg.Accounts
	if accounts == nil {
		if cfg.MongoURI != "" {
			store, err := auth.NewMongoAccountStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.AccountsCollection)
			if err != nil {
				return nil, err
			}
			accounts = store
		} else {
			accounts = auth.NewMemoryAccountStore()
		}
	}

	priv, _, err := auth.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	box, err := cr.NewBoxKey()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		signer:     auth.NewJWTSigner(priv, cfg.JWTIssuer, cfg.TokenTTL),
		accounts:   accounts,
		box:        box,
		log:        cfg.Logger.With().Str("component", "server").Logger(),
		audit:      audit.New(),
		pow:        newPoWGate(cfg.PoWDifficulty, cfg.PoWMaxDifficulty, cfg.PoWWindow),
		legacy:     map[string]bool{},
		notes:      map[string]*noteState{},
		keys:       map[string]map[string]wire.KeyRecord{},
		offers:     map[string][]wire.ShareOffer{},
		usage:      map[string]wire.Usage{},
		seen:       map[string]time.Time{},
		challenges: map[string]loginChallenge{},
	}
	for _, u := range cfg.LegacyUsernames {
		s.legacy[u] = true
	}

	perWindow := func(n int, window time.Duration) float64 { return float64(n) / window.Seconds() }
	s.rlLoginIP = newMultiLimiter(rate.Limit(perWindow(60, time.Minute)), 60, time.Hour)
	s.rlLoginID = newMultiLimiter(rate.Limit(perWindow(20, time.Minute)), 20, time.Hour)
	s.rlCreateIP = newMultiLimiter(rate.Limit(perWindow(20, time.Hour)), 20, time.Hour)

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get(wire.PathServerKey, s.handleServerKey)
	r.Get(wire.PathPreLogin+"{username}", s.handlePreLogin)
	r.Post(wire.PathLogin, s.handleLogin)
	r.Post(wire.PathUserCreate, s.handleUserCreate)
	r.Post(wire.PathUserCheck, s.handleUserCheck)
	r.Post(wire.PathPublicKey, s.handlePublicKey)

	r.Group(func(r chi.Router) {
		r.Use(auth.AuthRequired(s.signer))
		r.Post(wire.PathUserUpdate, s.signed(s.handleUserUpdate))
		r.Post(wire.PathUserData, s.signed(s.handleUserData))

		r.Post(wire.PathKeyCreate, s.signed(s.handleKeyCreate))
		r.Post(wire.PathKeyRead, s.signed(s.handleKeyRead))
		r.Post(wire.PathKeyReadAll, s.signed(s.handleKeyReadAll))
		r.Post(wire.PathKeyDelete, s.signed(s.handleKeyDelete))

		r.Post(wire.PathNoteRead, s.signed(s.handleNoteRead))
		r.Post(wire.PathNoteCreate, s.signed(s.handleNoteAction(wire.ActionCreate)))
		r.Post(wire.PathNoteUpdate, s.signed(s.handleNoteAction(wire.ActionUpdate, wire.ActionChangeKey)))
		r.Post(wire.PathNoteDelete, s.signed(s.handleNoteAction(wire.ActionDelete)))
		r.Post(wire.PathNoteMulti, s.signed(s.handleNoteMulti))

		r.Post(wire.PathShare, s.signed(s.handleShare))
		r.Post(wire.PathShareOffers, s.signed(s.handleShareOffers))
		r.Post(wire.PathShareDelete, s.signed(s.handleShareDelete))
	})
	s.router = r
}

func (s *Server) Handler() http.Handler { return s.router }

// Audit exposes the mutation log.
func (s *Server) Audit() *audit.Log { return s.audit }

func (s *Server) Close(ctx context.Context) error {
	if c, ok := s.accounts.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleServerKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, wire.ServerKeyResponse{BoxPub: s.box.Public[:]})
}

func authAAD(username string) []byte { return []byte("auth:" + username) }

// decoySalt gives unknown usernames stable pre-login parameters.
func (s *Server) decoySalt(username string) []byte {
	m := hmac.New(sha256.New, s.cfg.MasterKey)
	m.Write([]byte("decoy:" + username))
	return m.Sum(nil)[:16]
}

func (s *Server) findAccount(ctx context.Context, username string) (*auth.Account, error) {
	a, err := s.accounts.Find(ctx, username)
	if errors.Is(err, auth.ErrAccountNotFound) {
		return nil, nil
	}
	return a, err
}

// call is an authenticated, signature-checked request.
type call struct {
	acct *auth.Account
	env  *wire.Envelope
}

func (c *call) user() string { return c.acct.Username }

// signed verifies the request envelope: it must name the token's subject, be
// fresh, carry an unseen request id and a valid account signature.
func (s *Server) signed(h func(http.ResponseWriter, *http.Request, *call)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := auth.MustClaims(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		var env wire.Envelope
		if !s.decode(w, r, &env) {
			return
		}
		if env.Username != claims.Sub {
			writeError(w, http.StatusForbidden, "forbidden", "envelope user does not match token")
			return
		}
		ts := time.Unix(env.Timestamp, 0)
		if d := time.Since(ts); d > wire.MaxClockSkew || d < -wire.MaxClockSkew {
			writeError(w, http.StatusBadRequest, "stale", "request timestamp outside allowed skew")
			return
		}
		if env.RequestID == "" || !s.markSeen(env.Username+"/"+env.RequestID) {
			writeError(w, http.StatusConflict, "replay", "request id already used")
			return
		}
		acct, err := s.findAccount(r.Context(), env.Username)
		if err != nil {
			writeErr(w, err)
			return
		}
		if acct == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unknown account")
			return
		}
		if !cr.Verify(acct.Record.SignPub, env.Digest(r.URL.Path), env.Signature(wire.SignerUser)) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "bad account signature")
			return
		}
		h(w, r, &call{acct: acct, env: &env})
	}
}

func (s *Server) markSeen(key string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return false
	}
	for k, t := range s.seen {
		if now.Sub(t) > 2*wire.MaxClockSkew {
			delete(s.seen, k)
		}
	}
	s.seen[key] = now
	return true
}

func (c *call) decode(w http.ResponseWriter, v any) bool {
	if err := json.Unmarshal(c.env.Body, v); err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", "malformed request body")
		return false
	}
	return true
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
