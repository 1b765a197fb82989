package server

import (
	"encoding/hex"
	"sync"
	"time"

	cr "secure-notes/internal/crypto"
	"secure-notes/internal/wire"
)

type powChallenge struct {
	difficulty int
	expires    time.Time
}

type powHits struct {
	count int
	since time.Time
}

// powGate hands out proof-of-work challenges. Required difficulty grows by
// one bit for every four requests a client has had served in the window.
type powGate struct {
	mu     sync.Mutex
	base   int
	max    int
	window time.Duration
	hits   map[string]*powHits
	issued map[string]powChallenge
}

func newPoWGate(base, max int, window time.Duration) *powGate {
	return &powGate{
		base:   base,
		max:    max,
		window: window,
		hits:   map[string]*powHits{},
		issued: map[string]powChallenge{},
	}
}

func (g *powGate) difficulty(client string, now time.Time) int {
	h := g.hits[client]
	if h == nil || now.Sub(h.since) > g.window {
		return g.base
	}
	d := g.base + h.count/4
	if d > g.max {
		d = g.max
	}
	return d
}

// admit reports whether sol answers an outstanding challenge. When it does
// not, the returned challenge must be solved first.
func (g *powGate) admit(client string, sol *wire.PoWSolution) (bool, *wire.PoWRequired, error) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, c := range g.issued {
		if now.After(c.expires) {
			delete(g.issued, k)
		}
	}

	if sol != nil {
		key := hex.EncodeToString(sol.Challenge)
		if c, ok := g.issued[key]; ok && cr.CheckPoW(sol.Challenge, sol.Nonce, c.difficulty) {
			delete(g.issued, key)
			h := g.hits[client]
			if h == nil || now.Sub(h.since) > g.window {
				h = &powHits{since: now}
				g.hits[client] = h
			}
			h.count++
			return true, nil, nil
		}
	}

	challenge, err := cr.NewChallenge()
	if err != nil {
		return false, nil, err
	}
	d := g.difficulty(client, now)
	g.issued[hex.EncodeToString(challenge)] = powChallenge{difficulty: d, expires: now.Add(g.window)}
	return false, &wire.PoWRequired{Error: wire.ErrCodePoWRequired, Challenge: challenge, Difficulty: d}, nil
}
