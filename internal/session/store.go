package session

import (
	"errors"
	"sync"
	"time"

	cr "secure-notes/internal/crypto"
)

const DefaultMaterialTTL = 12 * time.Hour

type material struct {
	sealed  []byte
	expires time.Time
}

// Store keeps derived password keys in process memory, sealed under a key
// that never leaves it, so a session can be restored without the password.
type Store struct {
	mu      sync.Mutex
	key     []byte
	pinned  bool
	ttl     time.Duration
	now     func() time.Time
	entries map[string]material
}

func NewStore(ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultMaterialTTL
	}
	key, err := cr.RandomKey()
	if err != nil {
		return nil, err
	}
	return &Store{key: key, pinned: cr.Pin(key), ttl: ttl, now: time.Now, entries: map[string]material{}}, nil
}

func materialAAD(username string) []byte { return []byte("session:" + username) }

func (s *Store) Put(username string, keys cr.PasswordKeys) error {
	raw := make([]byte, 0, 64)
	raw = append(raw, keys.AuthKey[:]...)
	raw = append(raw, keys.UserKey[:]...)
	defer cr.Zero(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return errors.New("session: store destroyed")
	}
	sealed, err := cr.Seal(s.key, raw, materialAAD(username))
	if err != nil {
		return err
	}
	s.entries[username] = material{sealed: sealed, expires: s.now().Add(s.ttl)}
	return nil
}

// Get returns the stored keys for username. Expired material is dropped and
// reported as absent.
func (s *Store) Get(username string) (cr.PasswordKeys, bool, error) {
	var keys cr.PasswordKeys
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[username]
	if !ok || s.key == nil {
		return keys, false, nil
	}
	if s.now().After(m.expires) {
		delete(s.entries, username)
		return keys, false, nil
	}
	raw, err := cr.Open(s.key, m.sealed, materialAAD(username))
	if err != nil {
		return keys, false, err
	}
	defer cr.Zero(raw)
	copy(keys.AuthKey[:], raw[:32])
	copy(keys.UserKey[:], raw[32:])
	return keys, true, nil
}

func (s *Store) Delete(username string) {
	s.mu.Lock()
	delete(s.entries, username)
	s.mu.Unlock()
}

// Destroy forgets every entry and the sealing key.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]material{}
	if s.key != nil {
		cr.Release(s.key, s.pinned)
		s.key = nil
	}
}
