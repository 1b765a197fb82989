package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-notes/internal/cache"
	"secure-notes/internal/client"
	cr "secure-notes/internal/crypto"
	"secure-notes/internal/storage"
	"secure-notes/internal/testenv"
)

func newSession(t *testing.T, cfg client.Config, store *Store) *Session {
	t.Helper()
	s, err := New(Config{Client: cfg, Store: store})
	require.NoError(t, err)
	t.Cleanup(s.Logout)
	return s
}

func TestLoginStates(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t, "legacy")
	s := newSession(t, env.ClientConfig(), nil)
	require.NoError(t, s.CreateAccount(ctx, "alice", []byte("pw")))
	assert.Equal(t, Online, s.State())
	assert.Equal(t, "alice", s.Username())
	s.Logout()
	assert.Equal(t, LoggedOut, s.State())
	assert.Nil(t, s.Tree())

	ok, err := s.Login(ctx, "alice", []byte("bad"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, LoggedOut, s.State())

	ok, err = s.Login(ctx, "legacy", []byte("pw"))
	assert.ErrorIs(t, err, client.ErrPossibleConversion)
	assert.False(t, ok)

	ok, err = s.Login(ctx, "alice", []byte("pw"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Online, s.State())
	require.NotNil(t, s.Tree().Root())
	assert.Equal(t, "alice", s.Tree().Root().Title())
}

func TestUnexpectedFailureIsFalse(t *testing.T) {
	env := testenv.New(t)
	cfg := env.ClientConfig()
	env.HTTP.Close()
	s := newSession(t, cfg, nil)
	ok, err := s.Login(context.Background(), "alice", []byte("pw"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	cfg := env.ClientConfig()
	cfg.Cache = cache.NewBlobCache(storage.NewMemoryBlobStore())
	store, err := NewStore(time.Hour)
	require.NoError(t, err)

	first := newSession(t, cfg, store)
	require.NoError(t, first.CreateAccount(ctx, "alice", []byte("pw")))
	rootID := first.Tree().Root().ID()

	second := newSession(t, cfg, store)
	ok, err := second.Restore(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Online, second.State())
	assert.Equal(t, rootID, second.Tree().Root().ID())

	// Without a server the cached account is unlocked offline.
	env.HTTP.Close()
	third := newSession(t, cfg, store)
	ok, err = third.Restore(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Offline, third.State())
	assert.Equal(t, rootID, third.Tree().Root().ID())

	third.Logout()
	ok, err = newSession(t, cfg, store).Restore(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok, "logout forgets stored material")
}

func TestOfflineThenOnline(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	cfg := env.ClientConfig()
	cfg.Cache = cache.NewBlobCache(storage.NewMemoryBlobStore())
	s := newSession(t, cfg, nil)
	require.NoError(t, s.CreateAccount(ctx, "alice", []byte("pw")))
	s.Logout()

	ok, err := s.LoginOffline(ctx, "alice", []byte("wrong"))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.LoginOffline(ctx, "alice", []byte("pw"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Offline, s.State())

	require.ErrorIs(t, s.GoOnline(ctx, []byte("wrong")), client.ErrBadCredentials)
	assert.Equal(t, Offline, s.State())
	require.NoError(t, s.GoOnline(ctx, []byte("pw")))
	assert.Equal(t, Online, s.State())

	stored, ok, err := s.store.Get("alice")
	require.NoError(t, err)
	require.True(t, ok)
	s.mu.Lock()
	held := s.keys
	s.mu.Unlock()
	assert.Equal(t, stored, held)
	assert.NotEqual(t, cr.PasswordKeys{}, held)
}

func TestStoreExpiry(t *testing.T) {
	st, err := NewStore(time.Minute)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	st.now = func() time.Time { return now }

	var keys cr.PasswordKeys
	keys.AuthKey[0], keys.UserKey[31] = 1, 2
	require.NoError(t, st.Put("alice", keys))

	got, ok, err := st.Get("alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, keys, got)
	_, ok, _ = st.Get("bob")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, err = st.Get("alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Put("alice", keys))
	st.Destroy()
	_, ok, _ = st.Get("alice")
	assert.False(t, ok)
	assert.Error(t, st.Put("alice", keys))
}
