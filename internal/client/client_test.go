package client_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-notes/internal/cache"
	"secure-notes/internal/client"
	"secure-notes/internal/keychain"
	"secure-notes/internal/notes"
	"secure-notes/internal/storage"
	"secure-notes/internal/testenv"
	"secure-notes/internal/wire"
)

func newKey(t *testing.T, c *client.Client, meta wire.KeyMeta) *keychain.KeySet {
	t.Helper()
	ks, err := c.CreateKey(context.Background(), meta)
	require.NoError(t, err)
	return ks
}

func TestCreateReadDelete(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	c := env.Signup(t, "alice", "correct horse")
	ks := newKey(t, c, wire.KeyMeta{})

	n := notes.New(ks.Name, &notes.Metadata{Title: "first"}, &notes.Text{Body: "Test Data String"})
	require.NoError(t, c.CreateNote(ctx, n))
	assert.Empty(t, n.Dirty())
	assert.Equal(t, int64(0), n.Item(notes.TypeText).Version)

	got, err := c.ReadNote(ctx, n.ID, client.ReadOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Test Data String", got.Text())
	assert.Equal(t, "first", got.Title())

	require.NoError(t, c.DeleteNote(ctx, got))
	gone, err := c.ReadNote(ctx, n.ID, client.ReadOptions{})
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Equal(t, wire.Usage{}, c.Usage())
}

func TestUpdateConflict(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	a := env.Signup(t, "alice", "pw-alice")
	ks := newKey(t, a, wire.KeyMeta{})
	n := notes.New(ks.Name, &notes.Metadata{Title: "t"}, &notes.Text{Body: "v0"})
	require.NoError(t, a.CreateNote(ctx, n))

	// A second device of the same account.
	b := client.New(env.ClientConfig())
	defer b.Close()
	_, err := b.Login(ctx, "alice", []byte("pw-alice"))
	require.NoError(t, err)
	stale, err := b.ReadNote(ctx, n.ID, client.ReadOptions{})
	require.NoError(t, err)

	n.Set(&notes.Text{Body: "v1"})
	require.NoError(t, a.UpdateNote(ctx, n))
	assert.Equal(t, int64(1), n.Item(notes.TypeText).Version)

	stale.Set(&notes.Text{Body: "other"})
	err = b.UpdateNote(ctx, stale)
	require.ErrorIs(t, err, client.ErrConflict)
	var ce *client.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"text"}, ce.Types())
	assert.True(t, stale.Item(notes.TypeText).Changed)

	fresh, err := b.ReadNote(ctx, n.ID, client.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v1", fresh.Text())
}

func TestMultiIsAtomic(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	c := env.Signup(t, "alice", "pw")
	ks := newKey(t, c, wire.KeyMeta{})
	x := notes.New(ks.Name, &notes.Text{Body: "x"})
	y := notes.New(ks.Name, &notes.Text{Body: "y"})
	require.NoError(t, c.Multi(ctx, []client.Action{client.CreateAction(x), client.CreateAction(y)}))

	x.Set(&notes.Text{Body: "x2"})
	y.Set(&notes.Text{Body: "y2"})
	y.Item(notes.TypeText).Version = 4
	z := notes.New(ks.Name, &notes.Text{Body: "z"})
	err := c.Multi(ctx, []client.Action{client.UpdateAction(x), client.CreateAction(z), client.UpdateAction(y)})
	require.ErrorIs(t, err, client.ErrConflict)

	got, err := c.ReadNote(ctx, x.ID, client.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "x", got.Text())
	assert.Equal(t, int64(0), got.Item(notes.TypeText).Version)
	missing, err := c.ReadNote(ctx, z.ID, client.ReadOptions{})
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, int64(2), c.Usage().Notes)
}

func TestReadWithBase(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	c := env.Signup(t, "alice", "pw")
	ks := newKey(t, c, wire.KeyMeta{})
	n := notes.New(ks.Name, &notes.Metadata{Title: "kept"}, &notes.Text{Body: "one"})
	require.NoError(t, c.CreateNote(ctx, n))

	same, err := c.ReadNote(ctx, n.ID, client.ReadOptions{Base: n})
	require.NoError(t, err)
	assert.Nil(t, same, "nothing changed since base")

	edit := n.Clone()
	edit.Set(&notes.Text{Body: "two"})
	require.NoError(t, c.UpdateNote(ctx, edit))

	newer, err := c.ReadNote(ctx, n.ID, client.ReadOptions{Base: n})
	require.NoError(t, err)
	require.NotNil(t, newer)
	assert.Equal(t, "two", newer.Text())
	assert.Equal(t, "kept", newer.Title())
	assert.True(t, newer.NewerThan(n))
}

func TestChangeKeyPreservesContent(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	c := env.Signup(t, "alice", "pw")
	k1 := newKey(t, c, wire.KeyMeta{})
	k2 := newKey(t, c, wire.KeyMeta{})
	n := notes.New(k1.Name, &notes.Metadata{Title: "t"}, &notes.Text{Body: "body"})
	require.NoError(t, c.CreateNote(ctx, n))
	n.Set(&notes.Text{Body: "body2"})
	require.NoError(t, c.UpdateNote(ctx, n))

	require.NoError(t, c.ChangeKey(ctx, n, k2.Name))
	assert.Equal(t, k2.Name, n.KeyName)

	got, err := c.ReadNote(ctx, n.ID, client.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, k2.Name, got.KeyName)
	assert.Equal(t, "body2", got.Text())
	assert.Equal(t, int64(1), got.Item(notes.TypeText).Version)
	assert.Equal(t, int64(0), got.Item(notes.TypeMetadata).Version)

	// The old key no longer signs for the note.
	old := got.Clone()
	old.KeyName = k1.Name
	old.Set(&notes.Text{Body: "sneaky"})
	require.Error(t, c.UpdateNote(ctx, old))
}

func TestShareRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	alice := env.Signup(t, "alice", "pw-a")
	bob := env.Signup(t, "bob", "pw-b")

	ks := newKey(t, alice, wire.KeyMeta{Shared: true})
	n := notes.New(ks.Name, &notes.Metadata{Title: "shared"}, &notes.Text{Body: "from alice"})
	require.NoError(t, alice.CreateNote(ctx, n))
	require.NoError(t, alice.Share(ctx, "bob", n.ID, ks))

	offers, err := bob.ShareOffers(ctx)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "alice", offers[0].Sender)
	assert.Equal(t, n.ID, offers[0].Info.NoteID)

	imported, err := bob.AcceptShare(ctx, offers[0])
	require.NoError(t, err)
	assert.Equal(t, ks.ID, imported.ID)
	left, err := bob.ShareOffers(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)

	seen, err := bob.ReadNote(ctx, n.ID, client.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from alice", seen.Text())
	seen.Set(&notes.Text{Body: "from bob"})
	require.NoError(t, bob.UpdateNote(ctx, seen))

	back, err := alice.ReadNote(ctx, n.ID, client.ReadOptions{Base: n})
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, "from bob", back.Text())

	// Bob keeps access after logging in again.
	again := client.New(env.ClientConfig())
	defer again.Close()
	_, err = again.Login(ctx, "bob", []byte("pw-b"))
	require.NoError(t, err)
	_, ok := again.Keys().ByID(ks.ID)
	assert.True(t, ok)
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t, "legacy-user")
	env.Signup(t, "alice", "right")

	c := client.New(env.ClientConfig())
	defer c.Close()
	_, err := c.Login(ctx, "alice", []byte("wrong"))
	assert.ErrorIs(t, err, client.ErrBadCredentials)
	_, err = c.Login(ctx, "nobody", []byte("x"))
	assert.ErrorIs(t, err, client.ErrBadCredentials)
	_, err = c.Login(ctx, "legacy-user", []byte("x"))
	assert.ErrorIs(t, err, client.ErrPossibleConversion)
	assert.False(t, c.LoggedIn())

	_, err = client.New(env.ClientConfig()).CreateAccount(ctx, "alice", []byte("again"), nil)
	assert.ErrorIs(t, err, client.ErrUsernameTaken)
}

func TestOfflineLoginFromCache(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	cfg := env.ClientConfig()
	cfg.Cache = cache.NewBlobCache(storage.NewMemoryBlobStore())

	c := client.New(cfg)
	_, err := c.CreateAccount(ctx, "alice", []byte("pw"), map[string]string{"hello": "world"})
	require.NoError(t, err)
	ks := newKey(t, c, wire.KeyMeta{})
	n := notes.New(ks.Name, &notes.Text{Body: "cached"})
	require.NoError(t, c.CreateNote(ctx, n))
	_, err = c.ReadNote(ctx, n.ID, client.ReadOptions{})
	require.NoError(t, err)
	c.Close()

	off := client.New(cfg)
	defer off.Close()
	_, err = off.LoginOffline(ctx, "alice", []byte("nope"))
	require.ErrorIs(t, err, client.ErrBadCredentials)
	_, err = off.LoginOffline(ctx, "alice", []byte("pw"))
	require.NoError(t, err)
	assert.False(t, off.Online())

	var payload map[string]string
	require.NoError(t, off.Payload(&payload))
	assert.Equal(t, "world", payload["hello"])

	got, err := off.ReadNote(ctx, n.ID, client.ReadOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.FromCache)
	assert.Equal(t, "cached", got.Text())
	edit := got.Clone()
	edit.Set(&notes.Text{Body: "offline edit"})
	assert.ErrorIs(t, off.UpdateNote(ctx, edit), client.ErrOffline)
}

func TestSealedRequestsAndPoW(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	cfg := env.ClientConfig()
	cfg.SealRequests = true
	c := client.New(cfg)
	defer c.Close()

	ok, err := c.CheckUsername(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = c.CreateAccount(ctx, "carol", []byte("pw"), nil)
	require.NoError(t, err)
	ok, err = c.CheckUsername(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	ks := newKey(t, c, wire.KeyMeta{})
	n := notes.New(ks.Name, &notes.Text{Body: "sealed"})
	require.NoError(t, c.CreateNote(ctx, n))
	pub, err := c.PublicKey(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, c.User().SignPub, pub.SignPub)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	c := env.Signup(t, "alice", "old")
	ks := newKey(t, c, wire.KeyMeta{})

	_, err := c.ChangePassword(ctx, []byte("wrong"), []byte("new"))
	require.ErrorIs(t, err, client.ErrBadCredentials)
	_, err = c.ChangePassword(ctx, []byte("old"), []byte("new"))
	require.NoError(t, err)

	d := client.New(env.ClientConfig())
	defer d.Close()
	_, err = d.Login(ctx, "alice", []byte("old"))
	require.ErrorIs(t, err, client.ErrBadCredentials)
	_, err = d.Login(ctx, "alice", []byte("new"))
	require.NoError(t, err)
	_, ok := d.Keys().ByID(ks.ID)
	assert.True(t, ok)
}
