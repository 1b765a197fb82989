package tree_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-notes/internal/cache"
	"secure-notes/internal/client"
	"secure-notes/internal/history"
	"secure-notes/internal/session"
	"secure-notes/internal/storage"
	"secure-notes/internal/testenv"
	"secure-notes/internal/tree"
)

func signup(t *testing.T, env *testenv.Env, username string, cfg client.Config) *session.Session {
	t.Helper()
	s, err := session.New(session.Config{Client: cfg})
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(context.Background(), username, []byte("pw-"+username)))
	t.Cleanup(s.Logout)
	return s
}

func child(t *testing.T, m *tree.Manager, parent *tree.Node, title string) *tree.Node {
	t.Helper()
	n, err := m.CreateChild(context.Background(), parent, title, tree.Append)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func titles(nodes []*tree.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Title()
	}
	return out
}

func TestAccountTreeLayout(t *testing.T) {
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()
	root := m.Root()
	require.NotNil(t, root)
	assert.Equal(t, "alice", root.Title())
	assert.Equal(t, []string{session.RecycleBinTitle, session.ControlPanelTitle}, titles(root.Children()))
	md := root.Note().Metadata()
	assert.Equal(t, root.Children()[0].ID(), md.RecycleBin)
	assert.Equal(t, root.Children()[1].ID(), md.ControlPanel)
	assert.Equal(t, root, m.Selected())
}

func TestCreateChildAndReloadElsewhere(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()

	a := child(t, m, m.Root(), "a")
	b := child(t, m, a, "b")
	assert.Equal(t, b, m.Selected())
	assert.Equal(t, []*tree.Node{m.Root(), a, b}, m.Path(b.ID()))
	require.NoError(t, m.SaveText(ctx, b, "Test Data String"))

	other, err := session.New(session.Config{Client: env.ClientConfig()})
	require.NoError(t, err)
	defer other.Logout()
	ok, err := other.Login(ctx, "alice", []byte("pw-alice"))
	require.NoError(t, err)
	require.True(t, ok)
	om := other.Tree()
	oa := om.Node(a.ID())
	require.NotNil(t, oa)
	require.NoError(t, om.Expand(ctx, oa))
	ob := om.Node(b.ID())
	require.NotNil(t, ob)
	assert.Equal(t, "Test Data String", ob.Note().Text())
}

func TestCreateChildRetriesStaleParent(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()
	parent := child(t, m, m.Root(), "parent")

	other, err := session.New(session.Config{Client: env.ClientConfig()})
	require.NoError(t, err)
	defer other.Logout()
	ok, err := other.Login(ctx, "alice", []byte("pw-alice"))
	require.NoError(t, err)
	require.True(t, ok)
	op := other.Tree().Node(parent.ID())
	require.NotNil(t, op)
	child(t, other.Tree(), op, "from elsewhere")

	// parent's metadata is now stale in m.
	child(t, m, parent, "local")
	assert.ElementsMatch(t, []string{"from elsewhere", "local"}, titles(parent.Children()))
}

func TestSaveTextHistory(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()
	n := child(t, m, m.Root(), "log")

	for i := 0; i < 38; i++ {
		require.NoError(t, m.SaveText(ctx, n, fmt.Sprintf("rev %d", i)))
	}
	assert.Equal(t, "rev 37", n.Note().Text())

	cur := m.History(n)
	var pages int
	for {
		_, more, err := cur.Next()
		require.NoError(t, err)
		pages++
		if !more {
			break
		}
	}
	all := cur.Loaded()
	require.Len(t, all, 38)
	for i, e := range all {
		assert.Equal(t, fmt.Sprintf("rev %d", 37-i), e.Text)
		assert.Equal(t, "alice", e.Author)
	}
	assert.Equal(t, 3, pages)

	st := n.Note().History()
	assert.LessOrEqual(t, len(st.Active), history.ActiveLimit)
	assert.LessOrEqual(t, len(st.HotArchive), history.HotLimit)
}

func TestMoveCopyDelete(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()
	root := m.Root()
	src := child(t, m, root, "src")
	dst := child(t, m, root, "dst")
	leaf := child(t, m, src, "leaf")
	require.NoError(t, m.SaveText(ctx, leaf, "leaf text"))

	require.ErrorIs(t, m.Move(ctx, src, leaf, tree.Append), tree.ErrCycle)
	require.ErrorIs(t, m.Move(ctx, root, dst, tree.Append), tree.ErrProtected)

	require.NoError(t, m.Move(ctx, src, dst, tree.Append))
	assert.Equal(t, dst, src.Parent())
	assert.Equal(t, []string{"src"}, titles(dst.Children()))
	assert.NotContains(t, titles(root.Children()), "src")
	assert.Equal(t, src, m.Selected())

	cp, err := m.Copy(ctx, src, root, tree.Options{Index: 0})
	require.NoError(t, err)
	assert.NotEqual(t, src.ID(), cp.ID())
	assert.Equal(t, "src", root.Children()[0].Title())
	require.NoError(t, m.Expand(ctx, cp))
	require.Len(t, cp.Children(), 1)
	cleaf := cp.Children()[0]
	assert.NotEqual(t, leaf.ID(), cleaf.ID())
	assert.Equal(t, "leaf text", cleaf.Note().Text())

	leafID := leaf.ID()
	require.NoError(t, m.Delete(ctx, src))
	assert.Nil(t, m.Node(src.ID()))
	assert.Nil(t, m.Node(leafID))
	assert.Empty(t, dst.Children())
	gone, err := s.Client().ReadNote(ctx, leafID, client.ReadOptions{})
	require.NoError(t, err)
	assert.Nil(t, gone)
	// The copy is untouched.
	assert.Equal(t, "leaf text", m.Node(cleaf.ID()).Note().Text())
}

func TestReorderWithinParent(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()
	p := child(t, m, m.Root(), "p")
	child(t, m, p, "one")
	child(t, m, p, "two")
	three := child(t, m, p, "three")

	require.NoError(t, m.Move(ctx, three, p, tree.Options{Index: 0}))
	assert.Equal(t, []string{"three", "one", "two"}, titles(p.Children()))
}

func TestTrash(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()
	root := m.Root()
	bin := m.Node(root.Note().Metadata().RecycleBin)
	n := child(t, m, root, "junk")

	require.NoError(t, m.Trash(ctx, n))
	assert.Equal(t, bin, n.Parent())
	require.ErrorIs(t, m.Trash(ctx, bin), tree.ErrProtected)

	require.NoError(t, m.Trash(ctx, n))
	assert.Nil(t, m.Node(n.ID()))
	assert.Empty(t, bin.Children())
}

func TestShareGuardrailsAndAccept(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	alice := signup(t, env, "alice", env.ClientConfig())
	bob := signup(t, env, "bob", env.ClientConfig())
	am := alice.Tree()

	outer := child(t, am, am.Root(), "outer")
	shared := child(t, am, outer, "shared")
	inner := child(t, am, shared, "inner")
	require.NoError(t, am.SaveText(ctx, inner, "hello bob"))

	require.ErrorIs(t, am.Share(ctx, am.Root(), "bob"), tree.ErrShareRoot)
	require.NoError(t, am.Share(ctx, shared, "bob"))
	assert.NotEqual(t, outer.Note().KeyName, shared.Note().KeyName)
	assert.Equal(t, shared.Note().KeyName, inner.Note().KeyName)
	require.ErrorIs(t, am.Share(ctx, inner, "bob"), tree.ErrShareAncestorShared)
	require.ErrorIs(t, am.Share(ctx, outer, "bob"), tree.ErrShareNestedShared)

	offers, err := bob.Client().ShareOffers(ctx)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	bm := bob.Tree()
	got, err := bm.AcceptShare(ctx, offers[0], bm.Root())
	require.NoError(t, err)
	assert.Equal(t, shared.ID(), got.ID())
	assert.Equal(t, got, bm.Selected())
	require.NoError(t, bm.Expand(ctx, got))
	require.Len(t, got.Children(), 1)
	bobInner := got.Children()[0]
	assert.Equal(t, "hello bob", bobInner.Note().Text())

	require.NoError(t, bm.SaveText(ctx, bobInner, "hello alice"))
	require.NoError(t, am.Refresh(ctx, inner))
	assert.Equal(t, "hello alice", inner.Note().Text())
}

func TestShareUnknownRecipientChangesNothing(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	alice := signup(t, env, "alice", env.ClientConfig())
	signup(t, env, "bob", env.ClientConfig())
	am := alice.Tree()

	doc := child(t, am, am.Root(), "doc")
	inner := child(t, am, doc, "inner")
	keyName := doc.Note().KeyName
	keys := alice.Client().Keys().Len()

	require.Error(t, am.Share(ctx, doc, "nosuchuser"))
	assert.Equal(t, keyName, doc.Note().KeyName)
	assert.Equal(t, keyName, inner.Note().KeyName)
	assert.Equal(t, keys, alice.Client().Keys().Len())

	require.NoError(t, am.Share(ctx, inner, "bob"))
	assert.NotEqual(t, keyName, inner.Note().KeyName)
}

func TestStructuralOpsRefuseOffline(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	cfg := env.ClientConfig()
	cfg.Cache = cache.NewBlobCache(storage.NewMemoryBlobStore())
	s := signup(t, env, "alice", cfg)
	s.Logout()

	ok, err := s.LoginOffline(ctx, "alice", []byte("pw-alice"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.Offline, s.State())
	m := s.Tree()
	require.Len(t, m.Root().Children(), 2)

	_, err = m.CreateChild(ctx, m.Root(), "nope", tree.Append)
	var oe *tree.OfflineError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "create", oe.Op)
	assert.ErrorIs(t, err, client.ErrOffline)

	require.NoError(t, s.GoOnline(ctx, nil))
	assert.Equal(t, session.Online, s.State())
	child(t, s.Tree(), s.Tree().Root(), "now online")
}

func TestConcurrentEnsureChildren(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()
	p := child(t, m, m.Root(), "p")
	for i := 0; i < 5; i++ {
		child(t, m, p, fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.EnsureChildren(ctx, p)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, []string{"c0", "c1", "c2", "c3", "c4"}, titles(p.Children()))
}

func TestUpdateKeepsNewerCopy(t *testing.T) {
	ctx := context.Background()
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()
	n := child(t, m, m.Root(), "n")
	old := n.Note()
	require.NoError(t, m.SaveText(ctx, n, "newer"))

	assert.False(t, m.Update(old.Clone()))
	assert.Equal(t, "newer", n.Note().Text())
}

func TestWalk(t *testing.T) {
	env := testenv.New(t)
	s := signup(t, env, "alice", env.ClientConfig())
	m := s.Tree()
	a := child(t, m, m.Root(), "a")
	child(t, m, a, "a1")

	var got []string
	m.Walk(func(n *tree.Node, depth int) bool {
		got = append(got, fmt.Sprintf("%d:%s", depth, n.Title()))
		return true
	})
	assert.Equal(t, []string{
		"0:alice",
		"1:" + session.RecycleBinTitle,
		"1:" + session.ControlPanelTitle,
		"1:a",
		"2:a1",
	}, got)
}
