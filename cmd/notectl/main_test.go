package main

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-notes/internal/session"
	"secure-notes/internal/testenv"
	"secure-notes/internal/tree"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	env := testenv.New(t)
	sess, err := session.New(session.Config{Client: env.ClientConfig()})
	require.NoError(t, err)
	require.NoError(t, sess.CreateAccount(context.Background(), "alice", []byte("pw")))
	t.Cleanup(sess.Logout)
	return &app{username: "alice", sess: sess}
}

// run executes cmd with args, feeding input as standard input.
func run(t *testing.T, a *app, cmd *cobra.Command, input string, args ...string) {
	t.Helper()
	a.stdin = bufio.NewReader(strings.NewReader(input))
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	tr := a.sess.Tree()
	work, err := tr.CreateChild(ctx, tr.Root(), "work", tree.Append)
	require.NoError(t, err)
	plans, err := tr.CreateChild(ctx, work, "plans", tree.Append)
	require.NoError(t, err)

	for _, p := range []string{"/work/plans", "work/plans/", "/work/" + plans.ID()} {
		n, err := a.resolve(ctx, p)
		require.NoError(t, err, p)
		assert.Equal(t, plans.ID(), n.ID(), p)
	}
	n, err := a.resolve(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, tr.Root().ID(), n.ID())

	_, err = a.resolve(ctx, "/work/nope")
	assert.ErrorContains(t, err, "no such note")
	assert.Equal(t, "/work/plans", a.pathOf(plans))
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	run(t, a, a.newCmd(), "pw\n", "/", "todo", "--text", "milk")
	n, err := a.resolve(ctx, "/todo")
	require.NoError(t, err)
	assert.Equal(t, "milk", n.Note().Text())

	run(t, a, a.writeCmd(), "pw\nmilk\neggs\n", "/todo")
	n, err = a.resolve(ctx, "/todo")
	require.NoError(t, err)
	assert.Equal(t, "milk\neggs\n", n.Note().Text())
	entries, err := n.Note().History().All()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	run(t, a, a.newCmd(), "pw\n", "/", "archive")
	run(t, a, a.mvCmd(), "pw\n", "/todo", "/archive")
	_, err = a.resolve(ctx, "/archive/todo")
	require.NoError(t, err)

	run(t, a, a.trashCmd(), "pw\n", "/archive/todo")
	_, err = a.resolve(ctx, "/"+session.RecycleBinTitle+"/todo")
	require.NoError(t, err)
}

func TestLoginFailure(t *testing.T) {
	a := newTestApp(t)
	a.stdin = bufio.NewReader(strings.NewReader("wrong\n"))
	assert.EqualError(t, a.login(context.Background()), "login failed")

	a.username = ""
	assert.ErrorContains(t, a.login(context.Background()), "no username")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "a", firstLine("a\nb"))
	assert.Equal(t, "", firstLine(""))
	assert.Equal(t, "", argAt(nil, 0))
}
