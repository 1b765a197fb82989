package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"secure-notes/internal/client"
	"secure-notes/internal/tree"
)

// loggedIn wraps a command body that needs an open session.
func (a *app) loggedIn(fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := a.login(ctx); err != nil {
			return err
		}
		return fn(ctx, args)
	}
}

func (a *app) signupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account and its root notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			pw, err := a.readSecret("New password: ")
			if err != nil {
				return err
			}
			defer zero(pw)
			again, err := a.readSecret("Repeat password: ")
			if err != nil {
				return err
			}
			defer zero(again)
			if !bytes.Equal(pw, again) {
				return errors.New("passwords do not match")
			}
			if err := a.sess.CreateAccount(cmd.Context(), a.username, pw); err != nil {
				return err
			}
			fmt.Println("created account", a.username)
			return nil
		},
	}
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check credentials and report the session state",
		Args:  cobra.NoArgs,
		RunE: a.loggedIn(func(ctx context.Context, _ []string) error {
			fmt.Printf("%s: %s\n", a.sess.Username(), a.sess.State())
			return nil
		}),
	}
}

func (a *app) usageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show storage used by the account",
		Args:  cobra.NoArgs,
		RunE: a.loggedIn(func(ctx context.Context, _ []string) error {
			u := a.sess.Client().Usage()
			fmt.Printf("notes: %d\nbytes: %d\n", u.Notes, u.Bytes)
			return nil
		}),
	}
}

func (a *app) keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the account's keys",
		Args:  cobra.NoArgs,
		RunE: a.loggedIn(func(ctx context.Context, _ []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tROOT\tSHARED")
			for _, ks := range a.sess.Client().Keys().All() {
				fmt.Fprintf(w, "%s\t%t\t%t\n", ks.Name, ks.Meta.Root, ks.Meta.Shared)
			}
			return w.Flush()
		}),
	}
}

func (a *app) lsCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a note's children",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, err := a.resolve(ctx, firstArg(args))
			if err != nil {
				return err
			}
			return a.list(ctx, n, 0, recursive)
		}),
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list the whole subtree")
	return cmd
}

func (a *app) list(ctx context.Context, n *tree.Node, depth int, recursive bool) error {
	if err := a.sess.Tree().EnsureChildren(ctx, n); err != nil {
		return err
	}
	for _, c := range n.Children() {
		fmt.Printf("%s%s  %s\n", strings.Repeat("  ", depth), c.Title(), c.ID())
		if recursive {
			if err := a.list(ctx, c, depth+1, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a note's text",
		Args:  cobra.ExactArgs(1),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Print(n.Note().Text())
			return nil
		}),
	}
}

func (a *app) newCmd() *cobra.Command {
	var text string
	var index int
	cmd := &cobra.Command{
		Use:   "new <parent> <title>",
		Short: "Create a note under parent",
		Args:  cobra.ExactArgs(2),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			parent, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			t := a.sess.Tree()
			n, err := t.CreateChild(ctx, parent, args[1], tree.Options{Index: index})
			if err != nil {
				return err
			}
			if text != "" {
				if err := t.SaveText(ctx, n, text); err != nil {
					return err
				}
			}
			fmt.Println(n.ID())
			return nil
		}),
	}
	cmd.Flags().StringVar(&text, "text", "", "initial text")
	cmd.Flags().IntVar(&index, "index", -1, "position among the parent's children; negative appends")
	return cmd
}

func (a *app) writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <path>",
		Short: "Replace a note's text with standard input",
		Args:  cobra.ExactArgs(1),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			body, err := io.ReadAll(a.stdin)
			if err != nil {
				return err
			}
			return a.sess.Tree().SaveText(ctx, n, string(body))
		}),
	}
}

func (a *app) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <title>",
		Short: "Change a note's title",
		Args:  cobra.ExactArgs(2),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			return a.sess.Tree().Rename(ctx, n, args[1])
		}),
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a note and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			return a.sess.Tree().Delete(ctx, n)
		}),
	}
}

func (a *app) trashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trash <path>",
		Short: "Move a note to the recycle bin, or delete it if already there",
		Args:  cobra.ExactArgs(1),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			return a.sess.Tree().Trash(ctx, n)
		}),
	}
}

// placeFlags registers the flags shared by mv and cp.
func placeFlags(cmd *cobra.Command, opts *tree.Options) {
	cmd.Flags().IntVar(&opts.Index, "index", -1, "position among the destination's children; negative appends")
	cmd.Flags().BoolVar(&opts.PreserveKey, "preserve-key", false, "keep the current keys instead of the destination's")
}

func (a *app) mvCmd() *cobra.Command {
	var opts tree.Options
	cmd := &cobra.Command{
		Use:   "mv <path> <dest>",
		Short: "Move a note under dest",
		Args:  cobra.ExactArgs(2),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, dest, err := a.resolvePair(ctx, args)
			if err != nil {
				return err
			}
			return a.sess.Tree().Move(ctx, n, dest, opts)
		}),
	}
	placeFlags(cmd, &opts)
	return cmd
}

func (a *app) cpCmd() *cobra.Command {
	var opts tree.Options
	cmd := &cobra.Command{
		Use:   "cp <path> <dest>",
		Short: "Copy a note and its subtree under dest",
		Args:  cobra.ExactArgs(2),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, dest, err := a.resolvePair(ctx, args)
			if err != nil {
				return err
			}
			cp, err := a.sess.Tree().Copy(ctx, n, dest, opts)
			if err != nil {
				return err
			}
			fmt.Println(cp.ID())
			return nil
		}),
	}
	placeFlags(cmd, &opts)
	return cmd
}

func (a *app) resolvePair(ctx context.Context, args []string) (*tree.Node, *tree.Node, error) {
	n, err := a.resolve(ctx, args[0])
	if err != nil {
		return nil, nil, err
	}
	dest, err := a.resolve(ctx, args[1])
	if err != nil {
		return nil, nil, err
	}
	return n, dest, nil
}

func (a *app) rekeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rekey <path> <key-name>",
		Short: "Re-encrypt a note under another key",
		Args:  cobra.ExactArgs(2),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			return a.sess.Tree().ChangeKey(ctx, n, args[1])
		}),
	}
}

func (a *app) historyCmd() *cobra.Command {
	var pages int
	cmd := &cobra.Command{
		Use:   "history <path>",
		Short: "Show a note's revisions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			cur := a.sess.Tree().History(n)
			for i := 0; cur.More() && (pages <= 0 || i < pages); i++ {
				page, _, err := cur.Next()
				if err != nil {
					return err
				}
				for _, e := range page {
					fmt.Printf("%s  %-12s  %s\n", e.Timestamp.Local().Format(time.DateTime), e.Author, firstLine(e.Text))
				}
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&pages, "pages", 1, "pages to show; 0 shows all")
	return cmd
}

func (a *app) shareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <path> <recipient>",
		Short: "Offer a note and its subtree to another user",
		Args:  cobra.ExactArgs(2),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			n, err := a.resolve(ctx, args[0])
			if err != nil {
				return err
			}
			return a.sess.Tree().Share(ctx, n, args[1])
		}),
	}
}

func (a *app) offersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offers",
		Short: "List pending share offers",
		Args:  cobra.NoArgs,
		RunE: a.loggedIn(func(ctx context.Context, _ []string) error {
			offers, err := a.sess.Client().ShareOffers(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFROM\tNOTE\tCREATED")
			for _, o := range offers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.ID, o.Sender, o.Info.NoteID, o.Created.Local().Format(time.DateTime))
			}
			return w.Flush()
		}),
	}
}

func (a *app) findOffer(ctx context.Context, id string) (client.Offer, error) {
	offers, err := a.sess.Client().ShareOffers(ctx)
	if err != nil {
		return client.Offer{}, err
	}
	for _, o := range offers {
		if o.ID == id {
			return o, nil
		}
	}
	return client.Offer{}, fmt.Errorf("no offer %s", id)
}

func (a *app) acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <offer-id> [dest]",
		Short: "Accept a share offer, linking the note under dest",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			o, err := a.findOffer(ctx, args[0])
			if err != nil {
				return err
			}
			dest, err := a.resolve(ctx, argAt(args, 1))
			if err != nil {
				return err
			}
			n, err := a.sess.Tree().AcceptShare(ctx, o, dest)
			if err != nil {
				return err
			}
			fmt.Println(a.pathOf(n))
			return nil
		}),
	}
}

func (a *app) declineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decline <offer-id>",
		Short: "Discard a share offer",
		Args:  cobra.ExactArgs(1),
		RunE: a.loggedIn(func(ctx context.Context, args []string) error {
			return a.sess.Client().DeclineShare(ctx, args[0])
		}),
	}
}

func firstArg(args []string) string { return argAt(args, 0) }

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
