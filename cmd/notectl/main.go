package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"secure-notes/internal/config"
	"secure-notes/internal/logging"
	"secure-notes/internal/platform"
	"secure-notes/internal/session"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	cfgPath  string
	username string
	offline  bool

	cfg        *config.Config
	log        *logging.Logger
	sess       *session.Session
	closeCache func(context.Context) error
	stdin      *bufio.Reader
}

func main() {
	a := &app{stdin: bufio.NewReader(os.Stdin)}
	err := a.rootCmd().Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notectl",
		Short:         "End-to-end encrypted notes from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := platform.DisableCoreDumps(); err != nil {
				fmt.Fprintln(os.Stderr, "warning: core dumps not disabled:", err)
			}
			return a.setup(cmd.Context())
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (yaml, toml or json)")
	pf.StringVarP(&a.username, "user", "u", os.Getenv("NOTES_USER"), "account username")
	pf.BoolVar(&a.offline, "offline", false, "use the local cache without contacting the server")

	root.AddCommand(
		a.signupCmd(), a.loginCmd(), a.usageCmd(), a.keysCmd(),
		a.lsCmd(), a.catCmd(), a.newCmd(), a.writeCmd(), a.renameCmd(),
		a.rmCmd(), a.trashCmd(), a.mvCmd(), a.cpCmd(), a.rekeyCmd(), a.historyCmd(),
		a.shareCmd(), a.offersCmd(), a.acceptCmd(), a.declineCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Log, os.Stderr)

	cm, closeCache, err := cfg.OpenCache(ctx)
	if err != nil {
		return err
	}
	a.closeCache = closeCache
	store, err := session.NewStore(cfg.Session.MaterialTTL)
	if err != nil {
		return err
	}
	cc := cfg.ClientConfig()
	cc.Cache = cm
	a.sess, err = session.New(session.Config{
		Client: cc,
		Tree:   cfg.TreeConfig(),
		Store:  store,
		Logger: a.log.Logger,
	})
	return err
}

func (a *app) close() {
	if a.sess != nil {
		a.sess.Logout()
	}
	if a.closeCache != nil {
		if err := a.closeCache(context.Background()); err != nil {
			a.log.Warn().Err(err).Msg("close cache")
		}
	}
	if a.log != nil {
		_ = a.log.Close()
	}
}

// readSecret prompts on stderr and reads without echo when stdin is a
// terminal, or a single line otherwise.
func (a *app) readSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return b, err
	}
	line, err := a.stdin.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return []byte(strings.TrimRight(string(line), "\r\n")), nil
}

func (a *app) requireUser() error {
	if a.username == "" {
		return errors.New("no username: pass --user or set NOTES_USER")
	}
	return nil
}

// login opens the session online, falling back to the cached account when
// the server cannot be used.
func (a *app) login(ctx context.Context) error {
	if err := a.requireUser(); err != nil {
		return err
	}
	password, err := a.readSecret("Password: ")
	if err != nil {
		return err
	}
	defer zero(password)

	if !a.offline {
		ok, err := a.sess.Login(ctx, a.username, password)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	ok, err := a.sess.LoginOffline(ctx, a.username, password)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("login failed")
	}
	fmt.Fprintln(os.Stderr, "offline: changes that need the server are refused")
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
