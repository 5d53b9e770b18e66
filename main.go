package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-client/api"
	"library-client/config"
	"library-client/manager"
	"library-client/store"
)

// app is the state shared by every command of one process, including all
// commands run from the interactive shell.
type app struct {
	mgr *manager.LibraryManager
	cfg config.App

	out   io.Writer
	errw  io.Writer
	in    *bufio.Reader
	tty   bool
	shell bool
}

func newApp() *app {
	return &app{
		out:  os.Stdout,
		errw: os.Stderr,
		in:   bufio.NewReader(os.Stdin),
		tty:  term.IsTerminal(int(os.Stdin.Fd())),
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp()
	err := a.run(ctx, os.Args[1:])
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

// run executes one command line and prints its error, if any.
func (a *app) run(ctx context.Context, args []string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errw)
	err := root.ExecuteContext(ctx)
	if err != nil {
		a.printError(err)
	}
	return err
}

func (a *app) printError(err error) {
	switch {
	case errors.Is(err, api.ErrSessionExpired):
		fmt.Fprintln(a.errw, "Error: your session has expired. Run `library login` to sign in again.")
	case errors.Is(err, manager.ErrNotSignedIn):
		fmt.Fprintln(a.errw, "Error: you are not signed in. Run `library login` first.")
	default:
		fmt.Fprintf(a.errw, "Error: %s\n", a.message(err))
	}
}

// message renders API failures with their user-facing text and anything
// else as is.
func (a *app) message(err error) string {
	var (
		se *api.ServerError
		ve *api.ValidationError
		ne *api.NetworkError
	)
	if errors.As(err, &se) || errors.As(err, &ve) || errors.As(err, &ne) ||
		errors.Is(err, api.ErrSessionExpired) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return api.Message(err)
	}
	return err.Error()
}

func (a *app) close() {
	if a.mgr != nil {
		if err := a.mgr.Close(); err != nil {
			slog.Warn("close manager", "err", err)
		}
		a.mgr = nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Command-line console for the library management API",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("api-url", "", "library API root, e.g. http://localhost:4000/api/v1")
	pf.String("db-path", "", "local cache database")
	pf.Duration("timeout", 0, "per-request timeout")
	pf.Int("batch-limit", 0, "max concurrent requests for bulk operations")
	pf.Int("grace-days", 0, "days after the due date before a borrow counts as overdue")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")

	root.AddCommand(
		registerCmd(a),
		verifyOTPCmd(a),
		loginCmd(a),
		logoutCmd(a),
		whoamiCmd(a),
		passwordCmd(a),
		booksCmd(a),
		borrowCmd(a),
		finesCmd(a),
		paymentsCmd(a),
		usersCmd(a),
		dashboardCmd(a),
		shellCmd(a),
	)
	return root
}

// init loads configuration and opens the manager once per process.
func (a *app) init(cmd *cobra.Command) error {
	if a.mgr != nil {
		return nil
	}
	cfg, err := config.Load(cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	mgr, err := manager.NewLibraryManager(cfg,
		manager.WithLogger(logger),
		manager.WithNotify(a.notice),
	)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.mgr = mgr
	return nil
}

// notice prints success messages. Failures are printed once by run.
func (a *app) notice(n store.Notice) {
	if n.Err || n.Text == "" {
		return
	}
	fmt.Fprintln(a.out, n.Text)
}
