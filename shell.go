package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func shellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive console running the same commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.shell {
				return errors.New("already in the shell")
			}
			a.shell = true
			defer func() { a.shell = false }()
			return a.loop(cmd)
		},
	}
}

func (a *app) loop(cmd *cobra.Command) error {
	fmt.Fprintln(a.out, "Welcome to the library console.")
	if u := a.mgr.CurrentUser(); u != nil {
		fmt.Fprintf(a.out, "Signed in as %s (%s).\n", u.Name, u.Role)
	} else {
		fmt.Fprintln(a.out, "Not signed in. Type 'login' to start.")
	}
	fmt.Fprintln(a.out, "Commands:")
	fmt.Fprintln(a.out, "  Account: register, verify-otp, login, logout, whoami, password forgot|reset|update")
	fmt.Fprintln(a.out, "  Books: books list|search|add|update|delete|export|import|recommend")
	fmt.Fprintln(a.out, "  Borrowing: borrow record|return|mine|all, dashboard")
	fmt.Fprintln(a.out, "  Fines: fines calc|summary|analytics|outstanding|pay, payments verify")
	fmt.Fprintln(a.out, "  Admin: users list|add-admin")
	fmt.Fprintln(a.out, "  System: help, exit")

	ctx := cmd.Context()
	for {
		fmt.Fprint(a.out, "\n> ")
		line, err := a.in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(a.out)
				return nil
			}
			return err
		}
		args, perr := splitArgs(line)
		if perr != nil {
			fmt.Fprintf(a.errw, "Error: %v\n", perr)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			fmt.Fprintln(a.out, "Goodbye!")
			return nil
		case "shell":
			fmt.Fprintln(a.out, "Already in the shell.")
			continue
		}
		// errors are printed by run; the loop keeps going
		_ = a.run(ctx, args)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// splitArgs splits a shell line on whitespace, honouring single and double
// quotes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		started bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			started = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}
