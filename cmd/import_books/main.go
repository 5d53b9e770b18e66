package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"library-client/api"
	"library-client/config"
	"library-client/library"
	"library-client/manager"
)

func main() {
	flags := pflag.NewFlagSet("import_books", pflag.ExitOnError)
	flags.String("api-url", "", "library API root")
	flags.String("db-path", "", "local cache database")
	flags.Int("batch-limit", 0, "max concurrent create requests")
	flags.String("log-level", "", "debug, info, warn or error")
	email := flags.String("email", "", "admin email, when no session is stored")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: import_books [flags] <books.csv>\n\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}
	path := filepath.Clean(flags.Arg(0))

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mgr, err := manager.NewLibraryManager(cfg, manager.WithLogger(cfg.Logger()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening library: %v\n", err)
		os.Exit(1)
	}
	code := run(ctx, mgr, path, *email)
	mgr.Close()
	os.Exit(code)
}

func run(ctx context.Context, mgr *manager.LibraryManager, path, email string) int {
	if u := mgr.CurrentUser(); u == nil || email != "" {
		if err := login(ctx, mgr, email); err != nil {
			fmt.Fprintf(os.Stderr, "Login failed: %s\n", api.Message(err))
			return 1
		}
	}
	if !mgr.CurrentUser().IsAdmin() {
		fmt.Fprintln(os.Stderr, "Importing books requires an admin account.")
		return 1
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", path, err)
		return 1
	}
	defer f.Close()

	fmt.Printf("Importing books from %s...\n", path)
	res, err := mgr.ImportBooksCSV(ctx, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading CSV: %v\n", err)
		return 1
	}

	for _, e := range res.Errors {
		title := e.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("Line %-4d %-40s ERROR - %s\n", e.Line, truncateString(title, 40), describe(e.Err))
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", res.Success)
	fmt.Printf("Errors: %d\n", res.Failed)

	if res.Success > 0 {
		fmt.Println("\nCatalog:")
		books, err := mgr.OfflineBooks()
		if err != nil {
			fmt.Printf("Error retrieving books: %v\n", err)
		} else {
			fmt.Printf("%-50s %-30s %5s\n", "Title", "Author", "Qty")
			fmt.Println(strings.Repeat("-", 87))
			for _, b := range books {
				fmt.Printf("%-50s %-30s %5d\n", truncateString(b.Title, 50), truncateString(b.Author, 30), b.Quantity)
			}
		}
	}
	if res.Failed > 0 {
		return 1
	}
	return 0
}

func login(ctx context.Context, mgr *manager.LibraryManager, email string) error {
	in := bufio.NewReader(os.Stdin)
	if email == "" {
		fmt.Print("Admin email: ")
		line, err := in.ReadString('\n')
		if err != nil {
			return err
		}
		email = strings.TrimSpace(line)
	}
	fmt.Print("Password: ")
	var pw string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return err
		}
		pw = string(raw)
	} else {
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return err
		}
		pw = line
	}
	_, err := mgr.Login(ctx, library.Credentials{Email: email, Password: strings.TrimSpace(pw)})
	return err
}

func describe(err error) string {
	var (
		se *api.ServerError
		ve *api.ValidationError
	)
	if errors.As(err, &se) || errors.As(err, &ve) {
		return api.Message(err)
	}
	return err.Error()
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
