package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"library-client/library"
)

func booksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Browse and manage the catalog",
	}
	cmd.AddCommand(
		booksListCmd(a),
		booksSearchCmd(a),
		booksAddCmd(a),
		booksUpdateCmd(a),
		booksDeleteCmd(a),
		booksExportCmd(a),
		booksImportCmd(a),
		booksRecommendCmd(a),
	)
	return cmd
}

func booksListCmd(a *app) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every book",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				books  []library.Book
				cached bool
				err    error
			)
			if offline {
				books, err = a.mgr.OfflineBooks()
				cached = true
			} else {
				books, cached, err = a.mgr.Books(cmd.Context())
			}
			if err != nil {
				return err
			}
			if cached {
				fmt.Fprintln(a.out, "(showing cached catalog)")
			}
			printBooks(a.out, books)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "read the local cache only")
	return cmd
}

func booksSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over title, author and genre",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cached, err := a.mgr.OfflineBooks()
			if err != nil {
				return err
			}
			if len(cached) == 0 {
				if _, _, err := a.mgr.Books(cmd.Context()); err != nil {
					return err
				}
			}
			books, err := a.mgr.SearchBooks(strings.Join(args, " "))
			if err != nil {
				return err
			}
			printBooks(a.out, books)
			return nil
		},
	}
}

// bookFlags binds the BookInput fields to cmd's flags.
func bookFlags(cmd *cobra.Command, in *library.BookInput) {
	f := cmd.Flags()
	f.StringVar(&in.Title, "title", "", "title")
	f.StringVar(&in.Author, "author", "", "author")
	f.StringVar(&in.Genre, "genre", "", "genre")
	f.StringVar(&in.ISBN, "isbn", "", "ISBN")
	f.IntVar(&in.Quantity, "quantity", 0, "copies in stock")
	f.Float64Var(&in.Price, "price", 0, "price")
}

func booksAddCmd(a *app) *cobra.Command {
	var in library.BookInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book (admin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if in.Title, err = a.valueOrPrompt(in.Title, "Title: "); err != nil {
				return err
			}
			if in.Author, err = a.valueOrPrompt(in.Author, "Author: "); err != nil {
				return err
			}
			b, err := a.mgr.Store().Books.Add(cmd.Context(), in)
			if err != nil {
				return err
			}
			if b != nil {
				fmt.Fprintf(a.out, "ID: %s\n", b.ID)
			}
			return nil
		},
	}
	bookFlags(cmd, &in)
	return cmd
}

func booksUpdateCmd(a *app) *cobra.Command {
	var in library.BookInput
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a book (admin); unset flags keep their current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			books, _, err := a.mgr.Books(cmd.Context())
			if err != nil {
				return err
			}
			var cur *library.Book
			for i := range books {
				if books[i].ID == id {
					cur = &books[i]
					break
				}
			}
			if cur == nil {
				return fmt.Errorf("book %s not found", id)
			}
			merged := library.BookInput{
				Title: cur.Title, Author: cur.Author, Genre: cur.Genre, ISBN: cur.ISBN,
				Quantity: cur.Quantity, Price: cur.Price,
			}
			f := cmd.Flags()
			if f.Changed("title") {
				merged.Title = in.Title
			}
			if f.Changed("author") {
				merged.Author = in.Author
			}
			if f.Changed("genre") {
				merged.Genre = in.Genre
			}
			if f.Changed("isbn") {
				merged.ISBN = in.ISBN
			}
			if f.Changed("quantity") {
				merged.Quantity = in.Quantity
			}
			if f.Changed("price") {
				merged.Price = in.Price
			}
			_, err = a.mgr.Store().Books.Update(cmd.Context(), id, merged)
			return err
		},
	}
	bookFlags(cmd, &in)
	return cmd
}

func booksDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete one or more books (admin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return a.mgr.Store().Books.Delete(cmd.Context(), args[0])
			}
			res := a.mgr.Store().Books.BulkDelete(cmd.Context(), args)
			for _, f := range res.Failed {
				fmt.Fprintf(a.errw, "  %s: %s\n", f.Item, a.message(f.Err))
			}
			if res.FailedCount() > 0 {
				return fmt.Errorf("deleted %d of %d books; %d failed", res.SuccessCount(), len(args), res.FailedCount())
			}
			return nil
		},
	}
}

func booksExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the catalog as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" || out == "-" {
				return a.mgr.ExportBooksCSV(cmd.Context(), a.out)
			}
			f, err := os.Create(filepath.Clean(out))
			if err != nil {
				return err
			}
			if err := a.mgr.ExportBooksCSV(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Exported catalog to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "books.csv", "output file, - for stdout")
	return cmd
}

func booksImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Create books from a CSV file (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(filepath.Clean(args[0]))
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := a.mgr.ImportBooksCSV(cmd.Context(), f)
			if err != nil {
				return err
			}
			printImport(a, res)
			if res.Failed > 0 {
				return fmt.Errorf("%d rows failed", res.Failed)
			}
			return nil
		},
	}
}

func printImport(a *app, res library.ImportResult) {
	fmt.Fprintf(a.out, "Imported %d books, %d failed.\n", res.Success, res.Failed)
	for _, e := range res.Errors {
		fmt.Fprintf(a.errw, "  line %d", e.Line)
		if e.Title != "" {
			fmt.Fprintf(a.errw, " (%s)", e.Title)
		}
		fmt.Fprintf(a.errw, ": %s\n", a.message(e.Err))
	}
}

func booksRecommendCmd(a *app) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Suggest in-stock books from the genres you read most",
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.mgr.Recommendations(cmd.Context(), n)
			if err != nil {
				return err
			}
			printBooks(a.out, books)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 5, "number of suggestions")
	return cmd
}
