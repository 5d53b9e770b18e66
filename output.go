package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"library-client/library"
)

// prompt prints label and reads one line from the app's input.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads a password with masking when stdin is a terminal.
func (a *app) readPassword(label string) (string, error) {
	if !a.tty {
		return a.prompt(label)
	}
	fmt.Fprint(a.out, label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// valueOrPrompt returns v, or asks for it when empty.
func (a *app) valueOrPrompt(v, label string) (string, error) {
	if v = strings.TrimSpace(v); v != "" {
		return v, nil
	}
	return a.prompt(label)
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

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02")
}

func formatMoney(v float64) string { return fmt.Sprintf("%.2f", v) }

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func printBooks(w io.Writer, books []library.Book) {
	if len(books) == 0 {
		fmt.Fprintln(w, "No books found.")
		return
	}
	fmt.Fprintf(w, "%-24s %-30s %-22s %-12s %5s %8s %-9s\n", "ID", "Title", "Author", "Genre", "Qty", "Price", "Available")
	fmt.Fprintln(w, strings.Repeat("-", 116))
	for _, b := range books {
		fmt.Fprintf(w, "%-24s %-30s %-22s %-12s %5d %8s %-9s\n",
			truncateString(b.ID, 24),
			truncateString(b.Title, 30),
			truncateString(b.Author, 22),
			truncateString(b.Genre, 12),
			b.Quantity,
			formatMoney(b.Price),
			yesNo(b.InStock()),
		)
	}
}

func printBorrows(w io.Writer, records []library.BorrowRecord, now time.Time, p library.Policy) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No borrow records.")
		return
	}
	fmt.Fprintf(w, "%-24s %-28s %-22s %-10s %-10s %-10s %-9s %7s %-9s\n",
		"ID", "Book", "User", "Borrowed", "Due", "Returned", "Status", "Fine", "Payment")
	fmt.Fprintln(w, strings.Repeat("-", 138))
	for _, r := range records {
		due := p.EffectiveDue(r).Add(-p.Grace)
		user := r.User.Name
		if user == "" {
			user = r.User.Email
		}
		fmt.Fprintf(w, "%-24s %-28s %-22s %-10s %-10s %-10s %-9s %7s %-9s\n",
			truncateString(r.ID, 24),
			truncateString(bookLabel(r.Book), 28),
			truncateString(user, 22),
			formatDate(&r.BorrowDate),
			formatDate(&due),
			formatDate(r.ReturnDate),
			library.Classify(r, now, p),
			formatMoney(r.Fine),
			r.PaymentStatus,
		)
	}
}

func bookLabel(b library.BookRef) string {
	if b.Title != "" {
		return b.Title
	}
	return b.ID
}
