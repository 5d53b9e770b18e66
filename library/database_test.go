package library

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"), "test-key")
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTokenIsSealedAtRest(t *testing.T) {
	db := tempDB(t)
	if tok, err := db.Token(); err != nil || tok != "" {
		t.Fatalf("fresh db: token=%q err=%v", tok, err)
	}

	const token = "eyJhbGciOiJIUzI1NiJ9.payload.sig"
	if err := db.SetToken(token); err != nil {
		t.Fatalf("set token: %v", err)
	}
	got, err := db.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got != token {
		t.Fatalf("want %q, got %q", token, got)
	}

	var raw []byte
	if err := db.db.QueryRow(`SELECT token FROM session WHERE id=1`).Scan(&raw); err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if bytes.Contains(raw, []byte(token)) {
		t.Fatalf("token stored in plaintext")
	}
}

func TestTokenWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDatabase(path, "right")
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	if err := db.SetToken("secret-token"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	db.Close()

	other, err := NewDatabase(path, "wrong")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer other.Close()
	if _, err := other.Token(); !errors.Is(err, ErrUnseal) {
		t.Fatalf("want ErrUnseal, got %v", err)
	}
}

func TestSessionUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDatabase(path, "k")
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	if u, err := db.SessionUser(); err != nil || u != nil {
		t.Fatalf("fresh db: user=%v err=%v", u, err)
	}

	if err := db.SetToken("tok"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	ada := &User{ID: "u1", Name: "Ada", Email: "ada@example.com", Role: RoleAdmin}
	if err := db.SaveUser(ada); err != nil {
		t.Fatalf("save user: %v", err)
	}
	db.Close()

	// a second process sees the same session
	db, err = NewDatabase(path, "k")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	u, err := db.SessionUser()
	if err != nil {
		t.Fatalf("session user: %v", err)
	}
	if u == nil || u.Email != "ada@example.com" || !u.IsAdmin() {
		t.Fatalf("unexpected user %+v", u)
	}
	if tok, _ := db.Token(); tok != "tok" {
		t.Fatalf("SaveUser dropped the token, got %q", tok)
	}

	if err := db.SaveUser(nil); err != nil {
		t.Fatalf("save nil: %v", err)
	}
	if u, err := db.SessionUser(); err != nil || u != nil {
		t.Fatalf("after nil save: user=%v err=%v", u, err)
	}
}

func TestClearToken(t *testing.T) {
	db := tempDB(t)
	db.SetToken("tok")
	db.SaveUser(&User{ID: "u1", Name: "Ada"})

	if err := db.ClearToken(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if tok, _ := db.Token(); tok != "" {
		t.Fatalf("token survived clear: %q", tok)
	}
	if u, _ := db.SessionUser(); u != nil {
		t.Fatalf("user survived clear: %+v", u)
	}
}

func TestReplaceBooks(t *testing.T) {
	db := tempDB(t)
	first := []Book{
		{ID: "b1", Title: "zen and the art", Author: "Pirsig", Quantity: 1},
		{ID: "b2", Title: "Anathem", Author: "Stephenson", Quantity: 0},
	}
	if err := db.ReplaceBooks(first); err != nil {
		t.Fatalf("replace: %v", err)
	}
	books, err := db.GetAllBooks()
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(books) != 2 || books[0].ID != "b2" || books[1].ID != "b1" {
		t.Fatalf("want title order [b2 b1], got %+v", books)
	}

	second := []Book{{ID: "b3", Title: "Dune", Author: "Frank Herbert", Genre: "SciFi", Quantity: 3, Price: 9.5, Available: true}}
	if err := db.ReplaceBooks(second); err != nil {
		t.Fatalf("replace: %v", err)
	}
	books, _ = db.GetAllBooks()
	if len(books) != 1 {
		t.Fatalf("want 1 book after replace, got %d", len(books))
	}
	b := books[0]
	if b.Title != "Dune" || b.Genre != "SciFi" || b.Quantity != 3 || b.Price != 9.5 || !b.Available {
		t.Fatalf("round trip lost fields: %+v", b)
	}
}

func TestSearchBooks(t *testing.T) {
	db := tempDB(t)
	huge := strings.Repeat("lorem ipsum ", 5_000)
	db.ReplaceBooks([]Book{
		{ID: "b1", Title: "Dune", Author: "Frank Herbert", Genre: "SciFi"},
		{ID: "b2", Title: "Emma", Author: "Jane Austen", Genre: "Classic"},
		{ID: "b3", Title: huge, Author: "Homer", Genre: "Epic"},
	})

	cases := []struct {
		q    string
		want []string
	}{
		{"herbert", []string{"b1"}},
		{"Austen", []string{"b2"}},
		{"Homer", []string{"b3"}},
		{`"quoted`, nil},
		{"   ", nil},
	}
	for _, c := range cases {
		res, err := db.SearchBooks(c.q)
		if err != nil {
			t.Fatalf("search %q: %v", c.q, err)
		}
		if len(res) != len(c.want) {
			t.Fatalf("search %q: want %d results, got %d", c.q, len(c.want), len(res))
		}
		for i, id := range c.want {
			if res[i].ID != id {
				t.Fatalf("search %q: want %s, got %s", c.q, id, res[i].ID)
			}
		}
	}
}

func TestReplaceBorrowsPerScope(t *testing.T) {
	db := tempDB(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	due := now.Add(14 * day)
	mine := []BorrowRecord{
		{ID: "r2", User: UserRef{Email: "ada@example.com"}, Book: BookRef{ID: "b2", Title: "Emma"}, BorrowDate: now, DueDate: &due},
		{ID: "r1", User: UserRef{Email: "ada@example.com"}, Book: BookRef{ID: "b1", Title: "Dune"}, BorrowDate: now.Add(-day), Fine: 20},
	}
	all := append([]BorrowRecord{{User: UserRef{Email: "bob@example.com"}, BorrowDate: now}}, mine...)

	if err := db.ReplaceBorrows(ScopeMine, mine); err != nil {
		t.Fatalf("replace mine: %v", err)
	}
	if err := db.ReplaceBorrows(ScopeAll, all); err != nil {
		t.Fatalf("replace all: %v", err)
	}

	got, err := db.GetBorrows(ScopeMine)
	if err != nil {
		t.Fatalf("get mine: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" || got[1].ID != "r1" {
		t.Fatalf("want fetched order [r2 r1], got %+v", got)
	}
	if got[0].DueDate == nil || !got[0].DueDate.Equal(due) || got[1].Fine != 20 {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	if got, _ := db.GetBorrows(ScopeAll); len(got) != 3 {
		t.Fatalf("want 3 records in all scope, got %d", len(got))
	}

	// replacing one scope leaves the other alone
	if err := db.ReplaceBorrows(ScopeMine, nil); err != nil {
		t.Fatalf("clear mine: %v", err)
	}
	if got, _ := db.GetBorrows(ScopeMine); len(got) != 0 {
		t.Fatalf("want empty mine scope, got %d", len(got))
	}
	if got, _ := db.GetBorrows(ScopeAll); len(got) != 3 {
		t.Fatalf("all scope changed: %d", len(got))
	}
}

func TestConcurrentCacheWrites(t *testing.T) {
	db := tempDB(t)
	done := make(chan error, 4)
	for i := range 4 {
		go func() {
			books := []Book{{ID: "b", Title: strings.Repeat("x", i+1)}}
			done <- db.ReplaceBooks(books)
		}()
	}
	for range 4 {
		if err := <-done; err != nil {
			t.Fatalf("concurrent replace: %v", err)
		}
	}
	books, _ := db.GetAllBooks()
	if len(books) != 1 {
		t.Fatalf("want exactly one cached book, got %d", len(books))
	}
}

func TestPutAndDeleteBook(t *testing.T) {
	db := tempDB(t)
	db.ReplaceBooks([]Book{
		{ID: "b1", Title: "Dune", Author: "Frank Herbert"},
		{ID: "b2", Title: "Emma", Author: "Jane Austen"},
	})

	if err := db.PutBook(Book{ID: "b3", Title: "Solaris", Author: "Stanislaw Lem", Quantity: 1}); err != nil {
		t.Fatalf("put new: %v", err)
	}
	if err := db.PutBook(Book{ID: "b1", Title: "Dune Messiah", Author: "Frank Herbert"}); err != nil {
		t.Fatalf("put existing: %v", err)
	}
	if err := db.DeleteBook("b2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.DeleteBook("missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	books, _ := db.GetAllBooks()
	if len(books) != 2 || books[0].Title != "Dune Messiah" || books[1].ID != "b3" {
		t.Fatalf("unexpected catalog %+v", books)
	}
	if res, _ := db.SearchBooks("messiah"); len(res) != 1 {
		t.Fatalf("index not updated, got %d hits", len(res))
	}
	if res, _ := db.SearchBooks("austen"); len(res) != 0 {
		t.Fatalf("deleted book still indexed")
	}
}

func TestPutAndUpdateBorrow(t *testing.T) {
	db := tempDB(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	db.ReplaceBorrows(ScopeAll, []BorrowRecord{{ID: "r1", BorrowDate: now}, {ID: "r2", BorrowDate: now}})

	back := now.Add(3 * day)
	if err := db.PutBorrow(ScopeAll, BorrowRecord{ID: "r1", BorrowDate: now, ReturnDate: &back}); err != nil {
		t.Fatalf("put existing: %v", err)
	}
	if err := db.PutBorrow(ScopeAll, BorrowRecord{ID: "r3", BorrowDate: now}); err != nil {
		t.Fatalf("put new: %v", err)
	}
	got, _ := db.GetBorrows(ScopeAll)
	if len(got) != 3 || got[0].ID != "r1" || !got[0].Returned() || got[2].ID != "r3" {
		t.Fatalf("unexpected all scope %+v", got)
	}

	// update only touches records already in the scope
	if err := db.UpdateBorrow(ScopeMine, BorrowRecord{ID: "r1", BorrowDate: now}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, _ := db.GetBorrows(ScopeMine); len(got) != 0 {
		t.Fatalf("update inserted into mine: %+v", got)
	}
	if err := db.UpdateBorrow(ScopeAll, BorrowRecord{ID: "r2", BorrowDate: now, Fine: 30}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, _ := db.GetBorrows(ScopeAll); got[1].Fine != 30 {
		t.Fatalf("update lost: %+v", got[1])
	}
}
