package library

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestExportBooks(t *testing.T) {
	var buf bytes.Buffer
	books := []Book{
		{Title: "Dune", Author: "Frank Herbert", Genre: "SciFi", ISBN: "9780441013593", Quantity: 2, Price: 9.99, Available: false},
		{Title: "Emma, Revisited", Author: "Jane Austen", Quantity: 0, Price: 5, Available: true},
	}
	if err := ExportBooks(&buf, books); err != nil {
		t.Fatalf("export: %v", err)
	}
	want := "title,author,genre,ISBN,quantity,price,available\n" +
		"Dune,Frank Herbert,SciFi,9780441013593,2,9.99,Yes\n" +
		"\"Emma, Revisited\",Jane Austen,,,0,5,No\n"
	if buf.String() != want {
		t.Fatalf("want:\n%s\ngot:\n%s", want, buf.String())
	}
}

func TestParseBooks(t *testing.T) {
	in := "\ufeffTitle, AUTHOR ,Genre,isbn,Quantity,Price\n" +
		"Dune,Frank Herbert,SciFi,,2,9.99\n" +
		"\n" +
		",,,,,\n" +
		"Emma,Jane Austen,Classic,,two,5\n" +
		",Nobody,,,1,1\n" +
		"Solaris,Stanislaw Lem,,,,\n" +
		"Hyperion,Dan Simmons,,,-1,3\n"

	rows, failed, err := ParseBooks(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 valid rows, got %+v", rows)
	}
	if rows[0].Line != 2 || rows[0].Input.Title != "Dune" || rows[0].Input.Author != "Frank Herbert" || rows[0].Input.Quantity != 2 || rows[0].Input.Price != 9.99 {
		t.Fatalf("row 0: %+v", rows[0])
	}
	if rows[1].Line != 7 || rows[1].Input.Quantity != 0 || rows[1].Input.Price != 0 {
		t.Fatalf("row 1: %+v", rows[1])
	}

	wantLines := []int{5, 6, 8}
	if len(failed) != len(wantLines) {
		t.Fatalf("want %d failures, got %+v", len(wantLines), failed)
	}
	for i, line := range wantLines {
		if failed[i].Line != line {
			t.Fatalf("failure %d: want line %d, got %d (%v)", i, line, failed[i].Line, failed[i])
		}
	}
	if failed[0].Title != "Emma" || !strings.Contains(failed[0].Error(), "quantity") {
		t.Fatalf("unexpected quantity failure: %v", failed[0])
	}
	var verr *ValidationError
	if !errors.As(failed[1], &verr) || verr.Fields["title"] == "" {
		t.Fatalf("want title validation error, got %v", failed[1].Err)
	}
	if !errors.As(failed[2], &verr) || verr.Fields["quantity"] == "" {
		t.Fatalf("want quantity validation error, got %v", failed[2].Err)
	}
}

func TestParseBooksNoHeader(t *testing.T) {
	for _, in := range []string{"", "name,writer\nDune,Herbert\n"} {
		if _, _, err := ParseBooks(strings.NewReader(in)); !errors.Is(err, ErrNoHeader) {
			t.Fatalf("%q: want ErrNoHeader, got %v", in, err)
		}
	}
}

func TestImportBooks(t *testing.T) {
	in := "title,author,quantity\n" +
		"Dune,Frank Herbert,2\n" +
		"Emma,Jane Austen,1\n" +
		"Broken,,1\n" +
		"Solaris,Stanislaw Lem,1\n"

	var (
		mu      sync.Mutex
		created []string
	)
	create := func(_ context.Context, b BookInput) error {
		if b.Title == "Emma" {
			return errors.New("duplicate title")
		}
		mu.Lock()
		created = append(created, b.Title)
		mu.Unlock()
		return nil
	}

	res, err := ImportBooks(context.Background(), strings.NewReader(in), 2, create)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success != 2 || res.Failed != 2 || len(created) != 2 {
		t.Fatalf("unexpected result %+v, created %v", res, created)
	}
	if res.Errors[0].Line != 4 || res.Errors[1].Line != 3 || res.Errors[1].Title != "Emma" {
		t.Fatalf("unexpected errors %+v", res.Errors)
	}
	if res.Errors[1].Err.Error() != "duplicate title" {
		t.Fatalf("server failure lost: %v", res.Errors[1].Err)
	}
}

func TestExportParseRoundTrip(t *testing.T) {
	books := []Book{
		{Title: "Dune", Author: "Frank Herbert", Genre: "SciFi", ISBN: "978-0441013593", Quantity: 3, Price: 9.99},
		{Title: `The "Annotated" Alice, 2nd ed.`, Author: "Lewis Carroll", Genre: "Classic", Quantity: 0, Price: 12.345},
		{Title: "Emma", Author: "Jane Austen", Quantity: 1, Price: 0},
		{Title: "Ficciones\nCuentos", Author: "Jorge Luis Borges", Genre: "Fiction", ISBN: "0802130305", Quantity: 12, Price: 1e-2},
	}
	var buf bytes.Buffer
	if err := ExportBooks(&buf, books); err != nil {
		t.Fatalf("export: %v", err)
	}

	rows, failed, err := ParseBooks(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("exported rows failed to parse: %v", failed)
	}
	if len(rows) != len(books) {
		t.Fatalf("want %d rows, got %d", len(books), len(rows))
	}
	for i, b := range books {
		want := BookInput{Title: b.Title, Author: b.Author, Genre: b.Genre, ISBN: b.ISBN, Quantity: b.Quantity, Price: b.Price}
		if rows[i].Input != want {
			t.Fatalf("row %d: want %+v, got %+v", i, want, rows[i].Input)
		}
	}
}
