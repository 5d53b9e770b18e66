package library

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVHeader is the fixed export column order.
var CSVHeader = []string{"title", "author", "genre", "ISBN", "quantity", "price", "available"}

// ExportBooks writes books as CSV. The available column is derived from
// quantity, not from the server flag.
func ExportBooks(w io.Writer, books []Book) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, b := range books {
		avail := "No"
		if b.InStock() {
			avail = "Yes"
		}
		row := []string{
			b.Title,
			b.Author,
			b.Genre,
			b.ISBN,
			strconv.Itoa(b.Quantity),
			strconv.FormatFloat(b.Price, 'f', -1, 64),
			avail,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RowError describes a CSV row that was skipped or failed to import. Line is
// the 1-based line number in the file, header included.
type RowError struct {
	Line  int
	Title string
	Err   error
}

func (e RowError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("line %d (%s): %v", e.Line, e.Title, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// CSVRow is a parsed, valid row ready to be created.
type CSVRow struct {
	Line  int
	Input BookInput
}

var ErrNoHeader = errors.New("csv: missing header row")

// ParseBooks reads a book CSV with a header row. Column names are matched
// case-insensitively. Rows failing validation are returned as RowErrors.
func ParseBooks(r io.Reader) ([]CSVRow, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrNoHeader
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	if _, ok := cols["title"]; !ok {
		if _, ok := cols["author"]; !ok {
			return nil, nil, ErrNoHeader
		}
	}

	cell := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		rows   []CSVRow
		failed []RowError
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				failed = append(failed, RowError{Line: perr.StartLine, Err: err})
				continue
			}
			return rows, failed, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if blank(rec) {
			continue
		}

		in := BookInput{
			Title:  cell(rec, "title"),
			Author: cell(rec, "author"),
			Genre:  cell(rec, "genre"),
			ISBN:   cell(rec, "isbn"),
		}
		if in.Quantity, err = parseInt(cell(rec, "quantity")); err != nil {
			failed = append(failed, RowError{Line: line, Title: in.Title, Err: fmt.Errorf("quantity: %w", err)})
			continue
		}
		if in.Price, err = parseFloat(cell(rec, "price")); err != nil {
			failed = append(failed, RowError{Line: line, Title: in.Title, Err: fmt.Errorf("price: %w", err)})
			continue
		}
		if err := Validate(in); err != nil {
			failed = append(failed, RowError{Line: line, Title: in.Title, Err: err})
			continue
		}
		rows = append(rows, CSVRow{Line: line, Input: in})
	}
	return rows, failed, nil
}

// ImportResult is the aggregate outcome of a CSV import.
type ImportResult struct {
	Success int
	Failed  int
	Errors  []RowError
}

// ImportBooks parses r and calls create once per valid row, at most limit
// at a time. A failing row never aborts the rest.
func ImportBooks(ctx context.Context, r io.Reader, limit int, create func(context.Context, BookInput) error) (ImportResult, error) {
	rows, invalid, err := ParseBooks(r)
	if err != nil {
		return ImportResult{}, err
	}
	res := RunBatch(ctx, rows, limit, func(ctx context.Context, row CSVRow) error {
		return create(ctx, row.Input)
	})

	out := ImportResult{
		Success: res.SuccessCount(),
		Failed:  len(invalid) + res.FailedCount(),
		Errors:  invalid,
	}
	for _, f := range res.Failed {
		out.Errors = append(out.Errors, RowError{Line: f.Item.Line, Title: f.Item.Input.Title, Err: f.Err})
	}
	return out, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
