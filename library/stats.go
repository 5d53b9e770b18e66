package library

import (
	"math"
	"slices"
	"strings"
	"time"
)

type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}

type BorrowerCount struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Count  int    `json:"count"`
}

// Summary is the fixed-shape dashboard aggregate over a list of borrow records.
type Summary struct {
	Total             int             `json:"total"`
	BorrowedCount     int             `json:"borrowedCount"`
	DueSoonCount      int             `json:"dueSoonCount"`
	OverdueCount      int             `json:"overdueCount"`
	ReturnedCount     int             `json:"returnedCount"`
	TotalReadingDays  int             `json:"totalReadingDays"`
	AvgReadingDays    float64         `json:"avgReadingDays"`
	GenreDistribution []GenreCount    `json:"genreDistribution"`
	TopBorrowers      []BorrowerCount `json:"topBorrowers"`
	RecentActivity    []BorrowRecord  `json:"recentActivity"`
	TotalFines        float64         `json:"totalFines"`
	OutstandingFines  float64         `json:"outstandingFines"`
	PaidFines         float64         `json:"paidFines"`
}

// Active is the number of records not yet returned.
func (s Summary) Active() int { return s.Total - s.ReturnedCount }

const unknownGenre = "Unknown"

// Summarize aggregates records as of now. It does not modify records.
func Summarize(records []BorrowRecord, now time.Time, p Policy, recent int) Summary {
	s := Summary{Total: len(records)}

	genres := newCounter()
	borrowers := newCounter()
	names := make(map[string]UserRef)

	for _, r := range records {
		switch Classify(r, now, p) {
		case StatusReturned:
			s.ReturnedCount++
			s.TotalReadingDays += ReadingDays(r)
		case StatusOverdue:
			s.OverdueCount++
		case StatusDueSoon:
			s.DueSoonCount++
		default:
			s.BorrowedCount++
		}

		s.TotalFines += r.Fine
		if Outstanding(r) {
			s.OutstandingFines += r.Fine
		} else if r.Fine > 0 {
			s.PaidFines += r.Fine
		}

		genre := strings.TrimSpace(r.Book.Genre)
		if genre == "" {
			genre = unknownGenre
		}
		genres.add(genre)

		if key := borrowerKey(r.User); key != "" {
			if _, seen := names[key]; !seen {
				names[key] = r.User
			}
			borrowers.add(key)
		}
	}

	if s.ReturnedCount > 0 {
		s.AvgReadingDays = math.Round(float64(s.TotalReadingDays)/float64(s.ReturnedCount)*10) / 10
	}

	for _, e := range genres.ranked() {
		s.GenreDistribution = append(s.GenreDistribution, GenreCount{Genre: e.key, Count: e.n})
	}
	for _, e := range borrowers.ranked() {
		u := names[e.key]
		s.TopBorrowers = append(s.TopBorrowers, BorrowerCount{UserID: u.ID, Name: u.Name, Email: u.Email, Count: e.n})
	}
	s.RecentActivity = RecentActivity(records, recent)
	return s
}

// ReadingDays is the whole number of days (rounded up, at least one) a
// returned record was kept. Unreturned records yield 0.
func ReadingDays(r BorrowRecord) int {
	if r.ReturnDate == nil {
		return 0
	}
	d := int(math.Ceil(r.ReturnDate.Sub(r.BorrowDate).Hours() / 24))
	if d < 1 {
		d = 1
	}
	return d
}

// RecentActivity returns up to n records with the latest BorrowDate first.
// Records with equal dates keep their input order.
func RecentActivity(records []BorrowRecord, n int) []BorrowRecord {
	if n <= 0 || len(records) == 0 {
		return nil
	}
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b BorrowRecord) int {
		return b.BorrowDate.Compare(a.BorrowDate)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// OutstandingRecords filters records with an unpaid fine, preserving order.
func OutstandingRecords(records []BorrowRecord) []BorrowRecord {
	var out []BorrowRecord
	for _, r := range records {
		if Outstanding(r) {
			out = append(out, r)
		}
	}
	return out
}

type MonthCount struct {
	Month time.Time `json:"month"`
	Count int       `json:"count"`
}

// MonthlyTrend buckets borrow dates into the last months calendar months
// ending with the month of now, oldest first. Records outside the window
// are ignored.
func MonthlyTrend(records []BorrowRecord, now time.Time, months int) []MonthCount {
	if months <= 0 {
		return nil
	}
	loc := now.Location()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	out := make([]MonthCount, months)
	for i := range out {
		out[i].Month = current.AddDate(0, i-months+1, 0)
	}
	first := out[0].Month
	for _, r := range records {
		b := r.BorrowDate.In(loc)
		m := time.Date(b.Year(), b.Month(), 1, 0, 0, 0, 0, loc)
		if m.Before(first) || m.After(current) {
			continue
		}
		idx := (m.Year()-first.Year())*12 + int(m.Month()-first.Month())
		out[idx].Count++
	}
	return out
}

// Recommend suggests up to n in-stock books from the genres the reader
// borrows most, skipping titles already borrowed. When the reader has no
// history or the favourite genres run dry, remaining slots are filled with
// other in-stock books in catalog order.
func Recommend(books []Book, history []BorrowRecord, n int) []Book {
	if n <= 0 {
		return nil
	}
	borrowed := make(map[string]bool, len(history))
	genres := newCounter()
	for _, r := range history {
		if r.Book.ID != "" {
			borrowed[r.Book.ID] = true
		}
		if r.Book.Title != "" {
			borrowed[strings.ToLower(r.Book.Title)] = true
		}
		if g := strings.TrimSpace(r.Book.Genre); g != "" {
			genres.add(strings.ToLower(g))
		}
	}

	eligible := func(b Book) bool {
		return b.InStock() && !borrowed[b.ID] && !borrowed[strings.ToLower(b.Title)]
	}

	var out []Book
	picked := make(map[int]bool)
	for _, g := range genres.ranked() {
		for i, b := range books {
			if len(out) == n {
				return out
			}
			if !picked[i] && strings.ToLower(strings.TrimSpace(b.Genre)) == g.key && eligible(b) {
				out = append(out, b)
				picked[i] = true
			}
		}
	}
	for i, b := range books {
		if len(out) == n {
			break
		}
		if !picked[i] && eligible(b) {
			out = append(out, b)
			picked[i] = true
		}
	}
	return out
}

func borrowerKey(u UserRef) string {
	return firstNonEmpty(u.ID, strings.ToLower(u.Email), u.Name)
}

// counter counts keys and ranks them by count, ties by first appearance.
type counter struct {
	order []string
	n     map[string]int
}

type counted struct {
	key string
	n   int
}

func newCounter() *counter { return &counter{n: make(map[string]int)} }

func (c *counter) add(k string) {
	if _, ok := c.n[k]; !ok {
		c.order = append(c.order, k)
	}
	c.n[k]++
}

func (c *counter) ranked() []counted {
	out := make([]counted, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, counted{key: k, n: c.n[k]})
	}
	slices.SortStableFunc(out, func(a, b counted) int { return b.n - a.n })
	return out
}
