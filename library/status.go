package library

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// BorrowStatus is the display state of a borrow record at a point in time.
type BorrowStatus int

const (
	StatusBorrowed BorrowStatus = iota
	StatusDueSoon
	StatusOverdue
	StatusReturned
)

func (s BorrowStatus) String() string {
	switch s {
	case StatusReturned:
		return "Returned"
	case StatusOverdue:
		return "Overdue"
	case StatusDueSoon:
		return "Due Soon"
	default:
		return "Borrowed"
	}
}

// Policy holds the thresholds used to classify borrow records. Every badge
// and every aggregate count is computed with the same Policy value.
type Policy struct {
	// LoanPeriod is added to BorrowDate when a record has no DueDate.
	LoanPeriod time.Duration
	// Grace extends the effective due date before a record counts as overdue.
	Grace time.Duration
	// DueSoon is the window before the effective due date flagged as due soon.
	DueSoon time.Duration
}

var DefaultPolicy = Policy{
	LoanPeriod: 14 * day,
	Grace:      0,
	DueSoon:    3 * day,
}

// PolicyFromDays builds a Policy from whole-day settings.
func PolicyFromDays(loanDays, graceDays, dueSoonDays int) Policy {
	return Policy{
		LoanPeriod: time.Duration(loanDays) * day,
		Grace:      time.Duration(graceDays) * day,
		DueSoon:    time.Duration(dueSoonDays) * day,
	}
}

// EffectiveDue returns the instant after which an unreturned record is overdue.
func (p Policy) EffectiveDue(r BorrowRecord) time.Time {
	due := r.BorrowDate.Add(p.LoanPeriod)
	if r.DueDate != nil {
		due = *r.DueDate
	}
	return due.Add(p.Grace)
}

// Classify returns the status of r at now.
func Classify(r BorrowRecord, now time.Time, p Policy) BorrowStatus {
	if r.ReturnDate != nil {
		return StatusReturned
	}
	due := p.EffectiveDue(r)
	if due.Before(now) {
		return StatusOverdue
	}
	if due.Sub(now) <= p.DueSoon {
		return StatusDueSoon
	}
	return StatusBorrowed
}

// DaysOverdue is the number of started days past the effective due date, 0
// when the record is returned or not yet due.
func DaysOverdue(r BorrowRecord, now time.Time, p Policy) int {
	if Classify(r, now, p) != StatusOverdue {
		return 0
	}
	late := now.Sub(p.EffectiveDue(r))
	return int(math.Ceil(late.Hours() / 24))
}

// Outstanding reports whether r carries a fine that still has to be paid.
func Outstanding(r BorrowRecord) bool {
	return r.Fine > 0 && r.PaymentStatus != PaymentCompleted
}
