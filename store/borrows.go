package store

import (
	"context"

	"library-client/library"
)

// BorrowsSlice keeps the caller's own records and the admin-wide list in
// separate containers so that one never overwrites the other.
type BorrowsSlice struct {
	Mine *Slice[[]library.BorrowRecord]
	All  *Slice[[]library.BorrowRecord]
}

func newBorrowsSlice(e *env) *BorrowsSlice {
	return &BorrowsSlice{
		Mine: newSlice[[]library.BorrowRecord]("borrows.mine", e, nil),
		All:  newSlice[[]library.BorrowRecord]("borrows.all", e, nil),
	}
}

// FetchMine loads the records of the signed-in user. email narrows the
// query when the server needs it.
func (b *BorrowsSlice) FetchMine(ctx context.Context, email string) error {
	return b.Mine.Load(ctx, func(ctx context.Context) ([]library.BorrowRecord, error) {
		return b.Mine.env.client.MyBorrowedBooks(ctx, email)
	})
}

// FetchAll loads every borrow record. Admin only.
func (b *BorrowsSlice) FetchAll(ctx context.Context) error {
	return b.All.Load(ctx, b.All.env.client.AllBorrowedBooks)
}

// Record lends bookID to the user with email and folds the new record into
// the admin list.
func (b *BorrowsSlice) Record(ctx context.Context, bookID, email string) (*library.BorrowRecord, error) {
	rec, err := Mutate(ctx, b.All, func(ctx context.Context) (*library.BorrowRecord, string, error) {
		return b.All.env.client.RecordBorrow(ctx, bookID, email)
	}, upsertBorrow)
	if err == nil && rec != nil {
		b.All.record(Change{Borrow: rec})
	}
	return rec, err
}

// Return closes the open borrow of bookID by email. The returned record
// replaces its previous version in both containers.
func (b *BorrowsSlice) Return(ctx context.Context, bookID, email string) (*library.BorrowRecord, error) {
	rec, err := Mutate(ctx, b.All, func(ctx context.Context) (*library.BorrowRecord, string, error) {
		return b.All.env.client.ReturnBorrow(ctx, bookID, email)
	}, upsertBorrow)
	if err != nil || rec == nil {
		return rec, err
	}
	b.All.record(Change{Borrow: rec})
	b.Mine.Dispatch(func(st State[[]library.BorrowRecord]) State[[]library.BorrowRecord] {
		if !containsBorrow(st.Data, rec.ID) {
			return st
		}
		return Applied(st, func(rs []library.BorrowRecord) []library.BorrowRecord { return upsertBorrow(rs, rec) }, "")
	})
	return rec, nil
}

func upsertBorrow(records []library.BorrowRecord, rec *library.BorrowRecord) []library.BorrowRecord {
	if rec == nil {
		return records
	}
	out := cloneSlice(records)
	for i := range out {
		if out[i].ID == rec.ID {
			out[i] = *rec
			return out
		}
	}
	return append(out, *rec)
}

func containsBorrow(records []library.BorrowRecord, id string) bool {
	for _, r := range records {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (b *BorrowsSlice) resetAll() {
	b.Mine.Reset(nil)
	b.All.Reset(nil)
}
