package store

import (
	"context"
	"fmt"

	"library-client/library"
)

type BooksSlice struct {
	*Slice[[]library.Book]
}

func (b *BooksSlice) Fetch(ctx context.Context) error {
	return b.Load(ctx, b.env.client.Books)
}

func (b *BooksSlice) Add(ctx context.Context, in library.BookInput) (*library.Book, error) {
	added, err := Mutate(ctx, b.Slice, func(ctx context.Context) (*library.Book, string, error) {
		return b.env.client.AddBook(ctx, in)
	}, func(books []library.Book, added *library.Book) []library.Book {
		if added == nil {
			return books
		}
		return append(cloneSlice(books), *added)
	})
	if err == nil && added != nil {
		b.record(Change{Book: added})
	}
	return added, err
}

func (b *BooksSlice) Update(ctx context.Context, id string, in library.BookInput) (*library.Book, error) {
	updated, err := Mutate(ctx, b.Slice, func(ctx context.Context) (*library.Book, string, error) {
		book, msg, err := b.env.client.UpdateBook(ctx, id, in)
		if err == nil && book == nil {
			book = new(library.Book)
			*book = in.Book()
			book.ID = id
		}
		return book, msg, err
	}, func(books []library.Book, updated *library.Book) []library.Book {
		out := cloneSlice(books)
		for i := range out {
			if out[i].ID != id {
				continue
			}
			u := *updated
			if u.CreatedAt.IsZero() {
				u.CreatedAt = out[i].CreatedAt
			}
			out[i] = u
		}
		return out
	})
	if err == nil {
		b.record(Change{Book: updated})
	}
	return updated, err
}

func (b *BooksSlice) Delete(ctx context.Context, id string) error {
	_, err := Mutate(ctx, b.Slice, func(ctx context.Context) (string, string, error) {
		msg, err := b.env.client.DeleteBook(ctx, id)
		return id, msg, err
	}, removeBook)
	if err == nil {
		b.record(Change{DeletedBook: id})
	}
	return err
}

func removeBook(books []library.Book, id string) []library.Book {
	out := make([]library.Book, 0, len(books))
	for _, bk := range books {
		if bk.ID != id {
			out = append(out, bk)
		}
	}
	return out
}

// BulkDelete deletes ids with at most the store's batch limit in flight.
// A failed item does not stop the others; each success is removed from
// the slice as it lands.
func (b *BooksSlice) BulkDelete(ctx context.Context, ids []string) library.BatchResult[string] {
	b.beginMutation()
	res := library.RunBatch(ctx, ids, b.env.batchLimit, func(ctx context.Context, id string) error {
		_, err := b.env.client.DeleteBook(ctx, id)
		if err != nil {
			return err
		}
		b.Dispatch(func(st State[[]library.Book]) State[[]library.Book] {
			return Applied(st, func(books []library.Book) []library.Book { return removeBook(books, id) }, "")
		})
		b.record(Change{DeletedBook: id})
		return nil
	})

	msg := fmt.Sprintf("Deleted %d of %d books", res.SuccessCount(), len(ids))
	if res.FailedCount() > 0 {
		b.Dispatch(func(st State[[]library.Book]) State[[]library.Book] {
			return MutationFailed(st, fmt.Sprintf("%s; %d failed", msg, res.FailedCount()))
		})
		for _, f := range res.Failed {
			b.env.log.Warn("store: bulk delete item failed", "book_id", f.Item, "err", f.Err)
		}
		b.fail(fmt.Errorf("%s: %w", msg, res.Failed[0].Err))
		return res
	}
	b.Dispatch(func(st State[[]library.Book]) State[[]library.Book] {
		return Applied(st, nil, msg)
	})
	b.succeed(msg)
	return res
}
