package store

import (
	"log/slog"

	"library-client/api"
	"library-client/library"
)

// Store groups the per-resource slices that share one API client.
type Store struct {
	Auth    *AuthSlice
	Users   *UsersSlice
	Books   *BooksSlice
	Borrows *BorrowsSlice
	Fines   *FinesSlice
}

type Options struct {
	// Notify receives every success and failure notice.
	Notify func(Notice)
	// OnChange receives every record written by a successful mutation.
	OnChange func(Change)
	Logger   *slog.Logger
	// BatchLimit caps in-flight requests of bulk operations. Values below 1
	// run items one at a time.
	BatchLimit int
}

// New builds a Store around client. A session-expired error from any slice
// resets the auth slice.
func New(client *api.Client, opts Options) *Store {
	e := &env{
		client:     client,
		log:        opts.Logger,
		notify:     opts.Notify,
		changed:    opts.OnChange,
		batchLimit: opts.BatchLimit,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.batchLimit < 1 {
		e.batchLimit = 1
	}
	s := &Store{
		Auth:    &AuthSlice{newSlice("auth", e, AuthInfo{})},
		Users:   &UsersSlice{newSlice[[]library.User]("users", e, nil)},
		Books:   &BooksSlice{newSlice[[]library.Book]("books", e, nil)},
		Borrows: newBorrowsSlice(e),
		Fines:   &FinesSlice{newSlice("fines", e, FinesData{})},
	}
	e.expired = s.Auth.expire
	return s
}

// ResetAll drops every slice back to its initial state, as after a logout.
func (s *Store) ResetAll() {
	s.Auth.Reset(AuthInfo{})
	s.Users.Reset(nil)
	s.Books.Reset(nil)
	s.Borrows.resetAll()
	s.Fines.Reset(FinesData{})
}
