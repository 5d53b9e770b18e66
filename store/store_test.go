package store

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"library-client/api"
	"library-client/internal/apitest"
	"library-client/library"
)

type noticeLog struct {
	mu   sync.Mutex
	list []Notice
}

func (n *noticeLog) add(x Notice) {
	n.mu.Lock()
	n.list = append(n.list, x)
	n.mu.Unlock()
}

func (n *noticeLog) last() Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.list) == 0 {
		return Notice{}
	}
	return n.list[len(n.list)-1]
}

func newAdminStore(t *testing.T, batchLimit int) (*Store, *apitest.Server, *noticeLog) {
	t.Helper()
	srv := apitest.New(t)
	srv.AddUser("Admin", "admin@example.com", "password123", library.RoleAdmin)

	client, err := api.New(srv.BaseURL(), nil)
	require.NoError(t, err)
	notes := &noticeLog{}
	st := New(client, Options{Notify: notes.add, Logger: slog.New(slog.DiscardHandler), BatchLimit: batchLimit})

	_, err = st.Auth.Login(context.Background(), library.Credentials{Email: "admin@example.com", Password: "password123"})
	require.NoError(t, err)
	require.True(t, st.Auth.User().IsAdmin())
	return st, srv, notes
}

func TestBooksCRUD(t *testing.T) {
	st, srv, notes := newAdminStore(t, 1)
	ctx := context.Background()

	srv.AddBook(library.Book{Title: "Dune", Author: "Herbert", Quantity: 2})
	require.NoError(t, st.Books.Fetch(ctx))
	require.Len(t, st.Books.State().Data, 1)

	added, err := st.Books.Add(ctx, library.BookInput{Title: "Emma", Author: "Austen", Quantity: 1, Price: 9.5})
	require.NoError(t, err)
	require.Equal(t, "Book added successfully.", notes.last().Text)
	require.Len(t, st.Books.State().Data, 2)

	_, err = st.Books.Update(ctx, added.ID, library.BookInput{Title: "Emma", Author: "Jane Austen", Quantity: 0})
	require.NoError(t, err)
	for _, b := range st.Books.State().Data {
		if b.ID == added.ID {
			require.Equal(t, "Jane Austen", b.Author)
			require.False(t, b.Available)
		}
	}

	require.NoError(t, st.Books.Delete(ctx, added.ID))
	require.Len(t, st.Books.State().Data, 1)

	_, err = st.Books.Add(ctx, library.BookInput{Author: "Nobody"})
	require.Error(t, err)
	require.Equal(t, Failed, st.Books.State().Status)
	require.Len(t, st.Books.State().Data, 1)
}

func TestBulkDeletePartialFailure(t *testing.T) {
	st, srv, notes := newAdminStore(t, 3)
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"A", "B", "C", "D"} {
		ids = append(ids, srv.AddBook(library.Book{Title: title, Author: "X", Quantity: 1}).ID)
	}
	srv.FailDelete(ids[2])
	require.NoError(t, st.Books.Fetch(ctx))

	res := st.Books.BulkDelete(ctx, ids)
	require.Equal(t, 3, res.SuccessCount())
	require.Equal(t, 1, res.FailedCount())
	require.Equal(t, ids[2], res.Failed[0].Item)
	require.Equal(t, []string{ids[0], ids[1], ids[3]}, res.Succeeded)

	left := st.Books.State().Data
	require.Len(t, left, 1)
	require.Equal(t, ids[2], left[0].ID)
	require.True(t, notes.last().Err)
	require.Contains(t, notes.last().Text, "Deleted 3 of 4 books")
}

func TestBorrowRecordAndReturn(t *testing.T) {
	st, srv, _ := newAdminStore(t, 1)
	ctx := context.Background()
	srv.AddUser("Reader", "reader@example.com", "password123", library.RoleUser)
	book := srv.AddBook(library.Book{Title: "Dune", Author: "Herbert", Genre: "SciFi", Quantity: 1})

	rec, err := st.Borrows.Record(ctx, book.ID, "reader@example.com")
	require.NoError(t, err)
	require.Len(t, st.Borrows.All.State().Data, 1)
	require.Nil(t, rec.ReturnDate)

	_, err = st.Borrows.Record(ctx, book.ID, "reader@example.com")
	require.Error(t, err)
	require.Equal(t, "Book not available.", st.Borrows.All.State().Err)

	ret, err := st.Borrows.Return(ctx, book.ID, "reader@example.com")
	require.NoError(t, err)
	require.NotNil(t, ret.ReturnDate)
	all := st.Borrows.All.State().Data
	require.Len(t, all, 1)
	require.True(t, all[0].Returned())

	require.NoError(t, st.Borrows.FetchAll(ctx))
	require.Len(t, st.Borrows.All.State().Data, 1)
}

func TestSessionExpiryResetsAuth(t *testing.T) {
	st, srv, notes := newAdminStore(t, 1)

	srv.RevokeTokens()
	srv.SetRefreshFails(true)
	err := st.Users.FetchAll(context.Background())
	require.ErrorIs(t, err, api.ErrSessionExpired)

	auth := st.Auth.State().Data
	require.False(t, auth.Authenticated)
	require.True(t, auth.Expired)
	require.Nil(t, st.Auth.User())
	require.Equal(t, api.ErrSessionExpired.Error(), notes.last().Text)
}

func TestFinesAndPayment(t *testing.T) {
	st, srv, _ := newAdminStore(t, 1)
	ctx := context.Background()
	reader := srv.AddUser("Reader", "reader@example.com", "password123", library.RoleUser)
	rec := srv.AddBorrow(library.BorrowRecord{
		User:       library.UserRef{ID: reader.ID, Email: reader.Email},
		Book:       library.BookRef{ID: "b1", Title: "Dune"},
		BorrowDate: time.Now().Add(-20 * 24 * time.Hour),
		Fine:       30,
	})

	calc, err := st.Fines.Calculate(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, calc.BorrowID)

	sum, err := st.Fines.Summary(ctx, reader.ID)
	require.NoError(t, err)
	require.InDelta(t, 30, sum.PendingFines, 1e-9)

	order, err := st.Fines.CreateOrder(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, apitest.GatewayKey, order.Key)
	require.NotNil(t, st.Fines.State().Data.Order)

	_, err = st.Fines.VerifyPayment(ctx, library.PaymentVerification{
		OrderID: order.ID, PaymentID: "pay_1", Signature: "forged", BorrowID: rec.ID,
	})
	require.Error(t, err)
	require.Equal(t, "Payment verification failed.", st.Fines.State().Err)

	pay, err := st.Fines.VerifyPayment(ctx, library.PaymentVerification{
		OrderID: order.ID, PaymentID: "pay_1", Signature: srv.Sign(order.ID, "pay_1"), BorrowID: rec.ID,
	})
	require.NoError(t, err)
	require.Equal(t, library.PaymentCompleted, pay.Status)
	data := st.Fines.State().Data
	require.Nil(t, data.Order)
	require.Equal(t, library.PaymentCompleted, data.Calculations[rec.ID].Status)

	an, err := st.Fines.Analytics(ctx)
	require.NoError(t, err)
	require.InDelta(t, 30, an.TotalCollected, 1e-9)
	require.Equal(t, 1, an.PaymentsCount)
}

func TestLogoutResetsAuth(t *testing.T) {
	st, _, _ := newAdminStore(t, 1)
	msg, err := st.Auth.Logout(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Logged out successfully.", msg)
	require.Nil(t, st.Auth.User())
	tok, _ := st.Auth.env.client.Tokens().Token()
	require.Empty(t, tok)
}

func TestMutationsReportChanges(t *testing.T) {
	st, srv, _ := newAdminStore(t, 2)
	ctx := context.Background()
	var (
		mu      sync.Mutex
		changes []Change
	)
	st.Books.env.changed = func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}

	keep := srv.AddBook(library.Book{Title: "Dune", Author: "Herbert", Quantity: 1})
	added, err := st.Books.Add(ctx, library.BookInput{Title: "Emma", Author: "Austen", Quantity: 1})
	require.NoError(t, err)
	_, err = st.Books.Update(ctx, added.ID, library.BookInput{Title: "Emma", Author: "Jane Austen", Quantity: 2})
	require.NoError(t, err)
	res := st.Books.BulkDelete(ctx, []string{added.ID, keep.ID})
	require.Equal(t, 2, res.SuccessCount())
	require.False(t, st.Books.State().Loaded)

	require.Len(t, changes, 4)
	require.Equal(t, "books", changes[0].Slice)
	require.Equal(t, added.ID, changes[0].Book.ID)
	require.Equal(t, "Jane Austen", changes[1].Book.Author)
	require.ElementsMatch(t, []string{added.ID, keep.ID}, []string{changes[2].DeletedBook, changes[3].DeletedBook})

	_, err = st.Books.Add(ctx, library.BookInput{Author: "Nobody"})
	require.Error(t, err)
	require.Len(t, changes, 4, "failed mutations write nothing")
}
