package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"library-client/library"
)

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (c *Client) Users(ctx context.Context) ([]library.User, error) {
	var out struct {
		Users []library.User `json:"users"`
	}
	if err := c.call(ctx, http.MethodGet, "/user/all", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) AddAdmin(ctx context.Context, in library.AdminInput) (*library.User, string, error) {
	in.Email = normalizeEmail(in.Email)
	if err := library.Validate(in); err != nil {
		return nil, "", err
	}
	var out struct {
		Message string        `json:"message"`
		Admin   *library.User `json:"admin"`
	}
	if err := c.call(ctx, http.MethodPost, "/user/admin/add", nil, in, &out); err != nil {
		return nil, "", err
	}
	return out.Admin, out.Message, nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

func (c *Client) Books(ctx context.Context) ([]library.Book, error) {
	var out struct {
		Books []library.Book `json:"books"`
	}
	if err := c.call(ctx, http.MethodGet, "/book/all", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Books, nil
}

type bookResponse struct {
	Message string        `json:"message"`
	Book    *library.Book `json:"book"`
}

func (c *Client) AddBook(ctx context.Context, in library.BookInput) (*library.Book, string, error) {
	if err := library.Validate(in); err != nil {
		return nil, "", err
	}
	var out bookResponse
	if err := c.call(ctx, http.MethodPost, "/book/admin/add", nil, in, &out); err != nil {
		return nil, "", err
	}
	return out.Book, out.Message, nil
}

func (c *Client) UpdateBook(ctx context.Context, id string, in library.BookInput) (*library.Book, string, error) {
	if err := requireID("book id", id); err != nil {
		return nil, "", err
	}
	if err := library.Validate(in); err != nil {
		return nil, "", err
	}
	var out bookResponse
	if err := c.call(ctx, http.MethodPut, "/book/admin/update/"+url.PathEscape(id), nil, in, &out); err != nil {
		return nil, "", err
	}
	return out.Book, out.Message, nil
}

func (c *Client) DeleteBook(ctx context.Context, id string) (string, error) {
	if err := requireID("book id", id); err != nil {
		return "", err
	}
	var out messageResponse
	if err := c.call(ctx, http.MethodDelete, "/book/admin/delete/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ---------------------------------------------------------------------------
// Borrowing
// ---------------------------------------------------------------------------

type borrowedResponse struct {
	BorrowedBooks []library.BorrowRecord `json:"borrowedBooks"`
}

func (c *Client) MyBorrowedBooks(ctx context.Context, email string) ([]library.BorrowRecord, error) {
	q := url.Values{}
	if e := normalizeEmail(email); e != "" {
		q.Set("email", e)
	}
	var out borrowedResponse
	if err := c.call(ctx, http.MethodGet, "/borrow/my-borrowed-books", q, nil, &out); err != nil {
		return nil, err
	}
	return out.BorrowedBooks, nil
}

func (c *Client) AllBorrowedBooks(ctx context.Context) ([]library.BorrowRecord, error) {
	var out borrowedResponse
	if err := c.call(ctx, http.MethodGet, "/borrow/admin/borrowed-books", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.BorrowedBooks, nil
}

type borrowRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type borrowResponse struct {
	Message string                `json:"message"`
	Borrow  *library.BorrowRecord `json:"borrow"`
}

// RecordBorrow lends bookID to the user with email.
func (c *Client) RecordBorrow(ctx context.Context, bookID, email string) (*library.BorrowRecord, string, error) {
	return c.borrowCall(ctx, "/borrow/record-borrow-book/", bookID, email)
}

// ReturnBorrow closes the open borrow of bookID by the user with email.
func (c *Client) ReturnBorrow(ctx context.Context, bookID, email string) (*library.BorrowRecord, string, error) {
	return c.borrowCall(ctx, "/borrow/return-borrow-book/", bookID, email)
}

func (c *Client) borrowCall(ctx context.Context, prefix, bookID, email string) (*library.BorrowRecord, string, error) {
	if err := requireID("book id", bookID); err != nil {
		return nil, "", err
	}
	in := borrowRequest{Email: normalizeEmail(email)}
	if err := library.Validate(in); err != nil {
		return nil, "", err
	}
	var out borrowResponse
	if err := c.call(ctx, http.MethodPost, prefix+url.PathEscape(bookID), nil, in, &out); err != nil {
		return nil, "", err
	}
	return out.Borrow, out.Message, nil
}

// ---------------------------------------------------------------------------
// Fines and payments
// ---------------------------------------------------------------------------

func (c *Client) CalculateFine(ctx context.Context, borrowID string) (*library.FineCalculation, error) {
	if err := requireID("borrow id", borrowID); err != nil {
		return nil, err
	}
	var out library.FineCalculation
	if err := c.call(ctx, http.MethodGet, "/fines/calculate/"+url.PathEscape(borrowID), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.BorrowID == "" {
		out.BorrowID = borrowID
	}
	return &out, nil
}

func (c *Client) FineSummary(ctx context.Context, userID string) (*library.FineSummary, error) {
	if err := requireID("user id", userID); err != nil {
		return nil, err
	}
	var out library.FineSummary
	if err := c.call(ctx, http.MethodGet, "/fines/summary/"+url.PathEscape(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	if out.UserID == "" {
		out.UserID = userID
	}
	return &out, nil
}

func (c *Client) FineAnalytics(ctx context.Context) (*library.FineAnalytics, error) {
	var out library.FineAnalytics
	if err := c.call(ctx, http.MethodGet, "/fines/analytics", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder opens a gateway order for the fine on borrowID. Amount is in
// the currency's smallest unit.
func (c *Client) CreateOrder(ctx context.Context, borrowID string) (*library.PaymentOrder, error) {
	if err := requireID("borrow id", borrowID); err != nil {
		return nil, err
	}
	in := struct {
		BorrowID string `json:"borrowId"`
	}{BorrowID: borrowID}
	var out struct {
		Order library.PaymentOrder `json:"order"`
		Key   string               `json:"key"`
	}
	if err := c.call(ctx, http.MethodPost, "/fines/create-order", nil, in, &out); err != nil {
		return nil, err
	}
	order := out.Order
	if order.Key == "" {
		order.Key = out.Key
	}
	return &order, nil
}

func (c *Client) VerifyPayment(ctx context.Context, in library.PaymentVerification) (*library.Payment, string, error) {
	if err := library.Validate(in); err != nil {
		return nil, "", err
	}
	var out struct {
		Message string           `json:"message"`
		Payment *library.Payment `json:"payment"`
	}
	if err := c.call(ctx, http.MethodPost, "/payments/verify-payment", nil, in, &out); err != nil {
		return nil, "", err
	}
	return out.Payment, out.Message, nil
}

func requireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Fields: map[string]string{field: "is required"}}
	}
	return nil
}
