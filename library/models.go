package library

import (
	"bytes"
	"encoding/json"
	"time"
)

// Role is the account role reported by the auth server.
type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

// PaymentStatus values as stored on borrow records and payments.
const (
	PaymentCompleted = "completed"
	PaymentPending   = "pending"
	PaymentFailed    = "failed"
)

type Avatar struct {
	PublicID string `json:"public_id,omitempty"`
	URL      string `json:"url,omitempty"`
}

// User represents an account known to the library server.
type User struct {
	ID              string    `json:"_id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Role            Role      `json:"role"`
	Avatar          *Avatar   `json:"avatar,omitempty"`
	AccountVerified bool      `json:"accountVerified"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Book is a catalog item. Available mirrors the server flag; use InStock for
// the quantity-derived value.
type Book struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Genre     string    `json:"genre,omitempty"`
	ISBN      string    `json:"isbn,omitempty"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	Available bool      `json:"availability"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

func (b Book) InStock() bool { return b.Quantity > 0 }

// UserRef is the user side of a borrow record. The server sends either a
// bare id or a populated object.
type UserRef struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func (r *UserRef) UnmarshalJSON(data []byte) error {
	if s, ok := bareID(data); ok {
		*r = UserRef{ID: s}
		return nil
	}
	var raw struct {
		ID    string `json:"id"`
		OID   string `json:"_id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = UserRef{ID: firstNonEmpty(raw.ID, raw.OID), Name: raw.Name, Email: raw.Email}
	return nil
}

// BookRef is the book side of a borrow record, id or populated object.
type BookRef struct {
	ID     string  `json:"id,omitempty"`
	Title  string  `json:"title,omitempty"`
	Author string  `json:"author,omitempty"`
	Genre  string  `json:"genre,omitempty"`
	Price  float64 `json:"price,omitempty"`
}

func (r *BookRef) UnmarshalJSON(data []byte) error {
	if s, ok := bareID(data); ok {
		*r = BookRef{ID: s}
		return nil
	}
	var raw struct {
		ID     string  `json:"id"`
		OID    string  `json:"_id"`
		Title  string  `json:"title"`
		Author string  `json:"author"`
		Genre  string  `json:"genre"`
		Price  float64 `json:"price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = BookRef{ID: firstNonEmpty(raw.ID, raw.OID), Title: raw.Title, Author: raw.Author, Genre: raw.Genre, Price: raw.Price}
	return nil
}

// BorrowRecord links a user and a book for one lending period.
type BorrowRecord struct {
	ID            string     `json:"_id"`
	User          UserRef    `json:"user"`
	Book          BookRef    `json:"book"`
	Price         float64    `json:"price"`
	BorrowDate    time.Time  `json:"borrowDate"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	ReturnDate    *time.Time `json:"returnDate,omitempty"`
	Fine          float64    `json:"fine"`
	PaymentStatus string     `json:"paymentStatus,omitempty"`
	Notified      bool       `json:"notified,omitempty"`
}

func (r BorrowRecord) Returned() bool { return r.ReturnDate != nil }

// Payment settles a fine. Written once by the verification flow.
type Payment struct {
	ID                string    `json:"_id"`
	Amount            float64   `json:"amount"`
	Status            string    `json:"status"`
	RazorpayOrderID   string    `json:"razorpayOrderId,omitempty"`
	RazorpayPaymentID string    `json:"razorpayPaymentId,omitempty"`
	BorrowRecord      string    `json:"borrowRecord,omitempty"`
	User              UserRef   `json:"user"`
	Book              BookRef   `json:"book"`
	CreatedAt         time.Time `json:"createdAt,omitempty"`
}

type FineCalculation struct {
	BorrowID    string  `json:"borrowId"`
	Fine        float64 `json:"fine"`
	DaysOverdue int     `json:"daysOverdue"`
	Status      string  `json:"paymentStatus,omitempty"`
}

type FineSummary struct {
	UserID       string         `json:"userId"`
	TotalFines   float64        `json:"totalFines"`
	PaidFines    float64        `json:"paidFines"`
	PendingFines float64        `json:"pendingFines"`
	Records      []BorrowRecord `json:"records,omitempty"`
}

type FineAnalytics struct {
	TotalCollected  float64 `json:"totalFinesCollected"`
	PendingAmount   float64 `json:"pendingAmount"`
	OverdueRecords  int     `json:"overdueRecords"`
	PaymentsCount   int     `json:"paymentsCount"`
	AverageFine     float64 `json:"averageFine"`
	CollectionRatio float64 `json:"collectionRatio"`
}

// PaymentOrder is a gateway order created for a fine.
type PaymentOrder struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Receipt  string  `json:"receipt,omitempty"`
	Key      string  `json:"key,omitempty"`
}

// PaymentVerification is the triple returned by the gateway checkout.
type PaymentVerification struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
	BorrowID  string `json:"borrowId" validate:"required"`
}

// Request payloads.

type BookInput struct {
	Title    string  `json:"title" validate:"required"`
	Author   string  `json:"author" validate:"required"`
	Genre    string  `json:"genre,omitempty"`
	ISBN     string  `json:"isbn,omitempty"`
	Quantity int     `json:"quantity" validate:"gte=0"`
	Price    float64 `json:"price" validate:"gte=0"`
}

func (in BookInput) Book() Book {
	return Book{
		Title:     in.Title,
		Author:    in.Author,
		Genre:     in.Genre,
		ISBN:      in.ISBN,
		Quantity:  in.Quantity,
		Price:     in.Price,
		Available: in.Quantity > 0,
	}
}

type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type Registration struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=16"`
}

type OTPVerification struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,numeric,len=5"`
}

type PasswordReset struct {
	Password        string `json:"password" validate:"required,min=8,max=16"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type PasswordUpdate struct {
	CurrentPassword    string `json:"currentPassword" validate:"required"`
	NewPassword        string `json:"newPassword" validate:"required,min=8,max=16"`
	ConfirmNewPassword string `json:"confirmNewPassword" validate:"required,eqfield=NewPassword"`
}

type AdminInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=16"`
}

func bareID(data []byte) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false
	}
	return s, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
