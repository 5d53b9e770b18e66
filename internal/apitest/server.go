// Package apitest runs an in-process library REST API for tests. It keeps
// everything in memory and exposes switches for the failure modes the
// client has to handle.
package apitest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"library-client/library"
)

const (
	// OTP is the code every registration is verified with.
	OTP = "12345"
	// FinePerDay is charged for each day a book is returned late.
	FinePerDay = 10.0
	// GatewayKey is returned with every payment order.
	GatewayKey = "rzp_test_key"

	refreshCookie = "refreshToken"
	loanPeriod    = 14 * 24 * time.Hour
)

type account struct {
	user     library.User
	hash     []byte
	otp      string
	resetTok string
}

// Server is a fake library API. Its zero value is not usable; call New.
type Server struct {
	*httptest.Server

	secret []byte

	mu       sync.Mutex
	accounts map[string]*account // by email
	books    []library.Book
	borrows  []library.BorrowRecord
	payments []library.Payment
	tokens   map[string]bool
	hits     map[string]int

	refreshFails bool
	rejectAll    bool
	failDelete   map[string]bool
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		secret:     []byte("apitest-secret-" + uuid.NewString()),
		accounts:   make(map[string]*account),
		tokens:     make(map[string]bool),
		hits:       make(map[string]int),
		failDelete: make(map[string]bool),
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.count)
	s.routes(r.Group("/api/v1"))

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to hand to api.New.
func (s *Server) BaseURL() string { return s.URL + "/api/v1" }

func (s *Server) routes(g *gin.RouterGroup) {
	auth := g.Group("/auth")
	auth.POST("/register", s.register)
	auth.POST("/verify-otp", s.verifyOTP)
	auth.POST("/login", s.login)
	auth.GET("/refresh", s.refresh)
	auth.POST("/password/forgot", s.forgotPassword)
	auth.PUT("/password/reset/:token", s.resetPassword)
	auth.GET("/logout", s.authenticated, s.logout)
	auth.GET("/me", s.authenticated, s.me)
	auth.PUT("/password/update", s.authenticated, s.updatePassword)

	user := g.Group("/user", s.authenticated, s.adminOnly)
	user.GET("/all", s.listUsers)
	user.POST("/admin/add", s.addAdmin)

	book := g.Group("/book", s.authenticated)
	book.GET("/all", s.listBooks)
	book.POST("/admin/add", s.adminOnly, s.addBook)
	book.PUT("/admin/update/:id", s.adminOnly, s.updateBook)
	book.DELETE("/admin/delete/:id", s.adminOnly, s.deleteBook)

	borrow := g.Group("/borrow", s.authenticated)
	borrow.GET("/my-borrowed-books", s.myBorrows)
	borrow.GET("/admin/borrowed-books", s.adminOnly, s.allBorrows)
	borrow.POST("/record-borrow-book/:id", s.adminOnly, s.recordBorrow)
	borrow.POST("/return-borrow-book/:id", s.adminOnly, s.returnBorrow)

	fines := g.Group("/fines", s.authenticated)
	fines.GET("/calculate/:borrowId", s.calculateFine)
	fines.GET("/summary/:userId", s.fineSummary)
	fines.GET("/analytics", s.adminOnly, s.fineAnalytics)
	fines.POST("/create-order", s.createOrder)

	g.POST("/payments/verify-payment", s.authenticated, s.verifyPayment)
}

// ---- switches and seeding ----

// RevokeTokens invalidates every token issued so far. The refresh cookie
// stays valid.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok := range s.tokens {
		s.tokens[tok] = false
	}
}

// SetRefreshFails makes /auth/refresh answer 401.
func (s *Server) SetRefreshFails(v bool) {
	s.mu.Lock()
	s.refreshFails = v
	s.mu.Unlock()
}

// SetRejectAll makes every authenticated route answer 401, even with a
// freshly refreshed token.
func (s *Server) SetRejectAll(v bool) {
	s.mu.Lock()
	s.rejectAll = v
	s.mu.Unlock()
}

// FailDelete makes deleting bookID answer 500.
func (s *Server) FailDelete(bookID string) {
	s.mu.Lock()
	s.failDelete[bookID] = true
	s.mu.Unlock()
}

// Hits returns how many requests reached method and path, for example
// Hits("GET", "/api/v1/auth/refresh").
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// AddUser seeds a verified account.
func (s *Server) AddUser(name, email, password string, role library.Role) library.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	u := library.User{
		ID:              uuid.NewString(),
		Name:            name,
		Email:           strings.ToLower(email),
		Role:            role,
		AccountVerified: true,
		CreatedAt:       time.Now().UTC(),
	}
	s.mu.Lock()
	s.accounts[u.Email] = &account{user: u, hash: hash}
	s.mu.Unlock()
	return u
}

// AddBook seeds a catalog entry and returns it with its id.
func (s *Server) AddBook(b library.Book) library.Book {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Available = b.Quantity > 0
	s.mu.Lock()
	s.books = append(s.books, b)
	s.mu.Unlock()
	return b
}

// AddBorrow seeds a borrow record and returns it with its id.
func (s *Server) AddBorrow(r library.BorrowRecord) library.BorrowRecord {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.PaymentStatus == "" {
		r.PaymentStatus = library.PaymentPending
	}
	s.mu.Lock()
	s.borrows = append(s.borrows, r)
	s.mu.Unlock()
	return r
}

// Books returns a copy of the catalog.
func (s *Server) Books() []library.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]library.Book(nil), s.books...)
}

// ResetToken returns the pending password reset token for email.
func (s *Server) ResetToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[strings.ToLower(email)]; ok {
		return a.resetTok
	}
	return ""
}

// Sign returns the gateway signature for an order and payment pair.
func (s *Server) Sign(orderID, paymentID string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(m.Sum(nil))
}

// ---- middleware ----

func (s *Server) count(c *gin.Context) {
	s.mu.Lock()
	s.hits[c.Request.Method+" "+c.Request.URL.Path]++
	s.mu.Unlock()
	c.Next()
}

func (s *Server) authenticated(c *gin.Context) {
	raw := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	u, ok := s.userForToken(raw)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "User is not authenticated."})
		return
	}
	c.Set("user", u)
	c.Next()
}

func (s *Server) adminOnly(c *gin.Context) {
	if current(c).Role != library.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "User with this role is not allowed to access this resource."})
		return
	}
	c.Next()
}

func current(c *gin.Context) library.User {
	u, _ := c.MustGet("user").(library.User)
	return u
}

func (s *Server) userForToken(raw string) (library.User, bool) {
	if raw == "" {
		return library.User{}, false
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return library.User{}, false
	}
	sub, _ := claims.GetSubject()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectAll || !s.tokens[raw] {
		return library.User{}, false
	}
	for _, a := range s.accounts {
		if a.user.ID == sub {
			return a.user, true
		}
	}
	return library.User{}, false
}

// issue mints a session token. Callers hold s.mu.
func (s *Server) issue(u library.User) string {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.ID,
		"role": string(u.Role),
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	s.tokens[signed] = true
	return signed
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

// ---- auth ----

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=16"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please enter all fields.")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	email := strings.ToLower(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[email]; ok && a.user.AccountVerified {
		fail(c, http.StatusBadRequest, "User already exists.")
		return
	}
	s.accounts[email] = &account{
		user: library.User{ID: uuid.NewString(), Name: req.Name, Email: email, Role: library.RoleUser, CreatedAt: time.Now().UTC()},
		hash: hash,
		otp:  OTP,
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Verification code sent to " + email + "."})
}

func (s *Server) verifyOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		OTP   string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Email or otp is missing.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok || a.otp == "" || a.otp != req.OTP {
		fail(c, http.StatusBadRequest, "Invalid OTP.")
		return
	}
	a.otp = ""
	a.user.AccountVerified = true
	s.sendSession(c, a, "Account Verified.")
}

// sendSession writes {message, user, token} and the refresh cookie.
// Callers hold s.mu.
func (s *Server) sendSession(c *gin.Context, a *account, msg string) {
	tok := s.issue(a.user)
	c.SetCookie(refreshCookie, a.user.ID, 3600, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "user": a.user, "token": tok})
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please enter all fields.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok || !a.user.AccountVerified || bcrypt.CompareHashAndPassword(a.hash, []byte(req.Password)) != nil {
		fail(c, http.StatusBadRequest, "Invalid email or password.")
		return
	}
	s.sendSession(c, a, "User logged in successfully.")
}

func (s *Server) refresh(c *gin.Context) {
	id, err := c.Cookie(refreshCookie)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshFails || err != nil || id == "" {
		fail(c, http.StatusUnauthorized, "Refresh token missing or expired.")
		return
	}
	for _, a := range s.accounts {
		if a.user.ID == id {
			c.JSON(http.StatusOK, gin.H{"success": true, "token": s.issue(a.user)})
			return
		}
	}
	fail(c, http.StatusUnauthorized, "Refresh token missing or expired.")
}

func (s *Server) logout(c *gin.Context) {
	c.SetCookie(refreshCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out successfully."})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "user": current(c)})
}

func (s *Server) forgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Email is required.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok || !a.user.AccountVerified {
		fail(c, http.StatusNotFound, "Invalid email.")
		return
	}
	a.resetTok = uuid.NewString()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Email sent to " + a.user.Email + " successfully."})
}

func (s *Server) resetPassword(c *gin.Context) {
	var req struct {
		Password        string `json:"password" binding:"required"`
		ConfirmPassword string `json:"confirmPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Password != req.ConfirmPassword {
		fail(c, http.StatusBadRequest, "Password and confirm password do not match.")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	tok := c.Param("token")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.resetTok != "" && a.resetTok == tok {
			a.resetTok = ""
			a.hash = hash
			s.sendSession(c, a, "Password reset successfully.")
			return
		}
	}
	fail(c, http.StatusBadRequest, "Reset password token is invalid or has been expired.")
}

func (s *Server) updatePassword(c *gin.Context) {
	var req struct {
		CurrentPassword    string `json:"currentPassword" binding:"required"`
		NewPassword        string `json:"newPassword" binding:"required"`
		ConfirmNewPassword string `json:"confirmNewPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please enter all fields.")
		return
	}
	if req.NewPassword != req.ConfirmNewPassword {
		fail(c, http.StatusBadRequest, "New password and confirm new password do not match.")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	u := current(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[u.Email]
	if a == nil || bcrypt.CompareHashAndPassword(a.hash, []byte(req.CurrentPassword)) != nil {
		fail(c, http.StatusBadRequest, "Current password is incorrect.")
		return
	}
	a.hash = hash
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password updated."})
}

// ---- users ----

func (s *Server) listUsers(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]library.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.user.AccountVerified {
			users = append(users, a.user)
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
}

func (s *Server) addAdmin(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please fill all fields.")
		return
	}
	if _, exists := s.lookup(req.Email); exists {
		fail(c, http.StatusBadRequest, "User already registered.")
		return
	}
	u := s.AddUser(req.Name, req.Email, req.Password, library.RoleAdmin)
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Admin registered successfully.", "admin": u})
}

func (s *Server) lookup(email string) (library.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return library.User{}, false
	}
	return a.user, true
}

// ---- books ----

func (s *Server) listBooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "books": s.Books()})
}

type bookRequest struct {
	Title    string  `json:"title" binding:"required"`
	Author   string  `json:"author" binding:"required"`
	Genre    string  `json:"genre"`
	ISBN     string  `json:"isbn"`
	Quantity int     `json:"quantity" binding:"min=0"`
	Price    float64 `json:"price" binding:"min=0"`
}

func (r bookRequest) apply(b *library.Book) {
	b.Title, b.Author, b.Genre, b.ISBN = r.Title, r.Author, r.Genre, r.ISBN
	b.Quantity, b.Price = r.Quantity, r.Price
	b.Available = r.Quantity > 0
}

func (s *Server) addBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please fill all fields.")
		return
	}
	b := library.Book{CreatedAt: time.Now().UTC()}
	req.apply(&b)
	b = s.AddBook(b)
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Book added successfully.", "book": b})
}

func (s *Server) updateBook(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Please fill all fields.")
		return
	}
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.books {
		if s.books[i].ID == id {
			req.apply(&s.books[i])
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Book updated successfully.", "book": s.books[i]})
			return
		}
	}
	fail(c, http.StatusNotFound, "Book not found.")
}

func (s *Server) deleteBook(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete[id] {
		fail(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	for i := range s.books {
		if s.books[i].ID == id {
			s.books = append(s.books[:i], s.books[i+1:]...)
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Book deleted successfully."})
			return
		}
	}
	fail(c, http.StatusNotFound, "Book not found.")
}

// ---- borrowing ----

func (s *Server) myBorrows(c *gin.Context) {
	u := current(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []library.BorrowRecord{}
	for _, r := range s.borrows {
		if r.User.ID == u.ID || strings.EqualFold(r.User.Email, u.Email) {
			out = append(out, r)
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "borrowedBooks": out})
}

func (s *Server) allBorrows(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true, "borrowedBooks": append([]library.BorrowRecord{}, s.borrows...)})
}

func (s *Server) bookIndex(id string) int {
	for i := range s.books {
		if s.books[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) recordBorrow(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Email is required.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.bookIndex(c.Param("id"))
	if i < 0 {
		fail(c, http.StatusNotFound, "Book not found.")
		return
	}
	a, ok := s.accounts[strings.ToLower(req.Email)]
	if !ok || !a.user.AccountVerified {
		fail(c, http.StatusNotFound, "User not found.")
		return
	}
	b := &s.books[i]
	if b.Quantity == 0 {
		fail(c, http.StatusBadRequest, "Book not available.")
		return
	}
	for _, r := range s.borrows {
		if r.Book.ID == b.ID && r.User.ID == a.user.ID && !r.Returned() {
			fail(c, http.StatusBadRequest, "Book already borrowed.")
			return
		}
	}
	b.Quantity--
	b.Available = b.Quantity > 0

	now := time.Now().UTC()
	due := now.Add(loanPeriod)
	rec := library.BorrowRecord{
		ID:            uuid.NewString(),
		User:          library.UserRef{ID: a.user.ID, Name: a.user.Name, Email: a.user.Email},
		Book:          library.BookRef{ID: b.ID, Title: b.Title, Author: b.Author, Genre: b.Genre, Price: b.Price},
		Price:         b.Price,
		BorrowDate:    now,
		DueDate:       &due,
		PaymentStatus: library.PaymentPending,
	}
	s.borrows = append(s.borrows, rec)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Borrowed book recorded successfully.", "borrow": rec})
}

func (s *Server) returnBorrow(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Email is required.")
		return
	}
	bookID := c.Param("id")
	email := strings.ToLower(req.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.borrows {
		r := &s.borrows[i]
		if r.Book.ID != bookID || !strings.EqualFold(r.User.Email, email) || r.Returned() {
			continue
		}
		now := time.Now().UTC()
		r.ReturnDate = &now
		r.Fine = fineFor(*r, now)
		if r.Fine == 0 {
			r.PaymentStatus = library.PaymentCompleted
		}
		if j := s.bookIndex(bookID); j >= 0 {
			s.books[j].Quantity++
			s.books[j].Available = true
		}
		msg := "The book has been returned successfully."
		if r.Fine > 0 {
			msg = "The book has been returned. A fine is due."
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "borrow": *r})
		return
	}
	fail(c, http.StatusBadRequest, "You have not borrowed this book.")
}

func daysLate(r library.BorrowRecord, at time.Time) int {
	due := r.BorrowDate.Add(loanPeriod)
	if r.DueDate != nil {
		due = *r.DueDate
	}
	if !at.After(due) {
		return 0
	}
	return int(math.Ceil(at.Sub(due).Hours() / 24))
}

func fineFor(r library.BorrowRecord, at time.Time) float64 {
	return float64(daysLate(r, at)) * FinePerDay
}

// ---- fines and payments ----

func (s *Server) borrowByID(id string) *library.BorrowRecord {
	for i := range s.borrows {
		if s.borrows[i].ID == id {
			return &s.borrows[i]
		}
	}
	return nil
}

func (s *Server) calculateFine(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.borrowByID(c.Param("borrowId"))
	if r == nil {
		fail(c, http.StatusNotFound, "Borrow record not found.")
		return
	}
	at := time.Now().UTC()
	if r.ReturnDate != nil {
		at = *r.ReturnDate
	}
	fine := r.Fine
	if r.ReturnDate == nil {
		fine = fineFor(*r, at)
	}
	c.JSON(http.StatusOK, gin.H{
		"borrowId":      r.ID,
		"fine":          fine,
		"daysOverdue":   daysLate(*r, at),
		"paymentStatus": r.PaymentStatus,
	})
}

func (s *Server) fineSummary(c *gin.Context) {
	userID := c.Param("userId")
	s.mu.Lock()
	defer s.mu.Unlock()
	var total, paid float64
	records := []library.BorrowRecord{}
	for _, r := range s.borrows {
		if r.User.ID != userID || r.Fine <= 0 {
			continue
		}
		total += r.Fine
		if r.PaymentStatus == library.PaymentCompleted {
			paid += r.Fine
		}
		records = append(records, r)
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":       userID,
		"totalFines":   total,
		"paidFines":    paid,
		"pendingFines": total - paid,
		"records":      records,
	})
}

func (s *Server) fineAnalytics(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var collected, pending, fined float64
	overdue := 0
	now := time.Now().UTC()
	for _, r := range s.borrows {
		if !r.Returned() && daysLate(r, now) > 0 {
			overdue++
		}
		if r.Fine <= 0 {
			continue
		}
		fined++
		if r.PaymentStatus == library.PaymentCompleted {
			collected += r.Fine
		} else {
			pending += r.Fine
		}
	}
	avg, ratio := 0.0, 0.0
	if fined > 0 {
		avg = (collected + pending) / fined
	}
	if collected+pending > 0 {
		ratio = collected / (collected + pending)
	}
	c.JSON(http.StatusOK, gin.H{
		"totalFinesCollected": collected,
		"pendingAmount":       pending,
		"overdueRecords":      overdue,
		"paymentsCount":       len(s.payments),
		"averageFine":         avg,
		"collectionRatio":     ratio,
	})
}

func (s *Server) createOrder(c *gin.Context) {
	var req struct {
		BorrowID string `json:"borrowId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Borrow id is required.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.borrowByID(req.BorrowID)
	switch {
	case r == nil:
		fail(c, http.StatusNotFound, "Borrow record not found.")
		return
	case r.Fine <= 0 || r.PaymentStatus == library.PaymentCompleted:
		fail(c, http.StatusBadRequest, "No pending fine for this record.")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order": gin.H{
			"id":       "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14],
			"amount":   r.Fine * 100,
			"currency": "INR",
			"receipt":  "receipt_" + r.ID,
		},
		"key": GatewayKey,
	})
}

func (s *Server) verifyPayment(c *gin.Context) {
	var req library.PaymentVerification
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Payment details are missing.")
		return
	}
	want := s.Sign(req.OrderID, req.PaymentID)
	if !hmac.Equal([]byte(want), []byte(req.Signature)) {
		fail(c, http.StatusBadRequest, "Payment verification failed.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.borrowByID(req.BorrowID)
	if r == nil {
		fail(c, http.StatusNotFound, "Borrow record not found.")
		return
	}
	r.PaymentStatus = library.PaymentCompleted
	p := library.Payment{
		ID:                uuid.NewString(),
		Amount:            r.Fine,
		Status:            library.PaymentCompleted,
		RazorpayOrderID:   req.OrderID,
		RazorpayPaymentID: req.PaymentID,
		BorrowRecord:      r.ID,
		User:              r.User,
		Book:              r.Book,
		CreatedAt:         time.Now().UTC(),
	}
	s.payments = append(s.payments, p)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Payment verified successfully.", "payment": p})
}
