package library

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Cache scopes for borrow records.
const (
	ScopeMine = "mine"
	ScopeAll  = "all"
)

// Database is the local store: the sealed session and an offline copy of
// the last catalog and borrow lists fetched from the server.
type Database struct {
	db     *sql.DB
	sealer *sealer

	// fts is false when the sqlite3 driver was built without FTS5.
	fts bool

	mu   sync.Mutex
	user *User

	putBookStmt   *sql.Stmt
	putBorrowStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements. passphrase keys the token seal.
func NewDatabase(dbPath, passphrase string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	salt, err := loadSalt(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s, err := newSealer(passphrase, salt)
	if err != nil {
		db.Close()
		return nil, err
	}

	fts, err := ensureFTS(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db, sealer: s, fts: fts}
	if err := database.prepareStatements(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.putBookStmt != nil {
		d.putBookStmt.Close()
	}
	if d.putBorrowStmt != nil {
		d.putBorrowStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            token BLOB,
            user_json TEXT,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            genre TEXT NOT NULL DEFAULT '',
            isbn TEXT NOT NULL DEFAULT '',
            quantity INTEGER NOT NULL DEFAULT 0,
            price REAL NOT NULL DEFAULT 0,
            available BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME
        );`,
		`CREATE TABLE IF NOT EXISTS borrow_records (
            scope TEXT NOT NULL,
            id TEXT NOT NULL,
            user_email TEXT NOT NULL DEFAULT '',
            borrow_date DATETIME NOT NULL,
            position INTEGER NOT NULL,
            payload TEXT NOT NULL,
            PRIMARY KEY (scope, id)
        );`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

var ftsStmts = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS books_fts USING fts5(
        title, author, genre, content='books', content_rowid='rowid'
    );`,
	`CREATE TRIGGER IF NOT EXISTS trg_books_ai AFTER INSERT ON books BEGIN
        INSERT INTO books_fts(rowid,title,author,genre) VALUES(new.rowid,new.title,new.author,new.genre);
    END;`,
	`CREATE TRIGGER IF NOT EXISTS trg_books_ad AFTER DELETE ON books BEGIN
        INSERT INTO books_fts(books_fts,rowid,title,author,genre) VALUES('delete',old.rowid,old.title,old.author,old.genre);
    END;`,
	`CREATE TRIGGER IF NOT EXISTS trg_books_au AFTER UPDATE ON books BEGIN
        INSERT INTO books_fts(books_fts,rowid,title,author,genre) VALUES('delete',old.rowid,old.title,old.author,old.genre);
        INSERT INTO books_fts(rowid,title,author,genre) VALUES(new.rowid,new.title,new.author,new.genre);
    END;`,
}

// ensureFTS creates the full-text index over the cached catalog. It reports
// false, without error, when the driver lacks the fts5 module.
func ensureFTS(db *sql.DB) (bool, error) {
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE name='books_fts'`).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := db.Exec(ftsStmts[0]); err != nil {
		if strings.Contains(err.Error(), "no such module") {
			return false, nil
		}
		return false, fmt.Errorf("create fts index: %w", err)
	}
	for _, stmt := range ftsStmts[1:] {
		if _, err := db.Exec(stmt); err != nil {
			return false, fmt.Errorf("create fts trigger: %w", err)
		}
	}
	if _, err := db.Exec(`INSERT INTO books_fts(books_fts) VALUES('rebuild')`); err != nil {
		return false, fmt.Errorf("rebuild fts index: %w", err)
	}
	return true, nil
}

func loadSalt(db *sql.DB) ([]byte, error) {
	var enc string
	err := db.QueryRow(`SELECT value FROM meta WHERE key='session_salt'`).Scan(&enc)
	if err == nil {
		return hex.DecodeString(enc)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	salt, err := randomSalt()
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`INSERT INTO meta(key,value) VALUES('session_salt',?)`, hex.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("store session salt: %w", err)
	}
	return salt, nil
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.putBookStmt, err = d.db.Prepare(`INSERT INTO books(id,title,author,genre,isbn,quantity,price,available,created_at)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET title=excluded.title, author=excluded.author, genre=excluded.genre,
            isbn=excluded.isbn, quantity=excluded.quantity, price=excluded.price, available=excluded.available`); err != nil {
		return err
	}
	if d.putBorrowStmt, err = d.db.Prepare(`INSERT INTO borrow_records(scope,id,user_email,borrow_date,position,payload)
        VALUES(?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Session (implements api.TokenStore)
// ---------------------------------------------------------------------------

// Token returns the stored bearer token, or "" when logged out.
func (d *Database) Token() (string, error) {
	var box []byte
	err := d.db.QueryRow(`SELECT token FROM session WHERE id=1`).Scan(&box)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(box) == 0 {
		return "", nil
	}
	plain, err := d.sealer.open(box)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// SetToken seals and stores token, keeping any saved user.
func (d *Database) SetToken(token string) error {
	box, err := d.sealer.seal([]byte(token))
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`INSERT INTO session(id,token,updated_at) VALUES(1,?,?)
        ON CONFLICT(id) DO UPDATE SET token=excluded.token, updated_at=excluded.updated_at`, box, time.Now().UTC())
	return err
}

// ClearToken forgets the session entirely.
func (d *Database) ClearToken() error {
	d.mu.Lock()
	d.user = nil
	d.mu.Unlock()
	_, err := d.db.Exec(`DELETE FROM session`)
	return err
}

// SaveUser remembers the logged-in user for offline role checks.
func (d *Database) SaveUser(u *User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.user = u
	d.mu.Unlock()
	_, err = d.db.Exec(`INSERT INTO session(id,user_json,updated_at) VALUES(1,?,?)
        ON CONFLICT(id) DO UPDATE SET user_json=excluded.user_json, updated_at=excluded.updated_at`, string(raw), time.Now().UTC())
	return err
}

// SessionUser returns the saved user, or nil.
func (d *Database) SessionUser() (*User, error) {
	d.mu.Lock()
	if d.user != nil {
		u := *d.user
		d.mu.Unlock()
		return &u, nil
	}
	d.mu.Unlock()

	var raw sql.NullString
	err := d.db.QueryRow(`SELECT user_json FROM session WHERE id=1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var u User
	if err := json.Unmarshal([]byte(raw.String), &u); err != nil {
		return nil, fmt.Errorf("decode session user: %w", err)
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// Offline cache
// ---------------------------------------------------------------------------

// ReplaceBooks swaps the cached catalog for books in one transaction.
func (d *Database) ReplaceBooks(books []Book) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM books`); err != nil {
		return err
	}
	stmt := tx.Stmt(d.putBookStmt)
	for _, b := range books {
		if _, err := stmt.Exec(b.ID, b.Title, b.Author, b.Genre, b.ISBN, b.Quantity, b.Price, b.Available, nullTime(b.CreatedAt)); err != nil {
			return fmt.Errorf("cache book %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// PutBook inserts or updates one cached book.
func (d *Database) PutBook(b Book) error {
	_, err := d.putBookStmt.Exec(b.ID, b.Title, b.Author, b.Genre, b.ISBN, b.Quantity, b.Price, b.Available, nullTime(b.CreatedAt))
	return err
}

// DeleteBook removes one cached book; a missing id is not an error.
func (d *Database) DeleteBook(id string) error {
	_, err := d.db.Exec(`DELETE FROM books WHERE id=?`, id)
	return err
}

// GetAllBooks returns the cached catalog in title order.
func (d *Database) GetAllBooks() ([]Book, error) {
	rows, err := d.db.Query(`SELECT id,title,author,genre,isbn,quantity,price,available FROM books ORDER BY title COLLATE NOCASE, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBooks(rows)
}

// SearchBooks leverages FTS5 over the cached catalog, falling back to a
// substring match when FTS5 is unavailable.
func (d *Database) SearchBooks(q string) ([]Book, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []Book{}, nil
	}
	if !d.fts {
		like := "%" + strings.ToLower(q) + "%"
		rows, err := d.db.Query(`
            SELECT id, title, author, genre, isbn, quantity, price, available
            FROM books
            WHERE lower(title) LIKE ? OR lower(author) LIKE ? OR lower(genre) LIKE ?
            ORDER BY title COLLATE NOCASE, id`, like, like, like)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanBooks(rows)
	}
	rows, err := d.db.Query(`
        SELECT b.id, b.title, b.author, b.genre, b.isbn, b.quantity, b.price, b.available
        FROM books_fts fts
        JOIN books b ON b.rowid = fts.rowid
        WHERE books_fts MATCH ?
        ORDER BY rank;`, ftsQuery(q))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBooks(rows)
}

// ReplaceBorrows swaps the cached borrow list for scope.
func (d *Database) ReplaceBorrows(scope string, records []BorrowRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM borrow_records WHERE scope=?`, scope); err != nil {
		return err
	}
	stmt := tx.Stmt(d.putBorrowStmt)
	for i, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("#%d", i)
		}
		if _, err := stmt.Exec(scope, id, strings.ToLower(r.User.Email), r.BorrowDate.UTC(), i, string(raw)); err != nil {
			return fmt.Errorf("cache borrow %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// PutBorrow upserts r into scope. A new record goes after the cached ones;
// an existing one keeps its position.
func (d *Database) PutBorrow(scope string, r BorrowRecord) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`INSERT INTO borrow_records(scope,id,user_email,borrow_date,position,payload)
        VALUES(?,?,?,?,(SELECT COALESCE(MAX(position),-1)+1 FROM borrow_records WHERE scope=?),?)
        ON CONFLICT(scope,id) DO UPDATE SET user_email=excluded.user_email,
            borrow_date=excluded.borrow_date, payload=excluded.payload`,
		scope, r.ID, strings.ToLower(r.User.Email), r.BorrowDate.UTC(), scope, string(raw))
	return err
}

// UpdateBorrow overwrites r in scope only if it is already cached there.
func (d *Database) UpdateBorrow(scope string, r BorrowRecord) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`UPDATE borrow_records SET user_email=?, borrow_date=?, payload=? WHERE scope=? AND id=?`,
		strings.ToLower(r.User.Email), r.BorrowDate.UTC(), string(raw), scope, r.ID)
	return err
}

// GetBorrows returns the cached borrow list for scope in its fetched order.
func (d *Database) GetBorrows(scope string) ([]BorrowRecord, error) {
	rows, err := d.db.Query(`SELECT payload FROM borrow_records WHERE scope=? ORDER BY position`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BorrowRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r BorrowRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode cached borrow: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanBooks(rows *sql.Rows) ([]Book, error) {
	var books []Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Genre, &b.ISBN, &b.Quantity, &b.Price, &b.Available); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// ftsQuery quotes each term so user input cannot trip FTS5 syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
