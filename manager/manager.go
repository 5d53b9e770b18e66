// Package manager wires configuration, the local cache, the API client and
// the state slices into one façade for the CLI.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"library-client/api"
	"library-client/config"
	"library-client/library"
	"library-client/store"
)

// ErrNotSignedIn is returned by operations that need a session when there
// is none.
var ErrNotSignedIn = errors.New("not signed in, run `library login` first")

// LibraryManager is a thin façade keeping CLI code simple.
type LibraryManager struct {
	cfg    config.App
	db     *library.Database
	client *api.Client
	store  *store.Store
	log    *slog.Logger
	policy library.Policy
	now    func() time.Time

	notify  []func(store.Notice)
	expired chan struct{}
	unsub   []func()
}

type Option func(*LibraryManager)

func WithLogger(l *slog.Logger) Option { return func(m *LibraryManager) { m.log = l } }

// WithClock replaces time.Now for status and statistics.
func WithClock(now func() time.Time) Option { return func(m *LibraryManager) { m.now = now } }

// WithNotify receives every success and failure notice from the slices.
func WithNotify(fn func(store.Notice)) Option {
	return func(m *LibraryManager) { m.notify = append(m.notify, fn) }
}

// NewLibraryManager opens (or creates) the local database and connects the
// client to cfg.APIURL. A session saved by an earlier run is restored.
func NewLibraryManager(cfg config.App, opts ...Option) (*LibraryManager, error) {
	m := &LibraryManager{
		cfg:     cfg,
		log:     slog.Default(),
		policy:  cfg.Policy(),
		now:     time.Now,
		expired: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}

	db, err := library.NewDatabase(cfg.DBPath, cfg.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	m.db = db

	client, err := api.New(cfg.APIURL, db,
		api.WithLogger(m.log),
		api.WithTimeout(cfg.Timeout),
		api.OnSessionExpired(m.sessionExpired),
	)
	if err != nil {
		db.Close()
		return nil, err
	}
	m.client = client
	m.store = store.New(client, store.Options{
		Notify:     m.dispatchNotice,
		OnChange:   m.applyChange,
		Logger:     m.log,
		BatchLimit: cfg.BatchLimit,
	})
	m.mirror()

	if err := m.restore(); err != nil {
		m.log.Warn("manager: restore session", "err", err)
	}
	return m, nil
}

// Close releases subscriptions and closes the database.
func (m *LibraryManager) Close() error {
	for _, fn := range m.unsub {
		fn()
	}
	m.unsub = nil
	return m.db.Close()
}

func (m *LibraryManager) Store() *store.Store        { return m.store }
func (m *LibraryManager) Client() *api.Client        { return m.client }
func (m *LibraryManager) DB() *library.Database      { return m.db }
func (m *LibraryManager) Policy() library.Policy     { return m.policy }
func (m *LibraryManager) Config() config.App         { return m.cfg }
func (m *LibraryManager) Now() time.Time             { return m.now() }
func (m *LibraryManager) CurrentUser() *library.User { return m.store.Auth.User() }

// SessionExpired reports, and clears, whether the session was dropped since
// the last call.
func (m *LibraryManager) SessionExpired() bool {
	select {
	case <-m.expired:
		return true
	default:
		return false
	}
}

func (m *LibraryManager) sessionExpired() {
	select {
	case m.expired <- struct{}{}:
	default:
	}
}

func (m *LibraryManager) dispatchNotice(n store.Notice) {
	for _, fn := range m.notify {
		fn(n)
	}
}

func (m *LibraryManager) restore() error {
	tok, err := m.db.Token()
	if errors.Is(err, library.ErrUnseal) {
		// sealed under another session key; start signed out
		return errors.Join(err, m.db.ClearToken())
	}
	if err != nil || tok == "" {
		return err
	}
	if claims, err := api.ParseClaims(tok); err == nil && claims.Expired(m.now()) {
		m.log.Debug("manager: saved token expired, refresh will be attempted")
	}
	u, err := m.db.SessionUser()
	if err != nil {
		return err
	}
	if u != nil {
		m.store.Auth.Restore(u)
	}
	return nil
}

// ---- cache mirroring ----

// mirror keeps the local cache in step with the slices. A committed load
// replaces the cached list; a mutation on a slice that was never loaded
// only holds its own records, so it is written row by row in applyChange.
func (m *LibraryManager) mirror() {
	m.unsub = append(m.unsub,
		m.store.Auth.Subscribe(func(st store.State[store.AuthInfo]) {
			if st.Status != store.Succeeded || !st.Data.Authenticated || st.Data.User == nil {
				return
			}
			m.logCache("user", m.db.SaveUser(st.Data.User))
		}),
		m.store.Books.Subscribe(func(st store.State[[]library.Book]) {
			if st.Status == store.Succeeded && st.Loaded {
				m.logCache("books", m.db.ReplaceBooks(st.Data))
			}
		}),
		m.store.Borrows.Mine.Subscribe(func(st store.State[[]library.BorrowRecord]) {
			if st.Status == store.Succeeded && st.Loaded {
				m.logCache("borrows.mine", m.db.ReplaceBorrows(library.ScopeMine, st.Data))
			}
		}),
		m.store.Borrows.All.Subscribe(func(st store.State[[]library.BorrowRecord]) {
			if st.Status == store.Succeeded && st.Loaded {
				m.logCache("borrows.all", m.db.ReplaceBorrows(library.ScopeAll, st.Data))
			}
		}),
	)
}

func (m *LibraryManager) applyChange(c store.Change) {
	switch {
	case c.Book != nil:
		m.logCache("book", m.db.PutBook(*c.Book))
	case c.DeletedBook != "":
		m.logCache("book", m.db.DeleteBook(c.DeletedBook))
	case c.Borrow != nil:
		m.logCache("borrow", m.db.PutBorrow(library.ScopeAll, *c.Borrow))
		m.logCache("borrow", m.db.UpdateBorrow(library.ScopeMine, *c.Borrow))
	}
}

func (m *LibraryManager) logCache(what string, err error) {
	if err != nil {
		m.log.Warn("manager: cache write failed", "what", what, "err", err)
	}
}

// ---- session ----

func (m *LibraryManager) Login(ctx context.Context, in library.Credentials) (*library.User, error) {
	sess, err := m.store.Auth.Login(ctx, in)
	if err != nil {
		return nil, err
	}
	return sess.User, nil
}

// Logout ends the session and drops every cached resource state.
func (m *LibraryManager) Logout(ctx context.Context) (string, error) {
	msg, err := m.store.Auth.Logout(ctx)
	m.store.ResetAll()
	return msg, err
}

func (m *LibraryManager) requireUser() (*library.User, error) {
	u := m.CurrentUser()
	if u == nil {
		return nil, ErrNotSignedIn
	}
	return u, nil
}

// ---- borrow records ----

// Borrows loads the records visible to the current user: every record for
// an admin, their own otherwise. When the server is unreachable the last
// cached list is returned with offline set.
func (m *LibraryManager) Borrows(ctx context.Context) (records []library.BorrowRecord, scope string, offline bool, err error) {
	u, err := m.requireUser()
	if err != nil {
		return nil, "", false, err
	}
	slice, scope := m.store.Borrows.Mine, library.ScopeMine
	if u.IsAdmin() {
		slice, scope = m.store.Borrows.All, library.ScopeAll
		err = m.store.Borrows.FetchAll(ctx)
	} else {
		err = m.store.Borrows.FetchMine(ctx, u.Email)
	}
	if err == nil {
		return slice.State().Data, scope, false, nil
	}
	var ne *api.NetworkError
	if !errors.As(err, &ne) {
		return nil, scope, false, err
	}
	cached, cerr := m.db.GetBorrows(scope)
	if cerr != nil {
		return nil, scope, false, errors.Join(err, cerr)
	}
	return cached, scope, true, nil
}

// Dashboard is the data behind the dashboard view.
type Dashboard struct {
	User    *library.User
	Scope   string
	Offline bool
	Summary library.Summary
	Trend   []library.MonthCount
}

// Dashboard loads borrow records and summarizes them with the configured
// policy.
func (m *LibraryManager) Dashboard(ctx context.Context) (*Dashboard, error) {
	records, scope, offline, err := m.Borrows(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	return &Dashboard{
		User:    m.CurrentUser(),
		Scope:   scope,
		Offline: offline,
		Summary: library.Summarize(records, now, m.policy, m.cfg.RecentLimit),
		Trend:   library.MonthlyTrend(records, now, 6),
	}, nil
}

// Outstanding returns the records with an unpaid fine.
func (m *LibraryManager) Outstanding(ctx context.Context) ([]library.BorrowRecord, error) {
	records, _, _, err := m.Borrows(ctx)
	if err != nil {
		return nil, err
	}
	return library.OutstandingRecords(records), nil
}

// Trend counts borrows per month over the last months months.
func (m *LibraryManager) Trend(ctx context.Context, months int) ([]library.MonthCount, error) {
	records, _, _, err := m.Borrows(ctx)
	if err != nil {
		return nil, err
	}
	return library.MonthlyTrend(records, m.now(), months), nil
}

// ---- catalog ----

// Books fetches the catalog, falling back to the cache when offline.
func (m *LibraryManager) Books(ctx context.Context) (books []library.Book, offline bool, err error) {
	if err := m.store.Books.Fetch(ctx); err != nil {
		var ne *api.NetworkError
		if !errors.As(err, &ne) {
			return nil, false, err
		}
		cached, cerr := m.db.GetAllBooks()
		if cerr != nil {
			return nil, false, errors.Join(err, cerr)
		}
		return cached, true, nil
	}
	return m.store.Books.State().Data, false, nil
}

// OfflineBooks returns the cached catalog without contacting the server.
func (m *LibraryManager) OfflineBooks() ([]library.Book, error) { return m.db.GetAllBooks() }

// SearchBooks runs a full-text search over the cached catalog.
func (m *LibraryManager) SearchBooks(q string) ([]library.Book, error) {
	return m.db.SearchBooks(q)
}

// Recommendations suggests up to n in-stock books in the genres the user
// borrows most.
func (m *LibraryManager) Recommendations(ctx context.Context, n int) ([]library.Book, error) {
	books, _, err := m.Books(ctx)
	if err != nil {
		return nil, err
	}
	history, _, _, err := m.Borrows(ctx)
	if err != nil {
		return nil, err
	}
	return library.Recommend(books, history, n), nil
}

// ImportBooksCSV creates one book per CSV row through the books slice, at
// most batch_limit requests in flight.
func (m *LibraryManager) ImportBooksCSV(ctx context.Context, r io.Reader) (library.ImportResult, error) {
	res, err := library.ImportBooks(ctx, r, m.cfg.BatchLimit, func(ctx context.Context, in library.BookInput) error {
		_, err := m.store.Books.Add(ctx, in)
		return err
	})
	if err != nil {
		return res, err
	}
	m.log.Info("manager: csv import finished", "success", res.Success, "failed", res.Failed)
	return res, nil
}

// ExportBooksCSV writes the catalog as CSV.
func (m *LibraryManager) ExportBooksCSV(ctx context.Context, w io.Writer) error {
	books, offline, err := m.Books(ctx)
	if err != nil {
		return err
	}
	if offline {
		m.log.Warn("manager: exporting cached catalog, server unreachable")
	}
	return library.ExportBooks(w, books)
}
