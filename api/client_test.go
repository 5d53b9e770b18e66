package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"library-client/api"
	"library-client/internal/apitest"
	"library-client/library"
)

const refreshPath = "/api/v1/auth/refresh"

func loggedIn(t *testing.T, srv *apitest.Server, role library.Role, opts ...api.Option) (*api.Client, *api.MemoryTokens) {
	t.Helper()
	srv.AddUser("Ada", "ada@example.com", "password123", role)
	tokens := api.NewMemoryTokens()
	c, err := api.New(srv.BaseURL(), tokens, opts...)
	require.NoError(t, err)
	sess, err := c.Login(context.Background(), library.Credentials{Email: " ADA@example.com ", Password: "password123"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	require.Equal(t, "ada@example.com", sess.User.Email)
	return c, tokens
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := api.New("ftp://example.com", nil)
	require.Error(t, err)
	_, err = api.New("://nope", nil)
	require.Error(t, err)
}

func TestLoginStoresTokenAndSendsBearer(t *testing.T) {
	srv := apitest.New(t)
	c, tokens := loggedIn(t, srv, library.RoleUser)

	tok, _ := tokens.Token()
	require.NotEmpty(t, tok)

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Ada", me.Name)

	claims, err := api.ParseClaims(tok)
	require.NoError(t, err)
	require.Equal(t, me.ID, claims.Subject)
	require.Equal(t, "User", claims.Role)
	require.False(t, claims.Expired(time.Now()))
}

func TestUnauthorizedRefreshesOnceAndRetries(t *testing.T) {
	srv := apitest.New(t)
	c, tokens := loggedIn(t, srv, library.RoleUser)
	before, _ := tokens.Token()

	srv.RevokeTokens()
	books, err := c.Books(context.Background())
	require.NoError(t, err)
	require.Empty(t, books)
	require.Equal(t, 1, srv.Hits(http.MethodGet, refreshPath))
	require.Equal(t, 2, srv.Hits(http.MethodGet, "/api/v1/book/all"))

	after, _ := tokens.Token()
	require.NotEqual(t, before, after)
}

func TestFailedRefreshExpiresSession(t *testing.T) {
	srv := apitest.New(t)
	var expired atomic.Int32
	c, tokens := loggedIn(t, srv, library.RoleUser, api.OnSessionExpired(func() { expired.Add(1) }))

	srv.RevokeTokens()
	srv.SetRefreshFails(true)
	_, err := c.Books(context.Background())
	require.ErrorIs(t, err, api.ErrSessionExpired)
	require.Equal(t, 1, srv.Hits(http.MethodGet, refreshPath))
	require.EqualValues(t, 1, expired.Load())

	tok, _ := tokens.Token()
	require.Empty(t, tok)
	require.Equal(t, http.StatusUnauthorized, api.StatusCode(err))
}

func TestSecondUnauthorizedDoesNotLoop(t *testing.T) {
	srv := apitest.New(t)
	c, tokens := loggedIn(t, srv, library.RoleUser)

	srv.SetRejectAll(true)
	_, err := c.Me(context.Background())
	require.ErrorIs(t, err, api.ErrSessionExpired)
	require.Equal(t, 1, srv.Hits(http.MethodGet, refreshPath))
	require.Equal(t, 2, srv.Hits(http.MethodGet, "/api/v1/auth/me"))

	tok, _ := tokens.Token()
	require.Empty(t, tok)
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	var refreshes atomic.Int32
	var mu sync.Mutex
	valid := "old"
	release := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/refresh":
			refreshes.Add(1)
			<-release
			mu.Lock()
			valid = "new"
			mu.Unlock()
			_, _ = w.Write([]byte(`{"token":"new"}`))
		default:
			mu.Lock()
			cur := valid
			mu.Unlock()
			if cur == "old" || r.Header.Get("Authorization") != "Bearer "+cur {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"message":"expired"}`))
				return
			}
			_, _ = w.Write([]byte(`{"books":[]}`))
		}
	}))
	defer ts.Close()

	tokens := api.NewMemoryTokens()
	require.NoError(t, tokens.SetToken("old"))
	c, err := api.New(ts.URL, tokens)
	require.NoError(t, err)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Books(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return refreshes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, refreshes.Load())
}

func TestServerMessageSurfaced(t *testing.T) {
	srv := apitest.New(t)
	c, err := api.New(srv.BaseURL(), nil)
	require.NoError(t, err)

	_, err = c.Login(context.Background(), library.Credentials{Email: "nobody@example.com", Password: "whatever1"})
	var se *api.ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.Status)
	require.Equal(t, "Invalid email or password.", api.Message(err))
	// login is public: no refresh attempt
	require.Zero(t, srv.Hits(http.MethodGet, refreshPath))
}

func TestValidationErrorSendsNothing(t *testing.T) {
	srv := apitest.New(t)
	c, err := api.New(srv.BaseURL(), nil)
	require.NoError(t, err)

	_, err = c.Register(context.Background(), library.Registration{Name: "A", Email: "not-an-email", Password: "short"})
	var ve *api.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Fields, "email")
	require.Contains(t, ve.Fields, "password")
	require.Zero(t, srv.Hits(http.MethodPost, "/api/v1/auth/register"))
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := api.New(url, nil, api.WithTimeout(time.Second))
	require.NoError(t, err)
	_, err = c.Books(context.Background())
	var ne *api.NetworkError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, "Network error: could not reach the library server.", api.Message(err))
}

func TestTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	c, err := api.New(ts.URL, nil, api.WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = c.Books(context.Background())
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Equal(t, "Request timed out. Please try again.", api.Message(err))
}

func TestGenericMessageForEmptyBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, err := api.New(ts.URL, nil)
	require.NoError(t, err)
	_, err = c.Books(context.Background())
	require.Equal(t, http.StatusInternalServerError, api.StatusCode(err))
	require.Equal(t, "Internal Server Error", api.Message(err))
}

func TestCancelledCallerKeepsSession(t *testing.T) {
	var refreshes, rejected atomic.Int32
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/auth/refresh" {
			refreshes.Add(1)
			<-release
			_, _ = w.Write([]byte(`{"token":"new"}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer new" {
			rejected.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"books":[]}`))
	}))
	defer ts.Close()

	var expired atomic.Int32
	tokens := api.NewMemoryTokens()
	require.NoError(t, tokens.SetToken("old"))
	c, err := api.New(ts.URL, tokens, api.OnSessionExpired(func() { expired.Add(1) }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Books(ctx)
		first <- err
	}()
	require.Eventually(t, func() bool { return refreshes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := c.Books(context.Background())
		second <- err
	}()
	require.Eventually(t, func() bool { return rejected.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		require.ErrorIs(t, err, context.Canceled)
		require.NotErrorIs(t, err, api.ErrSessionExpired)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting for the refresh")
	}
	tok, _ := tokens.Token()
	require.Equal(t, "old", tok)

	close(release)
	require.NoError(t, <-second)
	tok, _ = tokens.Token()
	require.Equal(t, "new", tok)
	require.EqualValues(t, 1, refreshes.Load())
	require.Zero(t, expired.Load())
}

func TestUnreachableRefreshKeepsSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	var expired atomic.Int32
	tokens := api.NewMemoryTokens()
	require.NoError(t, tokens.SetToken("old"))
	c, err := api.New(ts.URL, tokens, api.OnSessionExpired(func() { expired.Add(1) }))
	require.NoError(t, err)

	_, err = c.Books(context.Background())
	var ne *api.NetworkError
	require.ErrorAs(t, err, &ne)
	require.NotErrorIs(t, err, api.ErrSessionExpired)
	require.Equal(t, "Network error: could not reach the library server.", api.Message(err))

	tok, _ := tokens.Token()
	require.Equal(t, "old", tok)
	require.Zero(t, expired.Load())
}

func TestRefreshServerErrorKeepsSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	tokens := api.NewMemoryTokens()
	require.NoError(t, tokens.SetToken("old"))
	c, err := api.New(ts.URL, tokens)
	require.NoError(t, err)

	_, err = c.Books(context.Background())
	require.Equal(t, http.StatusServiceUnavailable, api.StatusCode(err))
	tok, _ := tokens.Token()
	require.Equal(t, "old", tok)
}
