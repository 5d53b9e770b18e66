package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// TokenStore keeps the bearer token between runs.
type TokenStore interface {
	Token() (string, error)
	SetToken(token string) error
	ClearToken() error
}

// Client talks JSON to the library REST API. It attaches the stored bearer
// token, and on a 401 refreshes the token once and retries the call once.
type Client struct {
	base      string
	http      *http.Client
	tokens    TokenStore
	log       *slog.Logger
	timeout   time.Duration
	refresh   singleflight.Group
	onExpired func()
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithLogger(l *slog.Logger) Option      { return func(c *Client) { c.log = l } }

// WithTimeout bounds every request. Zero disables the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// OnSessionExpired registers fn to run after the token has been cleared
// because the session could not be refreshed.
func OnSessionExpired(fn func()) Option { return func(c *Client) { c.onExpired = fn } }

const DefaultTimeout = 30 * time.Second

// New builds a client for baseURL (for example http://localhost:4000/api/v1).
func New(baseURL string, tokens TokenStore, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}
	if tokens == nil {
		tokens = NewMemoryTokens()
	}
	c := &Client{
		base:    strings.TrimRight(u.String(), "/"),
		tokens:  tokens,
		log:     slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		jar, _ := cookiejar.New(nil)
		c.http = &http.Client{
			Jar: jar,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return c, nil
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string { return c.base }

// Tokens exposes the token store.
func (c *Client) Tokens() TokenStore { return c.tokens }

// public paths never trigger a refresh: a 401 there is a real answer.
var publicPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
	"/auth/verify-otp",
	"/auth/password/forgot",
	"/auth/password/reset/",
}

func refreshable(path string) bool {
	for _, p := range publicPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return false
		}
	}
	return true
}

// call performs one API call with the refresh-once policy.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	err := c.send(ctx, method, path, query, in, out)
	if !unauthorized(err) || !refreshable(path) {
		return err
	}

	c.log.Debug("api: unauthorized, refreshing token", "method", method, "path", path)
	if rerr := c.refreshToken(ctx); rerr != nil {
		c.log.Warn("api: token refresh failed", "err", rerr)
		// only a rejected refresh ends the session; a network failure or a
		// cancelled caller leaves the stored token alone
		if unauthorized(rerr) {
			c.expire()
			return ErrSessionExpired
		}
		return rerr
	}

	err = c.send(ctx, method, path, query, in, out)
	if unauthorized(err) {
		c.expire()
		return ErrSessionExpired
	}
	return err
}

type tokenResponse struct {
	Token string `json:"token"`
}

// refreshToken runs one shared refresh for all concurrent callers. The
// refresh is detached from the caller that started it, so cancelling one
// caller neither aborts the refresh nor fails the others; each caller still
// stops waiting when its own ctx is done.
func (c *Client) refreshToken(ctx context.Context) error {
	ch := c.refresh.DoChan("refresh", func() (any, error) {
		timeout := c.timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		var out tokenResponse
		if err := c.send(rctx, http.MethodGet, "/auth/refresh", nil, nil, &out); err != nil {
			return nil, err
		}
		if out.Token != "" {
			if err := c.tokens.SetToken(out.Token); err != nil {
				return nil, fmt.Errorf("store refreshed token: %w", err)
			}
		}
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *Client) expire() {
	if err := c.tokens.ClearToken(); err != nil {
		c.log.Error("api: clear token failed", "err", err)
	}
	if c.onExpired != nil {
		c.onExpired()
	}
}

func unauthorized(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Status == http.StatusUnauthorized
}

const maxErrorBody = 64 << 10

func (c *Client) send(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rid := uuid.NewString()
	req.Header.Set("X-Request-ID", rid)

	token, err := c.tokens.Token()
	if err != nil {
		c.log.Warn("api: read stored token", "err", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("api",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
		"req_id", rid,
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeServerError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeServerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(raw, &body) == nil {
		msg = body.Message
		if msg == "" {
			msg = body.Error
		}
	}
	return &ServerError{Status: resp.StatusCode, Message: msg}
}

// MemoryTokens is an in-process TokenStore.
type MemoryTokens struct {
	mu    sync.Mutex
	token string
}

func NewMemoryTokens() *MemoryTokens { return &MemoryTokens{} }

func (m *MemoryTokens) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokens) SetToken(token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokens) ClearToken() error { return m.SetToken("") }
