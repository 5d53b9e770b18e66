package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"library-client/library"
)

// Session is the result of a call that logs the user in.
type Session struct {
	User    *library.User
	Token   string
	Message string
}

type sessionResponse struct {
	Message string        `json:"message"`
	User    *library.User `json:"user"`
	Token   string        `json:"token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (c *Client) startSession(r sessionResponse) (*Session, error) {
	if r.Token != "" {
		if err := c.tokens.SetToken(r.Token); err != nil {
			return nil, fmt.Errorf("store token: %w", err)
		}
	}
	return &Session{User: r.User, Token: r.Token, Message: r.Message}, nil
}

// Register creates an account; the server then emails an OTP.
func (c *Client) Register(ctx context.Context, in library.Registration) (string, error) {
	in.Email = normalizeEmail(in.Email)
	if err := library.Validate(in); err != nil {
		return "", err
	}
	var out messageResponse
	if err := c.call(ctx, http.MethodPost, "/auth/register", nil, in, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// VerifyOTP confirms the account and starts a session.
func (c *Client) VerifyOTP(ctx context.Context, in library.OTPVerification) (*Session, error) {
	in.Email = normalizeEmail(in.Email)
	in.OTP = strings.TrimSpace(in.OTP)
	if err := library.Validate(in); err != nil {
		return nil, err
	}
	var out sessionResponse
	if err := c.call(ctx, http.MethodPost, "/auth/verify-otp", nil, in, &out); err != nil {
		return nil, err
	}
	return c.startSession(out)
}

func (c *Client) Login(ctx context.Context, in library.Credentials) (*Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := library.Validate(in); err != nil {
		return nil, err
	}
	var out sessionResponse
	if err := c.call(ctx, http.MethodPost, "/auth/login", nil, in, &out); err != nil {
		return nil, err
	}
	return c.startSession(out)
}

// Logout ends the server session. The local token is cleared even when the
// server call fails.
func (c *Client) Logout(ctx context.Context) (string, error) {
	var out messageResponse
	err := c.call(ctx, http.MethodGet, "/auth/logout", nil, nil, &out)
	if cerr := c.tokens.ClearToken(); cerr != nil && err == nil {
		err = cerr
	}
	return out.Message, err
}

func (c *Client) Me(ctx context.Context) (*library.User, error) {
	var out struct {
		User *library.User `json:"user"`
	}
	if err := c.call(ctx, http.MethodGet, "/auth/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Refresh asks the server for a fresh token and stores it.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refreshToken(ctx)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	in := struct {
		Email string `json:"email" validate:"required,email"`
	}{Email: normalizeEmail(email)}
	if err := library.Validate(in); err != nil {
		return "", err
	}
	var out messageResponse
	if err := c.call(ctx, http.MethodPost, "/auth/password/forgot", nil, in, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ResetPassword completes the emailed reset link identified by resetToken.
func (c *Client) ResetPassword(ctx context.Context, resetToken string, in library.PasswordReset) (*Session, error) {
	resetToken = strings.TrimSpace(resetToken)
	if resetToken == "" {
		return nil, &ValidationError{Fields: map[string]string{"token": "is required"}}
	}
	if err := library.Validate(in); err != nil {
		return nil, err
	}
	var out sessionResponse
	if err := c.call(ctx, http.MethodPut, "/auth/password/reset/"+url.PathEscape(resetToken), nil, in, &out); err != nil {
		return nil, err
	}
	return c.startSession(out)
}

func (c *Client) UpdatePassword(ctx context.Context, in library.PasswordUpdate) (string, error) {
	if err := library.Validate(in); err != nil {
		return "", err
	}
	var out messageResponse
	if err := c.call(ctx, http.MethodPut, "/auth/password/update", nil, in, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
