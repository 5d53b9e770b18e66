package store

import (
	"context"

	"library-client/api"
	"library-client/library"
)

// AuthInfo is the signed-in user, if any.
type AuthInfo struct {
	User          *library.User
	Authenticated bool
	// Expired is set when the session was dropped after a failed refresh.
	Expired bool
}

type AuthSlice struct {
	*Slice[AuthInfo]
}

func signedIn(_ AuthInfo, sess *api.Session) AuthInfo {
	return AuthInfo{User: sess.User, Authenticated: true}
}

func sessionCall(fn func(context.Context) (*api.Session, error)) func(context.Context) (*api.Session, string, error) {
	return func(ctx context.Context) (*api.Session, string, error) {
		sess, err := fn(ctx)
		if err != nil {
			return nil, "", err
		}
		return sess, sess.Message, nil
	}
}

func messageCall(fn func(context.Context) (string, error)) func(context.Context) (string, string, error) {
	return func(ctx context.Context) (string, string, error) {
		msg, err := fn(ctx)
		return msg, msg, err
	}
}

// Register creates the account. The user is not signed in until VerifyOTP.
func (a *AuthSlice) Register(ctx context.Context, in library.Registration) (string, error) {
	return Mutate(ctx, a.Slice, messageCall(func(ctx context.Context) (string, error) {
		return a.env.client.Register(ctx, in)
	}), nil)
}

func (a *AuthSlice) VerifyOTP(ctx context.Context, in library.OTPVerification) (*api.Session, error) {
	return Mutate(ctx, a.Slice, sessionCall(func(ctx context.Context) (*api.Session, error) {
		return a.env.client.VerifyOTP(ctx, in)
	}), signedIn)
}

func (a *AuthSlice) Login(ctx context.Context, in library.Credentials) (*api.Session, error) {
	return Mutate(ctx, a.Slice, sessionCall(func(ctx context.Context) (*api.Session, error) {
		return a.env.client.Login(ctx, in)
	}), signedIn)
}

// Logout signs out locally even when the server call fails.
func (a *AuthSlice) Logout(ctx context.Context) (string, error) {
	msg, err := a.env.client.Logout(ctx)
	a.Reset(AuthInfo{})
	if err != nil {
		a.fail(err)
		return "", err
	}
	a.succeed(msg)
	return msg, nil
}

// FetchMe loads the current user from the session token.
func (a *AuthSlice) FetchMe(ctx context.Context) error {
	return a.Load(ctx, func(ctx context.Context) (AuthInfo, error) {
		u, err := a.env.client.Me(ctx)
		if err != nil {
			return AuthInfo{}, err
		}
		return AuthInfo{User: u, Authenticated: u != nil}, nil
	})
}

func (a *AuthSlice) ForgotPassword(ctx context.Context, email string) (string, error) {
	return Mutate(ctx, a.Slice, messageCall(func(ctx context.Context) (string, error) {
		return a.env.client.ForgotPassword(ctx, email)
	}), nil)
}

// ResetPassword completes a reset link and signs the user in.
func (a *AuthSlice) ResetPassword(ctx context.Context, resetToken string, in library.PasswordReset) (*api.Session, error) {
	return Mutate(ctx, a.Slice, sessionCall(func(ctx context.Context) (*api.Session, error) {
		return a.env.client.ResetPassword(ctx, resetToken, in)
	}), signedIn)
}

func (a *AuthSlice) UpdatePassword(ctx context.Context, in library.PasswordUpdate) (string, error) {
	return Mutate(ctx, a.Slice, messageCall(func(ctx context.Context) (string, error) {
		return a.env.client.UpdatePassword(ctx, in)
	}), nil)
}

// User returns the signed-in user or nil.
func (a *AuthSlice) User() *library.User {
	st := a.State()
	if !st.Data.Authenticated {
		return nil
	}
	return st.Data.User
}

// Restore marks u as signed in without a request, for a session loaded
// from the local cache.
func (a *AuthSlice) Restore(u *library.User) {
	a.Dispatch(func(st State[AuthInfo]) State[AuthInfo] {
		return Applied(st, func(AuthInfo) AuthInfo {
			return AuthInfo{User: u, Authenticated: u != nil}
		}, "")
	})
}

func (a *AuthSlice) expire() {
	a.Reset(AuthInfo{Expired: true})
}
