package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"library-client/api"
	"library-client/library"
)

func registerCmd(a *app) *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account; a verification code is emailed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if name, err = a.valueOrPrompt(name, "Name: "); err != nil {
				return err
			}
			if email, err = a.valueOrPrompt(email, "Email: "); err != nil {
				return err
			}
			pw, err := a.readPassword("Password (8-16 characters): ")
			if err != nil {
				return err
			}
			_, err = a.mgr.Store().Auth.Register(cmd.Context(), library.Registration{Name: name, Email: email, Password: pw})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Next: library verify-otp --email", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	return cmd
}

func verifyOTPCmd(a *app) *cobra.Command {
	var email, otp string
	cmd := &cobra.Command{
		Use:   "verify-otp",
		Short: "Confirm a new account with the emailed code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if email, err = a.valueOrPrompt(email, "Email: "); err != nil {
				return err
			}
			if otp, err = a.valueOrPrompt(otp, "Code: "); err != nil {
				return err
			}
			sess, err := a.mgr.Store().Auth.VerifyOTP(cmd.Context(), library.OTPVerification{Email: email, OTP: otp})
			if err != nil {
				return err
			}
			printSignedIn(a, sess.User)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&otp, "otp", "", "5-digit verification code")
	return cmd
}

func loginCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if email, err = a.valueOrPrompt(email, "Email: "); err != nil {
				return err
			}
			pw, err := a.readPassword("Password: ")
			if err != nil {
				return err
			}
			u, err := a.mgr.Login(cmd.Context(), library.Credentials{Email: email, Password: pw})
			if err != nil {
				return err
			}
			printSignedIn(a, u)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	return cmd
}

func printSignedIn(a *app, u *library.User) {
	if u == nil {
		return
	}
	fmt.Fprintf(a.out, "Signed in as %s <%s> (%s)\n", u.Name, u.Email, u.Role)
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := a.mgr.Logout(cmd.Context())
			return err
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			auth := a.mgr.Store().Auth
			if refresh || auth.User() == nil {
				tok, err := a.mgr.DB().Token()
				if err != nil {
					return err
				}
				if tok == "" {
					fmt.Fprintln(a.out, "Not signed in.")
					return nil
				}
				if err := auth.FetchMe(cmd.Context()); err != nil {
					return err
				}
			}
			u := auth.User()
			if u == nil {
				fmt.Fprintln(a.out, "Not signed in.")
				return nil
			}
			printSignedIn(a, u)
			if tok, err := a.mgr.DB().Token(); err == nil && tok != "" {
				if c, err := api.ParseClaims(tok); err == nil && !c.ExpiresAt.IsZero() {
					fmt.Fprintf(a.out, "Token expires %s\n", c.ExpiresAt.Local().Format(time.RFC1123))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ask the server instead of using the saved session")
	return cmd
}

func passwordCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Forgot, reset or change a password",
	}

	var forgotEmail string
	forgot := &cobra.Command{
		Use:   "forgot",
		Short: "Email a password reset link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, err := a.valueOrPrompt(forgotEmail, "Email: ")
			if err != nil {
				return err
			}
			_, err = a.mgr.Store().Auth.ForgotPassword(cmd.Context(), email)
			return err
		},
	}
	forgot.Flags().StringVar(&forgotEmail, "email", "", "account email")

	var token string
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password with the token from the reset link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := a.valueOrPrompt(token, "Reset token: ")
			if err != nil {
				return err
			}
			pw, err := a.readPassword("New password: ")
			if err != nil {
				return err
			}
			confirm, err := a.readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			sess, err := a.mgr.Store().Auth.ResetPassword(cmd.Context(), tok, library.PasswordReset{Password: pw, ConfirmPassword: confirm})
			if err != nil {
				return err
			}
			printSignedIn(a, sess.User)
			return nil
		},
	}
	reset.Flags().StringVar(&token, "token", "", "reset token")

	update := &cobra.Command{
		Use:   "update",
		Short: "Change the password of the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cur, err := a.readPassword("Current password: ")
			if err != nil {
				return err
			}
			next, err := a.readPassword("New password: ")
			if err != nil {
				return err
			}
			confirm, err := a.readPassword("Confirm new password: ")
			if err != nil {
				return err
			}
			_, err = a.mgr.Store().Auth.UpdatePassword(cmd.Context(), library.PasswordUpdate{
				CurrentPassword:    cur,
				NewPassword:        next,
				ConfirmNewPassword: confirm,
			})
			return err
		},
	}

	cmd.AddCommand(forgot, reset, update)
	return cmd
}
