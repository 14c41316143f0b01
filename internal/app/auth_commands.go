package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/burmeserecap/recap/internal/apiclient"
	"github.com/burmeserecap/recap/internal/handlers"
	"github.com/burmeserecap/recap/internal/httpserver"
	"github.com/burmeserecap/recap/internal/middleware"
	"github.com/burmeserecap/recap/internal/models"
	"github.com/burmeserecap/recap/internal/oauth"
	"github.com/burmeserecap/recap/internal/session"
)

func (c *cli) loginCommand() *cobra.Command {
	var (
		email    string
		password string
		remember bool
		google   bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password or with Google",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var (
				user models.User
				err  error
			)
			if google {
				user, err = c.googleLogin(ctx, timeout)
			} else {
				if email == "" {
					if email, err = c.prompt("Email: "); err != nil {
						return err
					}
				}
				if password == "" {
					if password, err = c.prompt("Password: "); err != nil {
						return err
					}
				}
				user, err = c.deps.Session.Login(ctx, session.LoginInput{
					Email:      email,
					Password:   password,
					RememberMe: remember,
				})
			}
			if err != nil {
				return describeAuthError(err)
			}

			return c.out.print(user, func(w io.Writer) {
				fmt.Fprintf(w, "Signed in as %s (%d credits)\n", user.Email, user.Credits)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password; prompted when omitted")
	cmd.Flags().BoolVar(&remember, "remember", true, "ask the backend for a long-lived session")
	cmd.Flags().BoolVar(&google, "google", false, "sign in with Google in the browser")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the Google callback")
	return cmd
}

// googleLogin serves the OAuth callback on loopback until the browser
// returns or timeout passes.
func (c *cli) googleLogin(ctx context.Context, timeout time.Duration) (models.User, error) {
	flow, err := oauth.NewFlow(c.deps.Config.GoogleClientID, c.deps.Client, c.deps.Session, c.deps.Session.DeviceID())
	if err != nil {
		return models.User{}, err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, handlers.Dependencies{
		OAuth:   flow,
		Limiter: middleware.NewKeyedLimiter(5, time.Minute, 5, 10*time.Minute),
	})

	srv, err := httpserver.New("", mux)
	if err != nil {
		return models.User{}, err
	}
	go func() {
		if err := srv.Start(); err != nil {
			c.deps.Logger.Error("oauth callback server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.deps.Logger.Warn("shutdown oauth callback server", "error", err)
		}
	}()

	consentURL, err := flow.Begin(srv.URL("/oauth/callback"))
	if err != nil {
		return models.User{}, err
	}
	fmt.Fprintf(c.env.Stderr, "Open this link to continue with Google:\n\n  %s\n\n", consentURL)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return flow.Wait(ctx)
}

func (c *cli) signupCommand() *cobra.Command {
	var in session.SignupInput

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a recap account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if in.Email == "" {
				if in.Email, err = c.prompt("Email: "); err != nil {
					return err
				}
			}
			if in.Name == "" {
				if in.Name, err = c.prompt("Name: "); err != nil {
					return err
				}
			}
			if in.Password == "" {
				if in.Password, err = c.prompt("Password: "); err != nil {
					return err
				}
			}

			result, err := c.deps.Session.Signup(cmd.Context(), in)
			if err != nil {
				return describeAuthError(err)
			}

			return c.out.print(result, func(w io.Writer) {
				switch {
				case result.VerificationPending:
					fmt.Fprintf(w, "Check %s for a verification link, then run `recap login`.\n", session.NormalizeEmail(in.Email))
				case result.User != nil:
					fmt.Fprintf(w, "Welcome, %s. You are signed in.\n", result.User.Name)
				}
				if result.Message != "" {
					fmt.Fprintln(w, result.Message)
				}
			})
		},
	}

	cmd.Flags().StringVar(&in.Email, "email", "", "account email")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Password, "password", "", "account password; prompted when omitted")
	cmd.Flags().StringVar(&in.ReferralCode, "referral", "", "referral code")
	return cmd
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.deps.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			return c.out.message("signed_out", "Signed out.")
		},
	}
}

func (c *cli) whoamiCommand() *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			state := c.deps.Session.LoadCached(ctx)
			if !cached || !state.IsAuthenticated {
				if err := c.check(ctx, requireUser); err != nil {
					return err
				}
				state = c.deps.Session.State()
			}
			if state.User == nil {
				return ErrSignInRequired
			}
			user := *state.User
			return c.out.print(user, func(w io.Writer) {
				fmt.Fprintf(w, "ID\t%s\n", user.ID)
				fmt.Fprintf(w, "Email\t%s\n", user.Email)
				fmt.Fprintf(w, "Name\t%s\n", user.Name)
				fmt.Fprintf(w, "Credits\t%d\n", user.Credits)
				fmt.Fprintf(w, "Provider\t%s\n", orDash(string(user.AuthProvider)))
				fmt.Fprintf(w, "Verified\t%t\n", user.IsVerified)
				if user.IsAdmin {
					fmt.Fprintln(w, "Role\tadmin")
				}
			})
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "show the stored account without asking the server")
	return cmd
}

func describeAuthError(err error) error {
	switch {
	case apiclient.IsEmailNotVerified(err):
		return fmt.Errorf("verify your email address before signing in: %w", err)
	case apiclient.IsVPNDetected(err):
		return fmt.Errorf("sign-ups and sign-ins are blocked while a VPN is active: %w", err)
	}
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
