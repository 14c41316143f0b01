// Package guard decides whether a protected view may be shown for the
// current session.
package guard

import (
	"context"
	"log/slog"

	"github.com/burmeserecap/recap/internal/models"
	"github.com/burmeserecap/recap/internal/session"
)

// Locations the guard redirects to.
const (
	LoginLocation   = "/login"
	LandingLocation = "/dashboard"
)

// Outcome is the guard verdict.
type Outcome int

const (
	// Allow renders the protected content.
	Allow Outcome = iota
	// RedirectLogin sends the user to sign in.
	RedirectLogin
	// RedirectHome sends an authenticated user without the required role
	// to the landing page.
	RedirectHome
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	}
	return "unknown"
}

// Requirement describes what a view needs.
type Requirement struct {
	Admin bool
}

// Decision is the result of Check.
type Decision struct {
	Outcome  Outcome
	Location string
	User     *models.User
}

// Allowed reports whether the content may be rendered.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// Session is what the guard reads from the session service.
type Session interface {
	State() session.State
	HasCredentials(ctx context.Context) bool
	FetchUser(ctx context.Context) (models.User, error)
}

// Option configures a Guard.
type Option func(*Guard)

// WithLoadingHook is called with true before session restoration starts and
// with false once it has resolved.
func WithLoadingHook(fn func(loading bool)) Option {
	return func(g *Guard) {
		g.loading = fn
	}
}

// WithLogger overrides the guard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Guard gates protected views on the session.
type Guard struct {
	session Session
	loading func(bool)
	logger  *slog.Logger
}

// New constructs a Guard over the session.
func New(s Session, opts ...Option) *Guard {
	g := &Guard{session: s, logger: slog.Default(), loading: func(bool) {}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check resolves the session if needed and returns the verdict for req.
func (g *Guard) Check(ctx context.Context, req Requirement) Decision {
	if !g.session.HasCredentials(ctx) {
		return redirectLogin()
	}

	state := g.session.State()
	if state.User == nil {
		g.loading(true)
		user, err := g.session.FetchUser(ctx)
		g.loading(false)
		if err != nil {
			g.logger.Debug("session restore failed", "error", err)
			return redirectLogin()
		}
		state = session.State{User: &user, IsAuthenticated: true}
	}

	if req.Admin && !state.User.IsAdmin {
		return Decision{Outcome: RedirectHome, Location: LandingLocation, User: state.User}
	}
	return Decision{Outcome: Allow, User: state.User}
}

func redirectLogin() Decision {
	return Decision{Outcome: RedirectLogin, Location: LoginLocation}
}
