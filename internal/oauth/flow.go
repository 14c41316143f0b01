// Package oauth runs the Google sign-in loopback flow: the user consents in
// a browser, Google redirects to a local callback and the backend exchanges
// the code for a recap session.
package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/burmeserecap/recap/internal/models"
)

// GoogleAuthURL is Google's OAuth 2.0 consent endpoint.
const GoogleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

var (
	// ErrNoClientID indicates RECAP_GOOGLE_CLIENT_ID is not configured.
	ErrNoClientID = errors.New("google client id is not configured")
	// ErrNotStarted indicates a callback arrived before Begin.
	ErrNotStarted = errors.New("oauth flow has not been started")
	// ErrStateMismatch indicates the callback state does not match.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrMissingCode indicates the callback carried no authorization code.
	ErrMissingCode = errors.New("oauth callback is missing the authorization code")
	// ErrConsentDenied indicates the user declined on the consent screen.
	ErrConsentDenied = errors.New("google sign-in was cancelled")
	// ErrAlreadyCompleted indicates the flow has already produced a result.
	ErrAlreadyCompleted = errors.New("oauth flow already completed")
)

// Exchanger trades an authorization code for a backend session.
type Exchanger interface {
	GoogleExchange(ctx context.Context, req models.GoogleExchangeRequest) (models.AuthResponse, error)
}

// SessionSetter receives the credentials of a completed flow.
type SessionSetter interface {
	SetAuth(ctx context.Context, accessToken, refreshToken string, user models.User) error
}

type result struct {
	user models.User
	err  error
}

// Flow is one sign-in attempt.
type Flow struct {
	clientID string
	authURL  string
	api      Exchanger
	session  SessionSetter
	deviceID string

	mu          sync.Mutex
	state       string
	redirectURI string
	finished    bool
	done        chan result
}

// NewFlow validates the client id and returns an unstarted flow.
func NewFlow(clientID string, api Exchanger, session SessionSetter, deviceID string) (*Flow, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, ErrNoClientID
	}
	return &Flow{
		clientID: clientID,
		authURL:  GoogleAuthURL,
		api:      api,
		session:  session,
		deviceID: deviceID,
		done:     make(chan result, 1),
	}, nil
}

// Begin generates the state and returns the consent URL to open.
func (f *Flow) Begin(redirectURI string) (string, error) {
	if _, err := url.ParseRequestURI(redirectURI); err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = uuid.NewString()
	f.redirectURI = redirectURI

	q := url.Values{}
	q.Set("client_id", f.clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", f.state)
	q.Set("access_type", "offline")
	q.Set("prompt", "select_account")
	return f.authURL + "?" + q.Encode(), nil
}

// Complete handles the callback parameters. The first callback with a valid
// state settles the flow; Wait returns its outcome.
func (f *Flow) Complete(ctx context.Context, state, code, callbackErr string) (models.User, error) {
	f.mu.Lock()
	if f.finished {
		f.mu.Unlock()
		return models.User{}, ErrAlreadyCompleted
	}
	if f.state == "" {
		f.mu.Unlock()
		return models.User{}, ErrNotStarted
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(f.state)) != 1 {
		f.mu.Unlock()
		return models.User{}, ErrStateMismatch
	}
	f.finished = true
	redirectURI := f.redirectURI
	f.mu.Unlock()

	user, err := f.exchange(ctx, code, callbackErr, redirectURI)
	f.done <- result{user: user, err: err}
	return user, err
}

func (f *Flow) exchange(ctx context.Context, code, callbackErr, redirectURI string) (models.User, error) {
	if callbackErr != "" {
		if callbackErr == "access_denied" {
			return models.User{}, ErrConsentDenied
		}
		return models.User{}, fmt.Errorf("google sign-in failed: %s", callbackErr)
	}
	if code == "" {
		return models.User{}, ErrMissingCode
	}

	resp, err := f.api.GoogleExchange(ctx, models.GoogleExchangeRequest{
		Code:        code,
		RedirectURI: redirectURI,
		DeviceID:    f.deviceID,
	})
	if err != nil {
		return models.User{}, err
	}
	if resp.AccessToken == "" || resp.User == nil {
		return models.User{}, errors.New("google exchange returned no session")
	}
	if err := f.session.SetAuth(ctx, resp.AccessToken, resp.RefreshToken, *resp.User); err != nil {
		return models.User{}, err
	}
	return *resp.User, nil
}

// Wait blocks until a callback settles the flow or ctx ends.
func (f *Flow) Wait(ctx context.Context) (models.User, error) {
	select {
	case <-ctx.Done():
		return models.User{}, ctx.Err()
	case r := <-f.done:
		return r.user, r.err
	}
}
