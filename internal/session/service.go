// Package session holds the authenticated user for the lifetime of the
// client and mediates every transition between signed-in and signed-out.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/burmeserecap/recap/internal/credentials"
	"github.com/burmeserecap/recap/internal/logging"
	"github.com/burmeserecap/recap/internal/models"
)

var (
	// ErrNotAuthenticated indicates an operation needs a signed-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoCredentials indicates no stored credential exists to restore from.
	ErrNoCredentials = errors.New("no stored credentials")
	// ErrMissingTokens indicates the backend accepted a login without returning tokens.
	ErrMissingTokens = errors.New("authentication response did not include tokens")
)

// API is the subset of the backend the session needs.
type API interface {
	Login(ctx context.Context, req models.LoginRequest) (models.AuthResponse, error)
	Signup(ctx context.Context, req models.SignupRequest) (models.AuthResponse, error)
	Me(ctx context.Context) (models.User, error)
	Logout(ctx context.Context) error
}

// State is an observable snapshot. IsAuthenticated is true exactly when User is set.
type State struct {
	User            *models.User
	IsAuthenticated bool
}

// LoginInput carries the credentials typed by the user.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

// SignupInput carries the registration form.
type SignupInput struct {
	Email        string
	Password     string
	Name         string
	ReferralCode string
}

// SignupResult reports what the backend did with a registration.
type SignupResult struct {
	Message             string       `json:"message,omitempty" yaml:"message,omitempty"`
	User                *models.User `json:"user,omitempty" yaml:"user,omitempty"`
	VerificationPending bool         `json:"verification_pending" yaml:"verification_pending"`
}

// Service is the single source of truth for the current user.
type Service struct {
	api      API
	store    credentials.Store
	deviceID string
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	user *models.User

	restore singleflight.Group
}

// NewService wires a session service. deviceID may be empty.
func NewService(api API, store credentials.Store, deviceID string, logger *slog.Logger) *Service {
	if api == nil || store == nil {
		panic("session: api and credential store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:      api,
		store:    store,
		deviceID: deviceID,
		logger:   logger,
		now:      time.Now,
	}
}

// State returns the current snapshot.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Service) stateLocked() State {
	if s.user == nil {
		return State{}
	}
	u := *s.user
	return State{User: &u, IsAuthenticated: true}
}

// DeviceID returns the identifier sent with authentication requests.
func (s *Service) DeviceID() string {
	return s.deviceID
}

// HasCredentials reports whether an access or refresh token is stored.
func (s *Service) HasCredentials(ctx context.Context) bool {
	record, err := credentials.LoadOrEmpty(ctx, s.store)
	if err != nil {
		s.log(ctx).Warn("load credentials", "error", err)
		return false
	}
	return !record.Tokens.Empty()
}

// Login authenticates with email and password. On failure neither the
// stored credentials nor the in-memory state change.
func (s *Service) Login(ctx context.Context, in LoginInput) (models.User, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return models.User{}, ErrEmailRequired
	}
	if in.Password == "" {
		return models.User{}, ErrPasswordRequired
	}

	ctx, span := logging.StartSpan(ctx, "session.login")
	defer span.End()

	resp, err := s.api.Login(ctx, models.LoginRequest{
		Email:      email,
		Password:   in.Password,
		DeviceID:   s.deviceID,
		RememberMe: in.RememberMe,
	})
	if err != nil {
		span.Fail(err)
		return models.User{}, err
	}
	if !resp.HasTokens() {
		return models.User{}, ErrMissingTokens
	}

	previous, err := s.snapshot(ctx)
	if err != nil {
		return models.User{}, err
	}
	user, err := s.resolveUser(ctx, resp, previous)
	if err != nil {
		return models.User{}, err
	}
	if err := s.persist(ctx, resp.Tokens(), user, previous); err != nil {
		return models.User{}, err
	}
	s.log(ctx).Info("logged in", "userId", user.ID)
	return user, nil
}

// Signup registers a new account. When the backend requires email
// verification no credentials are stored and VerificationPending is set.
func (s *Service) Signup(ctx context.Context, in SignupInput) (SignupResult, error) {
	email := NormalizeEmail(in.Email)
	if err := ValidateEmail(email); err != nil {
		return SignupResult{}, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return SignupResult{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return SignupResult{}, ErrNameRequired
	}

	resp, err := s.api.Signup(ctx, models.SignupRequest{
		Email:        email,
		Password:     in.Password,
		Name:         name,
		DeviceID:     s.deviceID,
		ReferralCode: strings.TrimSpace(in.ReferralCode),
	})
	if err != nil {
		return SignupResult{}, err
	}

	if !resp.HasTokens() {
		return SignupResult{Message: resp.Message, User: resp.User, VerificationPending: true}, nil
	}

	previous, err := s.snapshot(ctx)
	if err != nil {
		return SignupResult{}, err
	}
	user, err := s.resolveUser(ctx, resp, previous)
	if err != nil {
		return SignupResult{}, err
	}
	if err := s.persist(ctx, resp.Tokens(), user, previous); err != nil {
		return SignupResult{}, err
	}
	return SignupResult{Message: resp.Message, User: &user}, nil
}

// SetAuth overwrites the session with credentials obtained elsewhere,
// typically from the OAuth callback.
func (s *Service) SetAuth(ctx context.Context, accessToken, refreshToken string, user models.User) error {
	if accessToken == "" {
		return ErrMissingTokens
	}
	previous, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	return s.persist(ctx, models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, user, previous)
}

// LoadCached populates the state from the persisted snapshot without a
// network call. Callers should revalidate with FetchUser afterwards.
func (s *Service) LoadCached(ctx context.Context) State {
	record, err := credentials.LoadOrEmpty(ctx, s.store)
	if err != nil {
		s.log(ctx).Warn("load cached session", "error", err)
		return s.State()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if record.Tokens.Empty() || record.User == nil {
		return s.stateLocked()
	}
	u := *record.User
	s.user = &u
	return s.stateLocked()
}

// FetchUser restores the session from stored credentials. Without a
// credential it signs out locally and returns ErrNoCredentials without
// touching the network. Any backend failure clears credentials.
//
// Concurrent callers share one lookup, detached from their contexts. A
// caller that gives up gets ctx.Err() and the lookup finishes for the rest.
func (s *Service) FetchUser(ctx context.Context) (models.User, error) {
	ch := s.restore.DoChan("me", func() (any, error) {
		return s.fetchUser(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return models.User{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.User{}, res.Err
		}
		return res.Val.(models.User), nil
	}
}

// CheckAuth is FetchUser reduced to a yes or no.
func (s *Service) CheckAuth(ctx context.Context) bool {
	_, err := s.FetchUser(ctx)
	return err == nil
}

func (s *Service) fetchUser(ctx context.Context) (models.User, error) {
	if !s.HasCredentials(ctx) {
		s.setUser(nil)
		return models.User{}, ErrNoCredentials
	}

	ctx, span := logging.StartSpan(ctx, "session.restore")
	defer span.End()

	user, err := s.api.Me(ctx)
	if err != nil {
		span.Fail(err)
		s.log(ctx).Info("session restore failed", "error", err)
		if clearErr := s.store.Clear(ctx); clearErr != nil {
			s.log(ctx).Error("clear credentials", "error", clearErr)
		}
		s.setUser(nil)
		return models.User{}, err
	}

	s.setUser(&user)
	if err := s.saveSnapshot(ctx, &user); err != nil {
		s.log(ctx).Warn("persist user snapshot", "error", err)
	}
	return user, nil
}

// Logout invalidates the session server-side on a best-effort basis and
// always clears local credentials.
func (s *Service) Logout(ctx context.Context) error {
	if s.HasCredentials(ctx) {
		if err := s.api.Logout(ctx); err != nil {
			s.log(ctx).Warn("server logout failed", "error", err)
		}
	}

	s.setUser(nil)
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// UpdateUser merges patch into the held user without calling the backend.
func (s *Service) UpdateUser(ctx context.Context, patch models.UserPatch) (models.User, error) {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return models.User{}, ErrNotAuthenticated
	}
	updated := patch.Apply(*s.user)
	s.user = &updated
	s.mu.Unlock()

	if err := s.saveSnapshot(ctx, &updated); err != nil {
		s.log(ctx).Warn("persist user snapshot", "error", err)
	}
	return updated, nil
}

// HandleSessionExpired resets the user after the API client has given up
// on refreshing. Credentials are already gone by the time it runs.
func (s *Service) HandleSessionExpired(ctx context.Context) {
	s.setUser(nil)
	s.log(ctx).Info("session expired")
}

// snapshot returns the stored record so a failed sign-in can put it back.
func (s *Service) snapshot(ctx context.Context) (credentials.Record, error) {
	previous, err := credentials.LoadOrEmpty(ctx, s.store)
	if err != nil {
		return credentials.Record{}, fmt.Errorf("load credentials: %w", err)
	}
	return previous, nil
}

func (s *Service) resolveUser(ctx context.Context, resp models.AuthResponse, previous credentials.Record) (models.User, error) {
	if resp.User != nil {
		return *resp.User, nil
	}
	// Some endpoints return only tokens; look the user up with them and
	// put the previous record back if that fails.
	if err := s.store.Save(ctx, credentials.Normalize(credentials.Record{Tokens: resp.Tokens()}, s.now())); err != nil {
		s.restoreRecord(ctx, previous)
		return models.User{}, fmt.Errorf("store credentials: %w", err)
	}
	user, err := s.api.Me(ctx)
	if err != nil {
		s.restoreRecord(ctx, previous)
		return models.User{}, err
	}
	return user, nil
}

func (s *Service) restoreRecord(ctx context.Context, previous credentials.Record) {
	var err error
	if previous.Tokens.Empty() {
		err = s.store.Clear(ctx)
	} else {
		err = s.store.Save(ctx, previous)
	}
	if err != nil {
		s.log(ctx).Error("restore previous credentials", "error", err)
	}
}

// persist stores the new session. A failed save can leave part of a
// mirrored store written, so the previous record is put back.
func (s *Service) persist(ctx context.Context, tokens models.TokenPair, user models.User, previous credentials.Record) error {
	record := credentials.Normalize(credentials.Record{Tokens: tokens, User: &user}, s.now())
	if err := s.store.Save(ctx, record); err != nil {
		s.restoreRecord(ctx, previous)
		return fmt.Errorf("store credentials: %w", err)
	}
	s.setUser(&user)
	return nil
}

func (s *Service) saveSnapshot(ctx context.Context, user *models.User) error {
	record, err := credentials.LoadOrEmpty(ctx, s.store)
	if err != nil {
		return err
	}
	if record.Tokens.Empty() {
		return nil
	}
	record.User = user
	record.SavedAt = time.Time{}
	return s.store.Save(ctx, credentials.Normalize(record, s.now()))
}

func (s *Service) setUser(user *models.User) {
	s.mu.Lock()
	if user == nil {
		s.user = nil
	} else {
		u := *user
		s.user = &u
	}
	s.mu.Unlock()
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != slog.Default() {
		return logger
	}
	return s.logger
}
