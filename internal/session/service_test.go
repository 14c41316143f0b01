package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/burmeserecap/recap/internal/credentials"
	"github.com/burmeserecap/recap/internal/logging"
	"github.com/burmeserecap/recap/internal/models"
)

var testNow = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

type stubAPI struct {
	mu sync.Mutex

	loginResp  models.AuthResponse
	loginErr   error
	signupResp models.AuthResponse
	signupErr  error
	meUser     models.User
	meErr      error
	logoutErr  error

	// meStarted and meRelease, when set, hold Me until the test lets go.
	meStarted chan struct{}
	meRelease chan struct{}
	meOnce    sync.Once

	lastLogin models.LoginRequest

	loginCalls  atomic.Int32
	meCalls     atomic.Int32
	logoutCalls atomic.Int32
}

func (s *stubAPI) Login(_ context.Context, req models.LoginRequest) (models.AuthResponse, error) {
	s.loginCalls.Add(1)
	s.mu.Lock()
	s.lastLogin = req
	s.mu.Unlock()
	return s.loginResp, s.loginErr
}

func (s *stubAPI) Signup(_ context.Context, _ models.SignupRequest) (models.AuthResponse, error) {
	return s.signupResp, s.signupErr
}

func (s *stubAPI) Me(ctx context.Context) (models.User, error) {
	s.meCalls.Add(1)
	if s.meRelease != nil {
		s.meOnce.Do(func() { close(s.meStarted) })
		select {
		case <-s.meRelease:
		case <-ctx.Done():
			return models.User{}, ctx.Err()
		}
	}
	return s.meUser, s.meErr
}

type saveFailingStore struct {
	err error
}

func (f saveFailingStore) Load(context.Context) (credentials.Record, error) {
	return credentials.Record{}, credentials.ErrNotFound
}
func (f saveFailingStore) Save(context.Context, credentials.Record) error { return f.err }
func (f saveFailingStore) Clear(context.Context) error                   { return nil }

func (s *stubAPI) Logout(_ context.Context) error {
	s.logoutCalls.Add(1)
	return s.logoutErr
}

func newTestService(api *stubAPI) (*Service, *credentials.MemoryStore) {
	store := credentials.NewMemoryStore()
	return NewService(api, store, "device-1", logging.Discard()), store
}

func assertInvariant(t *testing.T, svc *Service) {
	t.Helper()
	state := svc.State()
	if state.IsAuthenticated != (state.User != nil) {
		t.Fatalf("authenticated flag %v disagrees with user %v", state.IsAuthenticated, state.User)
	}
}

func seed(t *testing.T, store credentials.Store, user *models.User) {
	t.Helper()
	record := credentials.Normalize(credentials.Record{
		Tokens: models.TokenPair{AccessToken: "old-access", RefreshToken: "old-refresh"},
		User:   user,
	}, testNow)
	if err := store.Save(context.Background(), record); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestLoginPersistsTokensAndUser(t *testing.T) {
	user := models.User{ID: "u1", Email: "aung@example.com"}
	api := &stubAPI{loginResp: models.AuthResponse{AccessToken: "a1", RefreshToken: "r1", User: &user}}
	svc, store := newTestService(api)

	got, err := svc.Login(context.Background(), LoginInput{Email: " Aung@Example.com ", Password: "secret123", RememberMe: true})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != "u1" {
		t.Fatalf("unexpected user %+v", got)
	}
	if api.lastLogin.Email != "aung@example.com" || api.lastLogin.DeviceID != "device-1" || !api.lastLogin.RememberMe {
		t.Fatalf("unexpected login request %+v", api.lastLogin)
	}

	record, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if record.Tokens.AccessToken != "a1" || record.Tokens.RefreshToken != "r1" || !record.IsAuthenticated {
		t.Fatalf("unexpected record %+v", record)
	}
	if state := svc.State(); !state.IsAuthenticated || state.User.ID != "u1" {
		t.Fatalf("unexpected state %+v", state)
	}
	assertInvariant(t, svc)
}

func TestLoginFailureLeavesCredentialsUntouched(t *testing.T) {
	api := &stubAPI{loginErr: errors.New("VPN_DETECTED")}
	svc, store := newTestService(api)
	seed(t, store, nil)

	if _, err := svc.Login(context.Background(), LoginInput{Email: "a@example.com", Password: "x"}); err == nil {
		t.Fatal("expected login error")
	}

	record, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if record.Tokens.AccessToken != "old-access" || store.Saves() != 1 {
		t.Fatalf("credentials must not change on failed login, got %+v after %d saves", record, store.Saves())
	}
	if svc.State().IsAuthenticated {
		t.Fatal("expected unauthenticated state")
	}
	assertInvariant(t, svc)
}

func TestLoginValidatesBeforeNetwork(t *testing.T) {
	api := &stubAPI{}
	svc, _ := newTestService(api)

	if _, err := svc.Login(context.Background(), LoginInput{Password: "x"}); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired got %v", err)
	}
	if _, err := svc.Login(context.Background(), LoginInput{Email: "a@example.com"}); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired got %v", err)
	}
	if api.loginCalls.Load() != 0 {
		t.Fatal("expected no network call")
	}
}

func TestLoginWithoutUserLooksItUp(t *testing.T) {
	api := &stubAPI{
		loginResp: models.AuthResponse{AccessToken: "a1", RefreshToken: "r1"},
		meUser:    models.User{ID: "u2"},
	}
	svc, _ := newTestService(api)

	user, err := svc.Login(context.Background(), LoginInput{Email: "a@example.com", Password: "x"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != "u2" || api.meCalls.Load() != 1 {
		t.Fatalf("expected user lookup, got %+v after %d calls", user, api.meCalls.Load())
	}
}

func TestLoginLookupFailureRestoresPreviousCredentials(t *testing.T) {
	api := &stubAPI{
		loginResp: models.AuthResponse{AccessToken: "a1", RefreshToken: "r1"},
		meErr:     errors.New("boom"),
	}
	svc, store := newTestService(api)
	seed(t, store, nil)

	if _, err := svc.Login(context.Background(), LoginInput{Email: "a@example.com", Password: "x"}); err == nil {
		t.Fatal("expected error")
	}
	record, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if record.Tokens.AccessToken != "old-access" {
		t.Fatalf("expected previous credentials to be restored, got %+v", record.Tokens)
	}
}

func TestSignupVerificationPending(t *testing.T) {
	api := &stubAPI{signupResp: models.AuthResponse{Message: "check your inbox"}}
	svc, store := newTestService(api)

	result, err := svc.Signup(context.Background(), SignupInput{Email: "new@example.com", Password: "passw0rd!", Name: "Ko Ko"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if !result.VerificationPending || result.Message != "check your inbox" {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, credentials.ErrNotFound) {
		t.Fatalf("expected no stored credentials, got %v", err)
	}
	assertInvariant(t, svc)
}

func TestSignupWithTokensAuthenticates(t *testing.T) {
	user := models.User{ID: "u3"}
	api := &stubAPI{signupResp: models.AuthResponse{AccessToken: "a", RefreshToken: "r", User: &user}}
	svc, _ := newTestService(api)

	result, err := svc.Signup(context.Background(), SignupInput{Email: "new@example.com", Password: "passw0rd!", Name: "Ko Ko"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if result.VerificationPending || !svc.State().IsAuthenticated {
		t.Fatalf("expected authenticated session, got %+v", result)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newTestService(&stubAPI{})

	cases := []struct {
		name string
		in   SignupInput
		want error
	}{
		{name: "missing email", in: SignupInput{Password: "passw0rd", Name: "n"}, want: ErrEmailRequired},
		{name: "bad email", in: SignupInput{Email: "nope", Password: "passw0rd", Name: "n"}, want: ErrInvalidEmail},
		{name: "disposable", in: SignupInput{Email: "x@mailinator.com", Password: "passw0rd", Name: "n"}, want: ErrDisallowedEmailDomain},
		{name: "short password", in: SignupInput{Email: "x@example.com", Password: "ab1", Name: "n"}, want: ErrWeakPassword},
		{name: "no digit", in: SignupInput{Email: "x@example.com", Password: "abcdefghij", Name: "n"}, want: ErrWeakPassword},
		{name: "missing name", in: SignupInput{Email: "x@example.com", Password: "passw0rd", Name: "  "}, want: ErrNameRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Signup(context.Background(), tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}
}

func TestFetchUserWithoutCredentialsSkipsNetwork(t *testing.T) {
	api := &stubAPI{}
	svc, _ := newTestService(api)

	if _, err := svc.FetchUser(context.Background()); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials got %v", err)
	}
	if api.meCalls.Load() != 0 {
		t.Fatal("expected no who-am-i call")
	}
	if svc.State().IsAuthenticated {
		t.Fatal("expected unauthenticated state")
	}
	assertInvariant(t, svc)
}

func TestFetchUserHydrates(t *testing.T) {
	api := &stubAPI{meUser: models.User{ID: "u1", Credits: 12}}
	svc, store := newTestService(api)
	seed(t, store, nil)

	if !svc.CheckAuth(context.Background()) {
		t.Fatal("expected restoration to succeed")
	}
	if state := svc.State(); state.User == nil || state.User.Credits != 12 {
		t.Fatalf("unexpected state %+v", state)
	}
	record, _ := store.Load(context.Background())
	if record.User == nil || record.User.ID != "u1" || !record.IsAuthenticated {
		t.Fatalf("expected snapshot to be persisted, got %+v", record)
	}
	assertInvariant(t, svc)
}

func TestFetchUserFailureClears(t *testing.T) {
	api := &stubAPI{meErr: errors.New("unauthorized")}
	svc, store := newTestService(api)
	seed(t, store, &models.User{ID: "stale"})
	svc.LoadCached(context.Background())
	if !svc.State().IsAuthenticated {
		t.Fatal("expected cached snapshot to be loaded")
	}

	if svc.CheckAuth(context.Background()) {
		t.Fatal("expected restoration to fail")
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, credentials.ErrNotFound) {
		t.Fatalf("expected credentials to be cleared, got %v", err)
	}
	if svc.State().IsAuthenticated {
		t.Fatal("expected unauthenticated state")
	}
	assertInvariant(t, svc)
}

func TestLogoutAlwaysClears(t *testing.T) {
	for _, serverErr := range []error{nil, errors.New("server down")} {
		api := &stubAPI{logoutErr: serverErr}
		svc, store := newTestService(api)
		user := models.User{ID: "u1"}
		if err := svc.SetAuth(context.Background(), "a", "r", user); err != nil {
			t.Fatalf("set auth: %v", err)
		}

		if err := svc.Logout(context.Background()); err != nil {
			t.Fatalf("logout: %v", err)
		}
		if api.logoutCalls.Load() != 1 {
			t.Fatal("expected server logout call")
		}
		if _, err := store.Load(context.Background()); !errors.Is(err, credentials.ErrNotFound) {
			t.Fatalf("expected tokens to be cleared, got %v", err)
		}
		if state := svc.State(); state.User != nil || state.IsAuthenticated {
			t.Fatalf("expected reset state, got %+v", state)
		}
	}
}

func TestUpdateUser(t *testing.T) {
	svc, store := newTestService(&stubAPI{})

	name := "Mya"
	if _, err := svc.UpdateUser(context.Background(), models.UserPatch{Name: &name}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated got %v", err)
	}

	if err := svc.SetAuth(context.Background(), "a", "r", models.User{ID: "u1", Name: "old"}); err != nil {
		t.Fatalf("set auth: %v", err)
	}
	updated, err := svc.UpdateUser(context.Background(), models.UserPatch{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Mya" || svc.State().User.Name != "Mya" {
		t.Fatalf("unexpected user %+v", updated)
	}
	record, _ := store.Load(context.Background())
	if record.User.Name != "Mya" || record.Tokens.AccessToken != "a" {
		t.Fatalf("expected persisted snapshot to follow, got %+v", record)
	}
}

func TestLoadCachedNeedsTokensAndUser(t *testing.T) {
	user := models.User{ID: "u1", Credits: 12}

	t.Run("user without tokens", func(t *testing.T) {
		svc, store := newTestService(&stubAPI{})
		record := credentials.Normalize(credentials.Record{User: &user}, testNow)
		if err := store.Save(context.Background(), record); err != nil {
			t.Fatalf("save: %v", err)
		}
		if state := svc.LoadCached(context.Background()); state.IsAuthenticated {
			t.Fatalf("expected no session without tokens, got %+v", state)
		}
		assertInvariant(t, svc)
	})

	t.Run("tokens without user", func(t *testing.T) {
		svc, store := newTestService(&stubAPI{})
		seed(t, store, nil)
		if state := svc.LoadCached(context.Background()); state.IsAuthenticated || state.User != nil {
			t.Fatalf("expected no session without a user snapshot, got %+v", state)
		}
		assertInvariant(t, svc)
	})

	t.Run("tokens and user", func(t *testing.T) {
		api := &stubAPI{}
		svc, store := newTestService(api)
		seed(t, store, &user)
		state := svc.LoadCached(context.Background())
		if !state.IsAuthenticated || state.User.ID != "u1" || state.User.Credits != 12 {
			t.Fatalf("expected cached user, got %+v", state)
		}
		if api.meCalls.Load() != 0 {
			t.Fatal("expected no network call")
		}
		assertInvariant(t, svc)
	})
}

func TestLoginSaveFailureRestoresPreviousRecord(t *testing.T) {
	user := models.User{ID: "u1"}
	api := &stubAPI{loginResp: models.AuthResponse{AccessToken: "a1", RefreshToken: "r1", User: &user}}
	primary := credentials.NewMemoryStore()
	svc := NewService(api, credentials.NewMirroredStore(primary, saveFailingStore{err: errors.New("disk full")}), "device-1", logging.Discard())

	if _, err := svc.Login(context.Background(), LoginInput{Email: "a@example.com", Password: "secret123"}); err == nil {
		t.Fatal("expected login to fail when the mirror cannot be written")
	}
	record, err := credentials.LoadOrEmpty(context.Background(), primary)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !record.Tokens.Empty() {
		t.Fatalf("expected the partial write to be undone, got %+v", record)
	}
	if svc.State().IsAuthenticated {
		t.Fatal("expected unauthenticated state")
	}
	assertInvariant(t, svc)
}

func TestSetAuthSaveFailureKeepsPreviousSession(t *testing.T) {
	previous := models.User{ID: "u0"}
	primary := credentials.NewMemoryStore()
	seed(t, primary, &previous)
	svc := NewService(&stubAPI{}, credentials.NewMirroredStore(primary, saveFailingStore{err: errors.New("disk full")}), "device-1", logging.Discard())

	if err := svc.SetAuth(context.Background(), "a1", "r1", models.User{ID: "u1"}); err == nil {
		t.Fatal("expected set auth to fail")
	}
	record, err := primary.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if record.Tokens.AccessToken != "old-access" || record.User == nil || record.User.ID != "u0" {
		t.Fatalf("expected previous record back, got %+v", record)
	}
}

func TestFetchUserOutlivesCancelledCaller(t *testing.T) {
	user := models.User{ID: "u1"}
	api := &stubAPI{meUser: user, meStarted: make(chan struct{}), meRelease: make(chan struct{})}
	svc, store := newTestService(api)
	seed(t, store, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.FetchUser(firstCtx)
		firstErr <- err
	}()
	<-api.meStarted

	type result struct {
		user models.User
		err  error
	}
	second := make(chan result, 1)
	go func() {
		u, err := svc.FetchUser(context.Background())
		second <- result{u, err}
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected first caller to see its cancellation, got %v", err)
	}
	close(api.meRelease)

	got := <-second
	if got.err != nil || got.user.ID != "u1" {
		t.Fatalf("expected second caller to get the user, got %+v %v", got.user, got.err)
	}
	if !svc.HasCredentials(context.Background()) {
		t.Fatal("expected credentials to survive a cancelled caller")
	}
	assertInvariant(t, svc)
}

func TestHandleSessionExpired(t *testing.T) {
	svc, _ := newTestService(&stubAPI{})
	if err := svc.SetAuth(context.Background(), "a", "r", models.User{ID: "u1"}); err != nil {
		t.Fatalf("set auth: %v", err)
	}
	svc.HandleSessionExpired(context.Background())
	if svc.State().IsAuthenticated {
		t.Fatal("expected unauthenticated state")
	}
	assertInvariant(t, svc)
}

func TestSetAuthRequiresAccessToken(t *testing.T) {
	svc, _ := newTestService(&stubAPI{})
	if err := svc.SetAuth(context.Background(), "", "r", models.User{}); !errors.Is(err, ErrMissingTokens) {
		t.Fatalf("expected ErrMissingTokens got %v", err)
	}
}
