package oauth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/burmeserecap/recap/internal/models"
)

type exchangerStub struct {
	resp models.AuthResponse
	err  error
	got  models.GoogleExchangeRequest
}

func (e *exchangerStub) GoogleExchange(_ context.Context, req models.GoogleExchangeRequest) (models.AuthResponse, error) {
	e.got = req
	return e.resp, e.err
}

type sessionStub struct {
	access string
	user   models.User
}

func (s *sessionStub) SetAuth(_ context.Context, access, _ string, user models.User) error {
	s.access = access
	s.user = user
	return nil
}

func beginFlow(t *testing.T, api Exchanger, sess SessionSetter) (*Flow, string) {
	t.Helper()
	flow, err := NewFlow("client-123", api, sess, "device-9")
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}
	authURL, err := flow.Begin("http://127.0.0.1:43210/oauth/callback")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "client-123" || q.Get("response_type") != "code" || q.Get("redirect_uri") == "" {
		t.Fatalf("unexpected consent url %s", authURL)
	}
	return flow, q.Get("state")
}

func TestFlowCompletes(t *testing.T) {
	user := models.User{ID: "g1", Email: "nilar@example.com", AuthProvider: models.AuthProviderGoogle}
	api := &exchangerStub{resp: models.AuthResponse{AccessToken: "a", RefreshToken: "r", User: &user}}
	sess := &sessionStub{}
	flow, state := beginFlow(t, api, sess)

	if _, err := flow.Complete(context.Background(), state, "auth-code", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if api.got.Code != "auth-code" || api.got.DeviceID != "device-9" || api.got.RedirectURI != "http://127.0.0.1:43210/oauth/callback" {
		t.Fatalf("unexpected exchange request %+v", api.got)
	}
	if sess.access != "a" || sess.user.ID != "g1" {
		t.Fatalf("expected session to be set, got %+v", sess)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := flow.Wait(ctx)
	if err != nil || got.ID != "g1" {
		t.Fatalf("unexpected wait result %+v %v", got, err)
	}

	if _, err := flow.Complete(context.Background(), state, "again", ""); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted got %v", err)
	}
}

func TestFlowRejectsBadCallbacks(t *testing.T) {
	flow, state := beginFlow(t, &exchangerStub{}, &sessionStub{})

	if _, err := flow.Complete(context.Background(), "forged", "code", ""); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch got %v", err)
	}
	if _, err := flow.Complete(context.Background(), state, "", "access_denied"); !errors.Is(err, ErrConsentDenied) {
		t.Fatalf("expected ErrConsentDenied got %v", err)
	}
	if _, err := flow.Wait(context.Background()); !errors.Is(err, ErrConsentDenied) {
		t.Fatalf("expected flow to settle with ErrConsentDenied got %v", err)
	}
}

func TestFlowRequiresConfiguration(t *testing.T) {
	if _, err := NewFlow(" ", nil, nil, ""); !errors.Is(err, ErrNoClientID) {
		t.Fatalf("expected ErrNoClientID got %v", err)
	}
	flow, _ := NewFlow("id", &exchangerStub{}, &sessionStub{}, "")
	if _, err := flow.Complete(context.Background(), "", "code", ""); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted got %v", err)
	}
}
