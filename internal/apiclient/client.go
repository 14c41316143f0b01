// Package apiclient is the single outbound HTTP path to the recap backend.
// It attaches the stored bearer token to every call and recovers from an
// expired access token with one refresh followed by one replay.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/burmeserecap/recap/internal/credentials"
	"github.com/burmeserecap/recap/internal/logging"
)

// Refresh outcomes reported to a Recorder.
const (
	RefreshSucceeded = "success"
	RefreshFailed    = "failure"
	RefreshSkipped   = "no_refresh_token"
)

// Recorder observes client traffic. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveRequest(method string, status int)
	ObserveRefresh(outcome string)
}

// Request describes one logical backend call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// NoAuth omits the bearer credential.
	NoAuth bool
	// NoRefresh keeps a 401 from entering the refresh cycle. Set on the
	// authentication endpoints themselves.
	NoRefresh bool
}

// Client talks JSON to the backend API.
type Client struct {
	baseURL   string
	http      *http.Client
	store     credentials.Store
	logger    *slog.Logger
	recorder  Recorder
	onExpired func(ctx context.Context)
	coalesce  bool
	userAgent string

	refreshes singleflight.Group
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used when no logger travels on the context.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder installs a traffic observer.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithSessionExpiredHandler registers the callback run after an
// unrecoverable refresh failure, once credentials have been cleared. It is
// the client's route back to the login entry point.
func WithSessionExpiredHandler(fn func(ctx context.Context)) Option {
	return func(c *Client) {
		c.onExpired = fn
	}
}

// WithCoalescedRefresh makes concurrent 401s share one in-flight refresh
// when they hold the same refresh token.
func WithCoalescedRefresh() Option {
	return func(c *Client) {
		c.coalesce = true
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New returns a Client rooted at baseURL (including the versioned prefix).
func New(baseURL string, store credentials.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("apiclient: credential store is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("apiclient: invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		store:     store,
		logger:    slog.Default(),
		userAgent: "recap-client",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the resolved API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// call tracks the replay budget of one logical request.
type call struct {
	req     Request
	replays int
}

const maxReplays = 1

// Do executes req and decodes a JSON response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	return c.run(ctx, &call{req: req}, out)
}

func (c *Client) run(ctx context.Context, cl *call, out any) error {
	record, err := credentials.LoadOrEmpty(ctx, c.store)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	err = c.send(ctx, cl.req, record.Tokens.AccessToken, out)
	if !IsUnauthorized(err) || cl.req.NoRefresh || cl.replays >= maxReplays {
		return err
	}

	if record.Tokens.RefreshToken == "" {
		c.observeRefresh(RefreshSkipped)
		return err
	}

	access, refreshErr := c.refreshAccess(ctx, record.Tokens.RefreshToken)
	if refreshErr != nil {
		c.observeRefresh(RefreshFailed)
		c.expire(ctx)
		return errors.Join(ErrSessionExpired, refreshErr)
	}
	c.observeRefresh(RefreshSucceeded)

	cl.replays++
	return c.send(ctx, cl.req, access, out)
}

func (c *Client) refreshAccess(ctx context.Context, refreshToken string) (string, error) {
	if !c.coalesce {
		return c.exchangeRefresh(ctx, refreshToken)
	}
	v, err, _ := c.refreshes.Do(refreshToken, func() (any, error) {
		return c.exchangeRefresh(ctx, refreshToken)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) exchangeRefresh(ctx context.Context, refreshToken string) (string, error) {
	resp, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", ErrEmptyAccessToken
	}
	if err := credentials.UpdateTokens(ctx, c.store, resp.AccessToken, resp.RefreshToken); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}
	return resp.AccessToken, nil
}

func (c *Client) expire(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.log(ctx).Error("clear credentials after failed refresh", "error", err)
	}
	if c.onExpired != nil {
		c.onExpired(ctx)
	}
}

func (c *Client) send(ctx context.Context, req Request, accessToken string, out any) error {
	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", req.Method, req.Path, err)
		}
		body = bytes.NewReader(buf)
	}

	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", req.Method, req.Path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if accessToken != "" && !req.NoAuth {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observeRequest(req.Method, 0)
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	c.observeRequest(req.Method, resp.StatusCode)

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp, req.Method, req.Path)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.Path, err)
	}
	return nil
}

func (c *Client) observeRequest(method string, status int) {
	if c.recorder != nil {
		c.recorder.ObserveRequest(method, status)
	}
}

func (c *Client) observeRefresh(outcome string) {
	if c.recorder != nil {
		c.recorder.ObserveRefresh(outcome)
	}
}

func (c *Client) log(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != slog.Default() {
		return logger
	}
	return c.logger
}
