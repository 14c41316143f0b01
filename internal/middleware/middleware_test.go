package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/burmeserecap/recap/internal/logging"
)

func TestKeyedLimiterPerKey(t *testing.T) {
	limiter := NewKeyedLimiter(1, time.Minute, 1, time.Hour)
	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	if !limiter.Allow("job-1") {
		t.Fatal("expected first event to be allowed")
	}
	if limiter.Allow("job-1") {
		t.Fatal("expected second event within the window to be denied")
	}
	if !limiter.Allow("job-2") {
		t.Fatal("expected a different key to have its own bucket")
	}

	now = now.Add(2 * time.Minute)
	if !limiter.Allow("job-1") {
		t.Fatal("expected bucket to refill after the window")
	}
}

func TestKeyedLimiterExpiresIdleKeys(t *testing.T) {
	limiter := NewKeyedLimiter(1, time.Second, 1, time.Minute)
	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	limiter.Allow("a")
	limiter.Allow("b")
	if limiter.Len() != 2 {
		t.Fatalf("expected 2 keys got %d", limiter.Len())
	}

	now = now.Add(2 * time.Minute)
	limiter.Allow("c")
	if limiter.Len() != 1 {
		t.Fatalf("expected idle keys to be collected, got %d", limiter.Len())
	}

	limiter.Forget("c")
	if limiter.Len() != 0 {
		t.Fatal("expected Forget to drop the key")
	}
}

func TestKeyedLimiterForgetRefillsKey(t *testing.T) {
	limiter := NewKeyedLimiter(1, time.Hour, 1, time.Hour)
	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	if !limiter.Allow("job-1") || limiter.Allow("job-1") {
		t.Fatal("expected one event per window")
	}
	limiter.Forget("job-1")
	if !limiter.Allow("job-1") {
		t.Fatal("expected a forgotten key to start with a full bucket")
	}
}

func TestLoggingTransport(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := &http.Client{Transport: LoggingTransport(nil, logger)}

	ctx := logging.WithRequestID(context.Background(), "req-42")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/videos", nil)
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	if got := <-seen; got != "req-42" {
		t.Fatalf("expected request id to be forwarded, got %q", got)
	}
	out := buf.String()
	if !strings.Contains(out, "status=502") || !strings.Contains(out, "path=/api/v1/videos") {
		t.Fatalf("unexpected log output %q", out)
	}
	if strings.Contains(out, "secret-token") {
		t.Fatal("credentials must never be logged")
	}
}
