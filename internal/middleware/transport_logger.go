package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/burmeserecap/recap/internal/logging"
)

// RequestIDHeader carries the client-generated request identifier.
const RequestIDHeader = "X-Request-ID"

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// LoggingTransport tags each outbound request with a request id and emits
// one structured log line when it completes. Header values are never logged.
func LoggingTransport(base http.RoundTripper, logger *slog.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}

	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		requestID := logging.RequestIDFromContext(r.Context())
		if requestID == "" {
			requestID = uuid.NewString()
		}

		reqLogger := logger.With(
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("host", r.URL.Host),
			slog.String("path", r.URL.Path),
		)

		out := r.Clone(logging.WithRequestID(r.Context(), requestID))
		out.Header.Set(RequestIDHeader, requestID)

		resp, err := base.RoundTrip(out)
		if err != nil {
			reqLogger.Warn("request failed", slog.Duration("duration", time.Since(start)), slog.Any("error", err))
			return nil, err
		}

		level := slog.LevelDebug
		if resp.StatusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		reqLogger.Log(r.Context(), level, "request completed",
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, nil
	})
}
