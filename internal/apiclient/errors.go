package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrSessionExpired indicates the refresh token was rejected and the
	// stored credentials have been cleared.
	ErrSessionExpired = errors.New("session expired")
	// ErrEmptyAccessToken indicates a refresh response did not carry a token.
	ErrEmptyAccessToken = errors.New("refresh returned an empty access token")
)

// Structured error codes the backend attaches to failures that need a
// specific remediation message.
const (
	CodeVPNDetected         = "VPN_DETECTED"
	CodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
)

const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d", e.Method, e.Path, e.Status)
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// IsUnauthorized reports whether err is an HTTP 401.
func IsUnauthorized(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}

// HasCode reports whether err is an APIError carrying the structured code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// IsVPNDetected reports whether the backend rejected the caller's network.
func IsVPNDetected(err error) bool {
	return HasCode(err, CodeVPNDetected)
}

// IsEmailNotVerified reports whether the account still needs email verification.
func IsEmailNotVerified(err error) bool {
	return HasCode(err, CodeEmailNotVerified)
}

// IsInsufficientCredits reports whether the job could not be paid for.
func IsInsufficientCredits(err error) bool {
	return HasCode(err, CodeInsufficientCredits)
}

type errorPayload struct {
	Detail  json.RawMessage `json:"detail"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

func decodeError(resp *http.Response, method, path string) *APIError {
	apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = firstNonEmpty(payload.Message, payload.Error)
		if len(payload.Detail) > 0 {
			code, msg := parseDetail(payload.Detail)
			apiErr.Code = firstNonEmpty(code, apiErr.Code)
			apiErr.Message = firstNonEmpty(msg, apiErr.Message)
		}
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		apiErr.Message = text
	}

	apiErr.Code = strings.ToUpper(strings.TrimSpace(apiErr.Code))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// parseDetail understands a plain string, an object with code and message,
// and a list of validation entries.
func parseDetail(raw json.RawMessage) (code, message string) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return "", text
	}

	var detail errorDetail
	if err := json.Unmarshal(raw, &detail); err == nil {
		return detail.Code, firstNonEmpty(detail.Message, detail.Msg)
	}

	var list []errorDetail
	if err := json.Unmarshal(raw, &list); err == nil {
		msgs := make([]string, 0, len(list))
		for _, item := range list {
			if m := firstNonEmpty(item.Message, item.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		return "", strings.Join(msgs, "; ")
	}
	return "", ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
