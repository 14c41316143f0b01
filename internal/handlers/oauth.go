package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/burmeserecap/recap/internal/logging"
	"github.com/burmeserecap/recap/internal/models"
	"github.com/burmeserecap/recap/internal/oauth"
)

// OAuthCompleter settles a sign-in flow from callback parameters.
type OAuthCompleter interface {
	Complete(ctx context.Context, state, code, callbackErr string) (models.User, error)
}

// OAuthCallbackHandler receives Google's redirect on the loopback server.
type OAuthCallbackHandler struct {
	Flow    OAuthCompleter
	Limiter RateLimiter
}

// Handle implements GET /oauth/callback.
func (h OAuthCallbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Flow == nil {
		logger.Error("oauth flow unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "sign-in is not in progress"})
		return
	}

	if !allowRequest(h.Limiter, r, "oauth_callback") {
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts"})
		return
	}

	q := r.URL.Query()
	user, err := h.Flow.Complete(ctx, q.Get("state"), q.Get("code"), q.Get("error"))
	switch {
	case err == nil:
		logger.Info("google sign-in completed", "userId", user.ID)
		respondJSON(ctx, w, http.StatusOK, map[string]string{
			"status":  "signed_in",
			"email":   user.Email,
			"message": "You can close this window and return to the terminal.",
		})
	case errors.Is(err, oauth.ErrStateMismatch), errors.Is(err, oauth.ErrNotStarted):
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid sign-in state"})
	case errors.Is(err, oauth.ErrAlreadyCompleted):
		respondJSON(ctx, w, http.StatusConflict, map[string]string{"error": "sign-in already completed"})
	case errors.Is(err, oauth.ErrConsentDenied), errors.Is(err, oauth.ErrMissingCode):
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		respondJSON(ctx, w, http.StatusBadGateway, map[string]string{"error": "could not complete sign-in"})
	}
}
