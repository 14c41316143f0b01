package handlers

import "net/http"

// Dependencies aggregates collaborators required by the loopback server.
type Dependencies struct {
	OAuth   OAuthCompleter
	Limiter RateLimiter
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{}
	callback := OAuthCallbackHandler{Flow: deps.OAuth, Limiter: deps.Limiter}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/oauth/callback", callback.Handle)
}
