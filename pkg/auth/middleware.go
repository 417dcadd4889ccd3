package auth

import (
	"log/slog"
	"net/http"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/debug"
	"github.com/rhuss/colloquy/pkg/transport"
)

// DefaultBypassEndpoints skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates every request not on the bypass list and stores
// the identity in the request context.
func Middleware(chain *Chain, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err,
				)
				transport.WriteAPIError(w, &api.APIError{
					Code:    api.CodeUnauthenticated,
					Message: "authentication required",
				})
				return
			}
			if res.Identity.Subject == "" {
				slog.Error("authenticator returned an identity without subject", "source", res.Identity.Source)
				transport.WriteAPIError(w, api.NewInternalError("internal authentication error"))
				return
			}

			debug.Log("auth", "authenticated", "subject", res.Identity.Subject,
				"source", res.Identity.Source, "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), res.Identity)))
		})
	}
}
