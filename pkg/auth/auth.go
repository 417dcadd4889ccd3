package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Decision is the vote of one authenticator.
type Decision int

const (
	// Yes ends the chain with an identity.
	Yes Decision = iota

	// No ends the chain with a rejection.
	No

	// Abstain passes the request to the next authenticator.
	Abstain
)

// Result carries one authentication outcome.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision is Yes
	Err      error     // set when Decision is No
}

// Identity is an authenticated caller.
type Identity struct {
	// Subject identifies the user and owns every thread and key they create.
	Subject string

	// Scopes are granted by the authenticator, when it knows any.
	Scopes []string

	// Source names the authenticator that produced the identity.
	Source string
}

// HasScope reports whether s was granted.
func (id *Identity) HasScope(s string) bool {
	if id == nil {
		return false
	}
	for _, have := range id.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// Authenticator inspects request credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// ErrUnauthenticated is returned when no authenticator accepted the request.
var ErrUnauthenticated = errors.New("authentication required")

// Chain evaluates authenticators left to right.
type Chain struct {
	Authenticators []Authenticator

	// Default is used when every authenticator abstains. Yes admits the
	// request as DefaultSubject; anything else rejects it.
	Default        Decision
	DefaultSubject string
}

// Authenticate stops at the first Yes or No.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}

	if c.Default == Yes {
		subject := c.DefaultSubject
		if subject == "" {
			subject = "anonymous"
		}
		return Result{Decision: Yes, Identity: &Identity{Subject: subject, Source: "default"}}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by the middleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// UserID returns the subject of the identity in ctx, or "".
func UserID(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Subject
	}
	return ""
}

// BearerToken returns the token of an "Authorization: Bearer" header. The
// second result is false when the header is absent or uses another scheme.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return h[len(prefix):], true
}
