// Package apikey authenticates callers by static bearer tokens from the
// configuration. Tokens are kept only as SHA-256 hashes and compared in
// constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/rhuss/colloquy/pkg/auth"
)

// Entry maps one raw token to the user it authenticates.
type Entry struct {
	Key     string
	Subject string
	Scopes  []string
}

type hashedEntry struct {
	hash    [32]byte
	subject string
	scopes  []string
}

// Authenticator checks bearer tokens against a fixed set.
type Authenticator struct {
	entries []hashedEntry
}

// New hashes the tokens of entries. Entries without a key or subject are
// skipped.
func New(entries []Entry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		if e.Key == "" || e.Subject == "" {
			continue
		}
		a.entries = append(a.entries, hashedEntry{
			hash:    sha256.Sum256([]byte(e.Key)),
			subject: e.Subject,
			scopes:  append([]string(nil), e.Scopes...),
		})
	}
	return a
}

// Authenticate abstains without a bearer token and rejects unknown ones.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	sum := sha256.Sum256([]byte(token))
	match := -1
	for i := range a.entries {
		// Every entry is compared so timing does not reveal the position.
		if subtle.ConstantTimeCompare(sum[:], a.entries[i].hash[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	e := a.entries[match]
	return auth.Result{Decision: auth.Yes, Identity: &auth.Identity{
		Subject: e.subject,
		Scopes:  append([]string(nil), e.scopes...),
		Source:  "api_key",
	}}
}
