// Package noop admits every request as one fixed user. It serves local
// single-user deployments.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/colloquy/pkg/auth"
)

// DefaultSubject is used when New is given an empty subject.
const DefaultSubject = "local"

// Authenticator always votes Yes.
type Authenticator struct {
	subject string
}

// New returns an authenticator that identifies every caller as subject.
func New(subject string) *Authenticator {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Authenticator{subject: subject}
}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.Result {
	return auth.Result{Decision: auth.Yes, Identity: &auth.Identity{Subject: a.subject, Source: "none"}}
}
