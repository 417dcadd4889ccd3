// Package auth resolves the caller of a request and throttles work per
// caller.
//
// Authenticators vote Yes (identity found), No (credentials present but
// invalid) or Abstain (not their credential type). A Chain asks each in
// order and falls back to its default decision when all abstain. The
// resolved Identity's Subject becomes the owner id of threads and keys.
//
// Limiter is a keyed token bucket. The orchestrator asks it for
// "user:{subject}" before contacting a provider.
package auth
