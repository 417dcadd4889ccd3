package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// RequestID assigns a request ID to the context unless the HTTP adapter
// already set one from the X-Request-ID header.
func RequestID() Middleware {
	return func(next ChatService) ChatService {
		return ChatServiceFunc(func(ctx context.Context, req *SendRequest, w EventWriter) error {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, NewRequestID())
			}
			return next.SendMessage(ctx, req, w)
		})
	}
}

// NewRequestID returns a random 128-bit hex identifier.
func NewRequestID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
