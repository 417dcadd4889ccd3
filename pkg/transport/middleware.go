package transport

import "context"

// Middleware wraps a ChatService. The first middleware in a chain is the
// outermost wrapper.
type Middleware func(ChatService) ChatService

// Chain composes middleware: Chain(a, b, c) produces a(b(c(service))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next ChatService) ChatService {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// RequestIDFromContext returns the request ID, or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID returns a context carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
