package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/colloquy/pkg/api"
)

// Recovery converts a panic inside the service into an internal error so the
// server keeps serving other requests.
func Recovery() Middleware {
	return func(next ChatService) ChatService {
		return ChatServiceFunc(func(ctx context.Context, req *SendRequest, w EventWriter) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic in chat service",
						"thread_id", req.ThreadID,
						"request_id", RequestIDFromContext(ctx),
						"panic", r,
						"stack", string(debug.Stack()))
					retErr = api.NewInternalError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.SendMessage(ctx, req, w)
		})
	}
}
