package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rhuss/colloquy/pkg/api"
)

// Logging emits one structured entry per exchange with the thread, user,
// stream mode, duration and outcome. HTTP status codes are logged by the
// HTTP adapter's own middleware.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ChatService) ChatService {
		return ChatServiceFunc(func(ctx context.Context, req *SendRequest, w EventWriter) error {
			start := time.Now()
			err := next.SendMessage(ctx, req, w)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("thread_id", req.ThreadID),
				slog.String("user_id", req.UserID),
				slog.Bool("stream", req.Stream),
				slog.Duration("duration", time.Since(start)),
			}

			var apiErr *api.APIError
			switch {
			case err == nil:
				logger.LogAttrs(ctx, slog.LevelInfo, "exchange completed", attrs...)
			case errors.Is(err, context.Canceled):
				logger.LogAttrs(ctx, slog.LevelInfo, "exchange cancelled", attrs...)
			case errors.As(err, &apiErr) && !apiErr.Code.IsUpstream() && apiErr.Code != api.CodeInternal:
				attrs = append(attrs, slog.String("code", string(apiErr.Code)))
				logger.LogAttrs(ctx, slog.LevelWarn, "exchange rejected", attrs...)
			default:
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "exchange failed", attrs...)
			}
			return err
		})
	}
}
