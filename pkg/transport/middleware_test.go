package transport

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rhuss/colloquy/pkg/api"
)

// recordingWriter is a minimal EventWriter for middleware tests.
type recordingWriter struct {
	deltas  []string
	done    *api.Message
	failure *api.APIError
	message *api.Message
}

func (w *recordingWriter) WriteDelta(_ context.Context, text string) error {
	w.deltas = append(w.deltas, text)
	return nil
}

func (w *recordingWriter) WriteDone(_ context.Context, msg *api.Message) error {
	w.done = msg
	return nil
}

func (w *recordingWriter) WriteError(_ context.Context, apiErr *api.APIError) error {
	w.failure = apiErr
	return nil
}

func (w *recordingWriter) WriteMessage(_ context.Context, msg *api.Message) error {
	w.message = msg
	return nil
}

func (w *recordingWriter) Flush() error { return nil }

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next ChatService) ChatService {
			return ChatServiceFunc(func(ctx context.Context, req *SendRequest, w EventWriter) error {
				order = append(order, name+":before")
				err := next.SendMessage(ctx, req, w)
				order = append(order, name+":after")
				return err
			})
		}
	}
	svc := ChatServiceFunc(func(context.Context, *SendRequest, EventWriter) error {
		order = append(order, "service")
		return nil
	})

	Chain(mw("first"), mw("second"))(svc).SendMessage(context.Background(), &SendRequest{}, &recordingWriter{})

	want := "first:before,second:before,service,second:after,first:after"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestRecoveryConvertsPanic(t *testing.T) {
	svc := ChatServiceFunc(func(context.Context, *SendRequest, EventWriter) error {
		panic("boom")
	})

	err := Recovery()(svc).SendMessage(context.Background(), &SendRequest{ThreadID: "thr_1"}, &recordingWriter{})
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeInternal {
		t.Fatalf("err = %v, want internal APIError", err)
	}
	if !strings.Contains(apiErr.Message, "boom") {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	svc := ChatServiceFunc(func(ctx context.Context, _ *SendRequest, _ EventWriter) error {
		seen = RequestIDFromContext(ctx)
		return nil
	})

	RequestID()(svc).SendMessage(context.Background(), &SendRequest{}, &recordingWriter{})
	if len(seen) != 32 {
		t.Errorf("generated request id = %q", seen)
	}

	ctx := ContextWithRequestID(context.Background(), "from-header")
	RequestID()(svc).SendMessage(ctx, &SendRequest{}, &recordingWriter{})
	if seen != "from-header" {
		t.Errorf("request id = %q, want from-header", seen)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
		level   string
	}{
		{"success", nil, "exchange completed", "INFO"},
		{"cancelled", context.Canceled, "exchange cancelled", "INFO"},
		{"rejected", api.NewValidationError("content", "content is required"), "exchange rejected", "WARN"},
		{"upstream", api.NewUpstreamError(500, "boom"), "exchange failed", "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			svc := ChatServiceFunc(func(context.Context, *SendRequest, EventWriter) error { return tt.err })

			ctx := ContextWithRequestID(context.Background(), "req-42")
			got := Logging(logger)(svc).SendMessage(ctx, &SendRequest{ThreadID: "thr_9", Stream: true}, &recordingWriter{})
			if !errors.Is(got, tt.err) {
				t.Errorf("err = %v, want %v", got, tt.err)
			}

			out := buf.String()
			for _, want := range []string{tt.wantMsg, "level=" + tt.level, "request_id=req-42", "thread_id=thr_9", "stream=true"} {
				if !strings.Contains(out, want) {
					t.Errorf("log output missing %q: %s", want, out)
				}
			}
		})
	}
}
