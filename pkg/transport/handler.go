package transport

import (
	"context"

	"github.com/rhuss/colloquy/pkg/api"
)

// SendRequest is one user turn submitted to a thread.
type SendRequest struct {
	UserID    string
	ThreadID  string
	Content   string
	RequestID string
	Stream    bool
}

// ChatService runs an exchange and reports its outcome through w. A returned
// error has not been written to w yet; the caller reports it.
type ChatService interface {
	SendMessage(ctx context.Context, req *SendRequest, w EventWriter) error
}

// ChatServiceFunc adapts an ordinary function to ChatService.
type ChatServiceFunc func(ctx context.Context, req *SendRequest, w EventWriter) error

// SendMessage calls f(ctx, req, w).
func (f ChatServiceFunc) SendMessage(ctx context.Context, req *SendRequest, w EventWriter) error {
	return f(ctx, req, w)
}

// EventWriter abstracts streaming and non-streaming output.
//
// WriteDelta, WriteDone and WriteError belong to the streaming protocol;
// WriteMessage is the non-streaming reply. The two are mutually exclusive on
// one writer. After WriteDone, WriteError or WriteMessage every further write
// returns an error.
type EventWriter interface {
	// WriteDelta relays one text fragment.
	WriteDelta(ctx context.Context, text string) error

	// WriteDone ends the stream with the persisted assistant message.
	WriteDone(ctx context.Context, msg *api.Message) error

	// WriteError ends the stream with a classified failure.
	WriteError(ctx context.Context, apiErr *api.APIError) error

	// WriteMessage sends the complete non-streaming reply.
	WriteMessage(ctx context.Context, msg *api.Message) error

	// Flush pushes buffered bytes to the client. It fails once the client
	// has disconnected.
	Flush() error
}
