package provider

import (
	"context"
	"strings"

	"github.com/rhuss/colloquy/pkg/api"
)

// StreamBufferSize is the capacity of the channel returned by StreamChat.
const StreamBufferSize = 16

// ChatRequest is the vendor-neutral input of an exchange.
type ChatRequest struct {
	Model    string
	Messages []api.ChatMessage
	Settings api.Settings
}

// ChatResult is the outcome of a non-streaming exchange.
type ChatResult struct {
	Text  string
	Usage api.Usage
}

// StreamEventType identifies the kind of a StreamEvent.
type StreamEventType int

const (
	// StreamEventDelta carries an incremental text fragment.
	StreamEventDelta StreamEventType = iota

	// StreamEventDone signals natural completion and carries the full text.
	StreamEventDone

	// StreamEventError signals a mid-stream failure.
	StreamEventError
)

// StreamEvent is one canonical event produced by an adapter.
type StreamEvent struct {
	Type  StreamEventType
	Text  string
	Usage api.Usage
	Err   *api.APIError
}

// Send delivers ev on ch unless ctx is done first. It reports whether the
// event was delivered.
func Send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// SplitSystem separates system-role messages from the turn list. System
// contents are joined with a blank line; empty ones are dropped.
func SplitSystem(msgs []api.ChatMessage) (string, []api.ChatMessage) {
	var system []string
	turns := make([]api.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == api.RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, m.Content)
			}
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// Temperature returns the requested temperature or def.
func Temperature(s api.Settings, def float64) float64 {
	if s.Temperature != nil {
		return *s.Temperature
	}
	return def
}

// MaxTokens returns the requested output token limit or def.
func MaxTokens(s api.Settings, def int) int {
	if s.MaxTokens != nil {
		return *s.MaxTokens
	}
	return def
}
