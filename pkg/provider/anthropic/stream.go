package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/debug"
	"github.com/rhuss/colloquy/pkg/provider"
	"github.com/rhuss/colloquy/pkg/provider/sse"
)

// parseStream reads Messages API frames from body and emits canonical events
// on ch. Only text_delta content is relayed; message_stop ends the stream.
func parseStream(ctx context.Context, body io.Reader, ch chan<- provider.StreamEvent) {
	var (
		text  strings.Builder
		usage api.Usage
	)
	reader := sse.NewReader(body)

	for {
		frame, err := reader.Next()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			provider.Send(ctx, ch, provider.StreamEvent{
				Type: provider.StreamEventError,
				Err:  api.NewUpstreamError(0, "network error: stream ended before message_stop"),
			})
			return
		}
		if err != nil {
			provider.Send(ctx, ch, provider.StreamEvent{
				Type: provider.StreamEventError,
				Err:  provider.MapStreamError(err),
			})
			return
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(frame.Data), &ev); err != nil {
			slog.Warn("skipping malformed anthropic frame",
				"event", frame.Event,
				"error", err.Error(),
				"data", debug.Truncate(frame.Data, 200),
			)
			continue
		}
		if ev.Type == "" {
			ev.Type = frame.Event
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil && ev.Message.Usage != nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
				usage.OutputTokens = ev.Message.Usage.OutputTokens
			}

		case "content_block_delta":
			if ev.Delta == nil || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
				continue
			}
			text.WriteString(ev.Delta.Text)
			if !provider.Send(ctx, ch, provider.StreamEvent{Type: provider.StreamEventDelta, Text: ev.Delta.Text}) {
				return
			}

		case "message_delta":
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			provider.Send(ctx, ch, provider.StreamEvent{Type: provider.StreamEventDone, Text: text.String(), Usage: usage})
			return

		case "error":
			msg := "upstream stream error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			provider.Send(ctx, ch, provider.StreamEvent{
				Type: provider.StreamEventError,
				Err:  api.NewUpstreamError(http.StatusOK, msg),
			})
			return

		default:
			// ping, content_block_start, content_block_stop
			debug.Log("providers", "anthropic frame ignored", "type", ev.Type)
		}
	}
}
