package openai

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

// doneSentinel terminates a Chat Completions stream.
const doneSentinel = "[DONE]"

// parseStream reads Chat Completions SSE frames from body and emits canonical
// events on ch:
//
//	data: {"choices":[{"delta":{"content":"Hel"}}]}
//
//	data: [DONE]
//
// Malformed chunks are logged and skipped. The stream must end with the
// sentinel or a finish_reason; otherwise it is reported as truncated.
func parseStream(ctx context.Context, body io.Reader, ch chan<- provider.StreamEvent) {
	var (
		text     strings.Builder
		usage    api.Usage
		finished bool
	)
	reader := sse.NewReader(body)

	for {
		frame, err := reader.Next()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			provider.Send(ctx, ch, provider.StreamEvent{
				Type: provider.StreamEventError,
				Err:  provider.MapStreamError(err),
			})
			return
		}

		if frame.Data == doneSentinel {
			finished = true
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
			slog.Warn("skipping malformed openai chunk",
				"error", err.Error(),
				"data", debug.Truncate(frame.Data, 200),
			)
			continue
		}

		if chunk.Error != nil {
			provider.Send(ctx, ch, provider.StreamEvent{
				Type: provider.StreamEventError,
				Err:  api.NewUpstreamError(http.StatusOK, chunk.Error.Message),
			})
			return
		}
		if chunk.Usage != nil {
			usage = toUsage(chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if c := choice.Delta.Content; c != nil && *c != "" {
			text.WriteString(*c)
			if !provider.Send(ctx, ch, provider.StreamEvent{Type: provider.StreamEventDelta, Text: *c}) {
				return
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finished = true
		}
	}

	if !finished {
		provider.Send(ctx, ch, provider.StreamEvent{
			Type: provider.StreamEventError,
			Err:  api.NewUpstreamError(0, "network error: stream ended before completion"),
		})
		return
	}
	provider.Send(ctx, ch, provider.StreamEvent{Type: provider.StreamEventDone, Text: text.String(), Usage: usage})
}
