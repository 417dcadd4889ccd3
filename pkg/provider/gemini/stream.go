package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/debug"
	"github.com/rhuss/colloquy/pkg/provider"
	"github.com/rhuss/colloquy/pkg/provider/sse"
)

// streamState accumulates a Gemini stream.
type streamState struct {
	text  strings.Builder
	usage api.Usage
}

// parseStream reads streamGenerateContent?alt=sse output. Each frame carries
// one GenerateContentResponse JSON object; there is no end sentinel, so the
// end of the body is the natural completion.
//
// Chunks that fail to decode are repaired when possible and skipped
// otherwise. When the upstream does not frame its output (or stops mid
// frame), the discarded trailing bytes are scanned for complete JSON
// objects.
func parseStream(ctx context.Context, body io.Reader, ch chan<- provider.StreamEvent) {
	var st streamState
	reader := sse.NewReader(body)

	for {
		frame, err := reader.Next()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, sse.ErrFrameTooLarge) {
			// No frame boundary in sight: the upstream is not framing its
			// output. Decode objects straight off the body from here on.
			debug.Log("providers", "gemini stream is unframed", "buffered", len(reader.Trailing()))
			st.drainUnframed(ctx, ch, reader.Trailing(), body)
			return
		}
		if err != nil {
			provider.Send(ctx, ch, provider.StreamEvent{
				Type: provider.StreamEventError,
				Err:  provider.MapStreamError(err),
			})
			return
		}

		chunks, ok := decodeFrame(frame.Data)
		if !ok {
			slog.Warn("skipping malformed gemini chunk", "data", debug.Truncate(frame.Data, 200))
			continue
		}
		for _, chunk := range chunks {
			if !st.apply(ctx, ch, chunk) {
				return
			}
		}
	}

	if trailing := reader.Trailing(); len(trailing) > 0 {
		debug.Log("providers", "gemini fallback scan", "bytes", len(trailing))
		objs, _ := scanObjects(trailing)
		for _, obj := range objs {
			var chunk generateContentResponse
			if err := json.Unmarshal(obj, &chunk); err != nil {
				continue
			}
			if !st.apply(ctx, ch, &chunk) {
				return
			}
		}
	}

	provider.Send(ctx, ch, provider.StreamEvent{Type: provider.StreamEventDone, Text: st.text.String(), Usage: st.usage})
}

// drainUnframed decodes complete JSON objects from pending and then from the
// rest of body, keeping only the unterminated tail buffered. The end of the
// body completes the stream; a single object larger than the frame limit
// fails it.
func (st *streamState) drainUnframed(ctx context.Context, ch chan<- provider.StreamEvent, pending []byte, body io.Reader) {
	buf := pending
	chunk := make([]byte, 32*1024)
	for {
		objs, rest := splitObjects(buf)
		for _, obj := range objs {
			var c generateContentResponse
			if err := json.Unmarshal(obj, &c); err != nil {
				slog.Warn("skipping malformed gemini object", "data", debug.Truncate(string(obj), 200))
				continue
			}
			if !st.apply(ctx, ch, &c) {
				return
			}
		}
		if len(rest) > sse.DefaultMaxFrameSize {
			provider.Send(ctx, ch, provider.StreamEvent{
				Type: provider.StreamEventError,
				Err:  provider.MapStreamError(sse.ErrFrameTooLarge),
			})
			return
		}
		buf = append(buf[:0:0], rest...)

		n, err := body.Read(chunk)
		if ctx.Err() != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			objs, _ := splitObjects(buf)
			for _, obj := range objs {
				var c generateContentResponse
				if json.Unmarshal(obj, &c) == nil && !st.apply(ctx, ch, &c) {
					return
				}
			}
			provider.Send(ctx, ch, provider.StreamEvent{Type: provider.StreamEventDone, Text: st.text.String(), Usage: st.usage})
			return
		}
		if err != nil {
			provider.Send(ctx, ch, provider.StreamEvent{
				Type: provider.StreamEventError,
				Err:  provider.MapStreamError(err),
			})
			return
		}
	}
}

// apply folds one chunk into the state and relays its text. It returns false
// when the stream must stop (error chunk or cancelled context).
func (st *streamState) apply(ctx context.Context, ch chan<- provider.StreamEvent, chunk *generateContentResponse) bool {
	if chunk.Error != nil {
		provider.Send(ctx, ch, provider.StreamEvent{
			Type: provider.StreamEventError,
			Err:  api.NewUpstreamError(chunk.Error.Code, chunk.Error.Status+": "+chunk.Error.Message),
		})
		return false
	}
	if chunk.UsageMetadata != nil {
		st.usage = toUsage(chunk.UsageMetadata)
	}
	text := chunk.text()
	if text == "" {
		return true
	}
	st.text.WriteString(text)
	return provider.Send(ctx, ch, provider.StreamEvent{Type: provider.StreamEventDelta, Text: text})
}

// decodeFrame parses frame data into chunks. It tries plain JSON, then any
// complete objects embedded in the data, then a repaired form. Repair is only
// attempted on structurally complete data so a truncated chunk is skipped
// rather than relayed half way.
func decodeFrame(data string) ([]*generateContentResponse, bool) {
	var chunk generateContentResponse
	if err := json.Unmarshal([]byte(data), &chunk); err == nil {
		return []*generateContentResponse{&chunk}, true
	}

	objs, open := scanObjects([]byte(data))
	if len(objs) > 0 {
		var chunks []*generateContentResponse
		for _, obj := range objs {
			var c generateContentResponse
			if json.Unmarshal(obj, &c) == nil {
				chunks = append(chunks, &c)
			}
		}
		if len(chunks) > 0 {
			return chunks, true
		}
	}

	if open {
		return nil, false
	}
	repaired, err := jsonrepair.JSONRepair(data)
	if err != nil {
		return nil, false
	}
	var fixed generateContentResponse
	if err := json.Unmarshal([]byte(repaired), &fixed); err != nil {
		return nil, false
	}
	return []*generateContentResponse{&fixed}, true
}

// scanObjects returns every complete top-level JSON object in b, in order.
// Text outside objects (array brackets, commas, "data:" prefixes) is
// ignored. An unterminated final object is dropped and reported as open.
func scanObjects(b []byte) (objs [][]byte, open bool) {
	objs, rest := splitObjects(b)
	return objs, len(rest) > 0
}

// splitObjects is scanObjects that also returns the unterminated final
// object, starting at its opening brace. rest is nil when every object in b
// is complete.
func splitObjects(b []byte) (objs [][]byte, rest []byte) {
	var (
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i, c := range b {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				objs = append(objs, bytes.Clone(b[start:i+1]))
				start = -1
			}
		}
	}
	if depth > 0 && start >= 0 {
		rest = b[start:]
	}
	return objs, rest
}
