package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/provider"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{ClientConfig: provider.ClientConfig{BaseURL: srv.URL}})
}

func sampleRequest() *provider.ChatRequest {
	return &provider.ChatRequest{
		Model: "gpt-4o",
		Messages: []api.ChatMessage{
			{Role: api.RoleSystem, Content: "Be brief."},
			{Role: api.RoleUser, Content: "Hi"},
			{Role: api.RoleAssistant, Content: "Hello"},
			{Role: api.RoleSystem, Content: "Answer in English."},
			{Role: api.RoleUser, Content: "How are you?"},
		},
	}
}

func drain(t *testing.T, ch <-chan provider.StreamEvent) []provider.StreamEvent {
	t.Helper()
	var events []provider.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func TestBuildRequestKeepsSystemOutOfTurns(t *testing.T) {
	req := buildRequest(sampleRequest(), false)

	if req.System != "Be brief.\n\nAnswer in English." {
		t.Errorf("System = %q", req.System)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("got %d turns, want 3", len(req.Messages))
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			t.Errorf("system entry leaked into turns: %+v", m)
		}
	}
	if req.Temperature != defaultTemperature {
		t.Errorf("Temperature = %v, want default %v", req.Temperature, defaultTemperature)
	}

	// On the wire the side channel becomes a single leading preamble.
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire struct {
		Messages []chatMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(wire.Messages) != 4 || wire.Messages[0].Role != "system" || wire.Messages[0].Content != req.System {
		t.Errorf("wire messages = %+v", wire.Messages)
	}
	if strings.Contains(string(data), `"System"`) {
		t.Errorf("System field must not be encoded directly: %s", data)
	}
}

func TestChat(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["stream"]; ok {
			t.Error("non-streaming request must not set stream")
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hello world"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	})

	res, err := p.Chat(context.Background(), "sk-test", sampleRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Text != "Hello world" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Usage.TotalTokens != 7 || res.Usage.InputTokens != 5 {
		t.Errorf("Usage = %+v", res.Usage)
	}
}

func TestStreamChat(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream || body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
			t.Errorf("stream flags not set: %+v", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" world\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":3,\"total_tokens\":6}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := p.StreamChat(context.Background(), "sk-test", sampleRequest())
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	events := drain(t, ch)

	var deltas []string
	for _, ev := range events[:len(events)-1] {
		if ev.Type != provider.StreamEventDelta {
			t.Fatalf("unexpected event before terminal: %+v", ev)
		}
		deltas = append(deltas, ev.Text)
	}
	if strings.Join(deltas, "|") != "Hel|lo| world" {
		t.Errorf("deltas = %q", deltas)
	}
	last := events[len(events)-1]
	if last.Type != provider.StreamEventDone || last.Text != "Hello world" {
		t.Errorf("terminal = %+v", last)
	}
	if last.Usage.TotalTokens != 6 {
		t.Errorf("usage = %+v", last.Usage)
	}
}

func TestStreamChatTruncated(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\ndata: {\"choi")
	})

	ch, err := p.StreamChat(context.Background(), "sk-test", sampleRequest())
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	events := drain(t, ch)
	last := events[len(events)-1]
	if last.Type != provider.StreamEventError {
		t.Fatalf("terminal = %+v, want error", last)
	}
	if last.Err.Code != api.CodeUpstreamNetwork {
		t.Errorf("code = %q", last.Err.Code)
	}
}

func TestStreamChatNon2xxCarriesRawBody(t *testing.T) {
	const body = `{"error":{"message":"Incorrect API key provided: sk-bad","type":"invalid_request_error","code":"invalid_api_key"}}`
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, body)
	})

	_, err := p.StreamChat(context.Background(), "sk-bad", sampleRequest())
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *api.APIError", err)
	}
	if apiErr.Message != body {
		t.Errorf("Message = %q, want raw body", apiErr.Message)
	}
	if apiErr.Code != api.CodeInvalidCredential {
		t.Errorf("Code = %q", apiErr.Code)
	}
}

func TestStreamChatCancel(t *testing.T) {
	release := make(chan struct{})
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.StreamChat(ctx, "sk-test", sampleRequest())
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if ev := <-ch; ev.Type != provider.StreamEventDelta || ev.Text != "Hel" {
		t.Fatalf("first event = %+v", ev)
	}
	cancel()
	for ev := range ch {
		if ev.Type == provider.StreamEventDone {
			t.Fatalf("cancelled stream produced done: %+v", ev)
		}
	}
}

func TestListModels(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o"},{"id":"text-embedding-3-small"},{"id":"gpt-3.5-turbo-instruct"},
			{"id":"gpt-4o-realtime-preview"},{"id":"gpt-3.5-turbo"},{"id":"whisper-1"}]}`)
	})

	models, err := p.ListModels(context.Background(), "sk-test")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	var ids []string
	for _, m := range models {
		ids = append(ids, m.ID)
		if m.Provider != api.ProviderOpenAI || !m.Capabilities.Streaming {
			t.Errorf("model %+v", m)
		}
	}
	if strings.Join(ids, ",") != "gpt-3.5-turbo,gpt-4o" {
		t.Errorf("ids = %v", ids)
	}
	if !models[1].Capabilities.Vision {
		t.Error("gpt-4o should be flagged as vision capable")
	}
}

func TestListModelsFallsBackToAll(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"custom-model"}]}`)
	})
	models, err := p.ListModels(context.Background(), "sk-test")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "custom-model" {
		t.Errorf("models = %+v", models)
	}
}

func TestValidateCredential(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer good-key" {
			fmt.Fprint(w, `{"data":[]}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `Invalid API key provided`)
	})

	if err := p.ValidateCredential(context.Background(), "good-key"); err != nil {
		t.Errorf("good key: %v", err)
	}
	err := p.ValidateCredential(context.Background(), "bad-key")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeInvalidCredential {
		t.Errorf("bad key: %v", err)
	}
}

// dropAfter answers 200 with body, promising more bytes than it sends, and
// then closes the connection.
func dropAfter(t *testing.T, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		conn, buf, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()
		fmt.Fprintf(buf, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: %d\r\n\r\n%s", len(body)+1024, body)
		buf.Flush()
	}
}

func TestStreamChatConnectionDropped(t *testing.T) {
	p := newTestProvider(t, dropAfter(t, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))

	ch, err := p.StreamChat(context.Background(), "sk-test", sampleRequest())
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	events := drain(t, ch)
	last := events[len(events)-1]
	if last.Type != provider.StreamEventError {
		t.Fatalf("terminal = %+v, want error", last)
	}
	if last.Err.Code != api.CodeUpstreamNetwork || !last.Err.Retryable {
		t.Errorf("err = %+v, want retryable %s", last.Err, api.CodeUpstreamNetwork)
	}
}
