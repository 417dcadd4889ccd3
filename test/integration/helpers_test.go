// Package integration runs the colloquy HTTP API end to end. The server and
// fake vendor APIs are started in-process with net/http/httptest; every test
// gets its own memory store.
package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/auth"
	"github.com/rhuss/colloquy/pkg/auth/apikey"
	"github.com/rhuss/colloquy/pkg/engine"
	"github.com/rhuss/colloquy/pkg/keys"
	"github.com/rhuss/colloquy/pkg/keys/seal"
	"github.com/rhuss/colloquy/pkg/models"
	"github.com/rhuss/colloquy/pkg/provider"
	"github.com/rhuss/colloquy/pkg/provider/anthropic"
	"github.com/rhuss/colloquy/pkg/provider/gemini"
	"github.com/rhuss/colloquy/pkg/provider/openai"
	"github.com/rhuss/colloquy/pkg/storage/memory"
	transporthttp "github.com/rhuss/colloquy/pkg/transport/http"
)

const (
	goodKey = "sk-good-0123456789"
	badKey  = "sk-bad-0123456789"

	aliceToken = "gw-alice-token"
	bobToken   = "gw-bob-token"
)

// env is one gateway wired to fake vendors.
type env struct {
	server    *httptest.Server
	openai    *fakeOpenAI
	anthropic *fakeAnthropic
}

type envOption func(*engine.Config)

func withLimiter(perMinute, burst int) envOption {
	return func(c *engine.Config) { c.Limiter = auth.NewLimiter(perMinute, burst) }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()

	oai := &fakeOpenAI{reply: []string{"Hel", "lo", " there"}}
	oaiSrv := httptest.NewServer(oai)
	t.Cleanup(oaiSrv.Close)

	ant := &fakeAnthropic{reply: []string{"Bonjour", "!"}}
	antSrv := httptest.NewServer(ant)
	t.Cleanup(antSrv.Close)

	adapters := &provider.Adapters{
		OpenAI:    openai.New(openai.Config{ClientConfig: provider.ClientConfig{BaseURL: oaiSrv.URL}}),
		Anthropic: anthropic.New(anthropic.Config{ClientConfig: provider.ClientConfig{BaseURL: antSrv.URL}}),
		Gemini:    gemini.New(gemini.Config{}),
	}

	sealer, err := seal.Ephemeral()
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	store := memory.New(0)
	creds := keys.New(store, sealer, adapters)
	catalog := models.New(store, creds, adapters, 0)

	cfg := engine.Config{Models: catalog}
	for _, opt := range opts {
		opt(&cfg)
	}
	eng, err := engine.New(store, adapters, creds, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	chain := &auth.Chain{
		Authenticators: []auth.Authenticator{apikey.New([]apikey.Entry{
			{Key: aliceToken, Subject: "alice"},
			{Key: bobToken, Subject: "bob"},
		})},
		Default: auth.No,
	}
	srv := transporthttp.NewServer(transporthttp.Services{
		Chat:    eng,
		Threads: eng,
		Keys:    creds,
		Models:  catalog,
		Audit:   store,
		Ready:   store.HealthCheck,
	}, transporthttp.WithAuth(auth.Middleware(chain, auth.DefaultBypassEndpoints)))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &env{server: ts, openai: oai, anthropic: ant}
}

// do sends a request as the holder of token and decodes a JSON reply into out
// when out is non-nil. It returns the status code.
func (e *env) do(t *testing.T, token, method, path string, body, out any) int {
	t.Helper()
	resp := e.send(t, token, method, path, body)
	defer resp.Body.Close()
	if out != nil {
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, data, err)
		}
	}
	return resp.StatusCode
}

func (e *env) send(t *testing.T, token, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// addKey stores a vendor key for token's user and returns it.
func (e *env) addKey(t *testing.T, token string, providerID api.ProviderID, secret string) *api.APIKey {
	t.Helper()
	var out struct {
		Key *api.APIKey `json:"key"`
	}
	status := e.do(t, token, http.MethodPost, "/v1/keys",
		api.CreateKeyRequest{Provider: string(providerID), Key: secret}, &out)
	if status != http.StatusCreated {
		t.Fatalf("create key status = %d", status)
	}
	return out.Key
}

// newThread creates a thread for token's user.
func (e *env) newThread(t *testing.T, token string, req api.CreateThreadRequest) *api.Thread {
	t.Helper()
	var out struct {
		Thread *api.Thread `json:"thread"`
	}
	if status := e.do(t, token, http.MethodPost, "/v1/threads", req, &out); status != http.StatusCreated {
		t.Fatalf("create thread status = %d", status)
	}
	return out.Thread
}

type sseEvent struct {
	Event string
	Data  string
}

// readEvents parses an SSE body into events.
func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Event != "" || cur.Data != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	return events
}

// fakeOpenAI serves /models and /chat/completions. Only goodKey is accepted.
type fakeOpenAI struct {
	mu       sync.Mutex
	reply    []string
	lastBody map[string]any
	chats    atomic.Int32
	// failMidStream emits one delta and then an error chunk.
	failMidStream bool
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+goodKey {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
		return
	}
	switch r.URL.Path {
	case "/models":
		fmt.Fprint(w, `{"data":[{"id":"gpt-4o","owned_by":"openai"},{"id":"text-embedding-3-small","owned_by":"openai"}]}`)
	case "/chat/completions":
		f.chats.Add(1)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastBody = body
		reply, failMid := f.reply, f.failMidStream
		f.mu.Unlock()

		if stream, _ := body["stream"].(bool); !stream {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{
					"message":       map[string]string{"role": "assistant", "content": strings.Join(reply, "")},
					"finish_reason": "stop",
				}},
			})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i, part := range reply {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
			flusher.Flush()
			if failMid && i == 0 {
				fmt.Fprint(w, "data: {\"error\":{\"message\":\"Rate limit reached for requests\",\"type\":\"requests\"}}\n\n")
				return
			}
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOpenAI) setFailMidStream(v bool) {
	f.mu.Lock()
	f.failMidStream = v
	f.mu.Unlock()
}

func (f *fakeOpenAI) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, _ := f.lastBody["messages"].([]any)
	return msgs
}

// fakeAnthropic serves /models and a streaming /messages.
type fakeAnthropic struct {
	reply []string
}

func (f *fakeAnthropic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") != goodKey {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
		return
	}
	switch r.URL.Path {
	case "/models":
		fmt.Fprint(w, `{"data":[{"id":"claude-sonnet-4","display_name":"Claude Sonnet 4"}],"has_more":false}`)
	case "/messages":
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":5,\"output_tokens\":1}}}\n\n")
		for _, part := range f.reply {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", part)
		}
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	default:
		http.NotFound(w, r)
	}
}
