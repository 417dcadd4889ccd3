package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/provider/sse"
)

type stubProvider struct{ id ID }

func (s stubProvider) ID() ID { return s.id }
func (s stubProvider) ValidateCredential(context.Context, string) error { return nil }
func (s stubProvider) ListModels(context.Context, string) ([]api.NormalizedModel, error) { return nil, nil }
func (s stubProvider) Chat(context.Context, string, *ChatRequest) (*ChatResult, error) {
	return &ChatResult{}, nil
}
func (s stubProvider) StreamChat(context.Context, string, *ChatRequest) (<-chan StreamEvent, error) {
	return nil, nil
}

func TestAdaptersFor(t *testing.T) {
	a := &Adapters{
		OpenAI:    stubProvider{api.ProviderOpenAI},
		Anthropic: stubProvider{api.ProviderAnthropic},
	}
	for _, id := range []ID{api.ProviderOpenAI, api.ProviderAnthropic} {
		p, err := a.For(id)
		if err != nil {
			t.Fatalf("For(%s): %v", id, err)
		}
		if p.ID() != id {
			t.Errorf("For(%s) returned %s", id, p.ID())
		}
	}

	_, err := a.For(api.ProviderGemini)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeInternal {
		t.Errorf("unconfigured adapter: %v", err)
	}
	_, err = a.For("mistral")
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeValidation {
		t.Errorf("unknown adapter: %v", err)
	}
}

func TestSplitSystem(t *testing.T) {
	system, turns := SplitSystem([]api.ChatMessage{
		{Role: api.RoleSystem, Content: "one"},
		{Role: api.RoleUser, Content: "hi"},
		{Role: api.RoleSystem, Content: "  "},
		{Role: api.RoleAssistant, Content: "hello"},
		{Role: api.RoleSystem, Content: "two"},
	})
	if system != "one\n\ntwo" {
		t.Errorf("system = %q", system)
	}
	if len(turns) != 2 || turns[0].Role != api.RoleUser || turns[1].Role != api.RoleAssistant {
		t.Errorf("turns = %+v", turns)
	}
}

func TestClientMapsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "  Rate limit exceeded, please retry \n")
	}))
	defer srv.Close()

	c := NewClient(api.ProviderOpenAI, ClientConfig{BaseURL: srv.URL + "/"}, nil)
	err := c.GetJSON(context.Background(), "k", "/models", nil)

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v", err)
	}
	if apiErr.Message != "Rate limit exceeded, please retry" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.Code != api.CodeUpstreamRateLimited || apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("err = %+v", apiErr)
	}
}

func TestClientSendsHeadersAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Extra") != "yes" || r.Header.Get("X-Secret") != "abc" {
			t.Errorf("headers = %v", r.Header)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewClient(api.ProviderGemini, ClientConfig{BaseURL: srv.URL, Headers: map[string]string{"X-Extra": "yes"}},
		func(r *http.Request, secret string) { r.Header.Set("X-Secret", secret) })

	var out struct{ OK bool }
	if err := c.PostJSON(context.Background(), "abc", "/x", map[string]string{"a": "b"}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
}

func TestClientNetworkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewClient(api.ProviderOpenAI, ClientConfig{BaseURL: "http://" + addr}, nil)
	err = c.GetJSON(context.Background(), "k", "/models", nil)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != api.CodeUpstreamNetwork || !apiErr.Retryable {
		t.Errorf("err = %v", err)
	}
}

func TestClientCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(api.ProviderOpenAI, ClientConfig{BaseURL: srv.URL}, nil)
	_, err := c.OpenStream(ctx, "k", "/stream", map[string]string{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMapHTTPErrorBoundsBody(t *testing.T) {
	body := strings.Repeat("x", maxErrorBody+100)
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusInternalServerError)
	rec.WriteString(body)

	apiErr := MapHTTPError(rec.Result())
	if len(apiErr.Message) != maxErrorBody {
		t.Errorf("message length = %d, want %d", len(apiErr.Message), maxErrorBody)
	}
	if apiErr.Code != api.CodeUpstreamUnknown || !apiErr.Retryable {
		t.Errorf("err = %+v", apiErr)
	}
}

func TestMapStreamError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      api.ErrorCode
		retryable bool
	}{
		{"dropped connection", io.ErrUnexpectedEOF, api.CodeUpstreamNetwork, true},
		{"reset", errors.New("read tcp 127.0.0.1:1234: connection reset by peer"), api.CodeUpstreamNetwork, true},
		{"oversized frame", sse.ErrFrameTooLarge, api.CodeUpstreamUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapStreamError(tt.err)
			if got.Code != tt.code || got.Retryable != tt.retryable {
				t.Errorf("MapStreamError(%v) = %s retryable=%v, want %s retryable=%v",
					tt.err, got.Code, got.Retryable, tt.code, tt.retryable)
			}
		})
	}
}
