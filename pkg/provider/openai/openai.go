// Package openai implements the provider adapter for the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/provider"
)

// DefaultBaseURL is the public OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

const defaultTemperature = 0.7

// Config holds the adapter settings.
type Config struct {
	provider.ClientConfig
}

// Provider talks to OpenAI.
type Provider struct {
	client *provider.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates an OpenAI adapter.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Provider{client: provider.NewClient(api.ProviderOpenAI, cfg.ClientConfig, authorize)}
}

func authorize(req *http.Request, secret string) {
	req.Header.Set("Authorization", "Bearer "+secret)
}

// ID implements provider.Provider.
func (p *Provider) ID() provider.ID { return api.ProviderOpenAI }

// ValidateCredential lists models, the cheapest authenticated call.
func (p *Provider) ValidateCredential(ctx context.Context, secret string) error {
	return p.client.GetJSON(ctx, secret, "/models", nil)
}

// ListModels returns the chat-capable models of the account, sorted by id.
func (p *Provider) ListModels(ctx context.Context, secret string) ([]api.NormalizedModel, error) {
	var list modelList
	if err := p.client.GetJSON(ctx, secret, "/models", &list); err != nil {
		return nil, err
	}

	var all, chat []api.NormalizedModel
	for _, m := range list.Data {
		model := api.NormalizedModel{
			ID:           m.ID,
			DisplayName:  m.ID,
			Provider:     api.ProviderOpenAI,
			Capabilities: capabilities(m.ID),
		}
		all = append(all, model)
		if isChatModel(m.ID) {
			chat = append(chat, model)
		}
	}
	if len(chat) == 0 {
		chat = all
	}
	slices.SortFunc(chat, func(a, b api.NormalizedModel) int { return strings.Compare(a.ID, b.ID) })
	return chat, nil
}

var nonChatMarkers = []string{"instruct", "realtime", "audio", "embedding", "tts", "whisper", "dall-e", "transcribe", "search"}

func isChatModel(id string) bool {
	if !strings.HasPrefix(id, "gpt-") && !strings.HasPrefix(id, "o1") &&
		!strings.HasPrefix(id, "o3") && !strings.HasPrefix(id, "o4") {
		return false
	}
	for _, marker := range nonChatMarkers {
		if strings.Contains(id, marker) {
			return false
		}
	}
	return true
}

// capabilities guesses feature flags from the model id.
func capabilities(id string) api.Capabilities {
	modern := strings.Contains(id, "gpt-4")
	return api.Capabilities{
		Streaming: true,
		Vision:    strings.Contains(id, "vision") || strings.Contains(id, "gpt-4o") || strings.Contains(id, "gpt-4.1"),
		Tools:     modern,
		JSON:      modern,
	}
}

// Chat implements provider.Provider.
func (p *Provider) Chat(ctx context.Context, secret string, req *provider.ChatRequest) (*provider.ChatResult, error) {
	body := buildRequest(req, false)

	var resp chatResponse
	if err := p.client.PostJSON(ctx, secret, "/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, api.NewUpstreamError(http.StatusOK, "upstream response contained no choices")
	}

	result := &provider.ChatResult{Text: resp.Choices[0].Message.Content}
	if resp.Usage != nil {
		result.Usage = toUsage(resp.Usage)
	}
	return result, nil
}

// StreamChat implements provider.Provider.
func (p *Provider) StreamChat(ctx context.Context, secret string, req *provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	body, err := p.client.OpenStream(ctx, secret, "/chat/completions", buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan provider.StreamEvent, provider.StreamBufferSize)
	go func() {
		defer close(ch)
		defer body.Close()
		parseStream(ctx, body, ch)
	}()
	return ch, nil
}

// buildRequest translates a vendor-neutral request. System messages move to
// the System field and never appear among the turns.
func buildRequest(req *provider.ChatRequest, stream bool) chatRequest {
	system, turns := provider.SplitSystem(req.Messages)

	out := chatRequest{
		Model:       req.Model,
		System:      system,
		Messages:    make([]chatMessage, 0, len(turns)),
		Temperature: provider.Temperature(req.Settings, defaultTemperature),
		MaxTokens:   req.Settings.MaxTokens,
	}
	for _, m := range turns {
		out.Messages = append(out.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return out
}

func toUsage(u *usage) api.Usage {
	return api.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}
