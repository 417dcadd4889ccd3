// Package anthropic implements the provider adapter for the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/provider"
)

const (
	// DefaultBaseURL is the public Anthropic API root.
	DefaultBaseURL = "https://api.anthropic.com/v1"

	// DefaultVersion is sent as the anthropic-version header.
	DefaultVersion = "2023-06-01"

	// DefaultMaxTokens is used when the thread sets no output limit; the
	// Messages API requires one.
	DefaultMaxTokens = 1024

	defaultTemperature = 0.7

	// maxModelPages bounds catalog pagination.
	maxModelPages = 10
)

// Config holds the adapter settings.
type Config struct {
	provider.ClientConfig

	// Version overrides the anthropic-version header.
	Version string

	// MaxTokens overrides DefaultMaxTokens.
	MaxTokens int
}

// Provider talks to Anthropic.
type Provider struct {
	client    *provider.Client
	maxTokens int
}

var _ provider.Provider = (*Provider)(nil)

// New creates an Anthropic adapter.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	headers := map[string]string{"anthropic-version": cfg.Version}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	cfg.Headers = headers

	return &Provider{
		client:    provider.NewClient(api.ProviderAnthropic, cfg.ClientConfig, authorize),
		maxTokens: cfg.MaxTokens,
	}
}

func authorize(req *http.Request, secret string) {
	req.Header.Set("x-api-key", secret)
}

// ID implements provider.Provider.
func (p *Provider) ID() provider.ID { return api.ProviderAnthropic }

// ValidateCredential fetches a single catalog entry.
func (p *Provider) ValidateCredential(ctx context.Context, secret string) error {
	return p.client.GetJSON(ctx, secret, "/models?limit=1", nil)
}

// ListModels pages through the model catalog.
func (p *Provider) ListModels(ctx context.Context, secret string) ([]api.NormalizedModel, error) {
	var models []api.NormalizedModel
	path := "/models?limit=100"
	for page := 0; page < maxModelPages; page++ {
		var list modelList
		if err := p.client.GetJSON(ctx, secret, path, &list); err != nil {
			return nil, err
		}
		for _, m := range list.Data {
			name := m.DisplayName
			if name == "" {
				name = m.ID
			}
			models = append(models, api.NormalizedModel{
				ID:           m.ID,
				DisplayName:  name,
				Provider:     api.ProviderAnthropic,
				Capabilities: capabilities(m.ID),
			})
		}
		if !list.HasMore || list.LastID == "" {
			break
		}
		path = "/models?limit=100&after_id=" + url.QueryEscape(list.LastID)
	}
	return models, nil
}

// capabilities guesses feature flags from the model id. Every model from the
// Claude 3 generation on accepts images and tools.
func capabilities(id string) api.Capabilities {
	modern := strings.Contains(id, "claude-3") || strings.Contains(id, "claude-sonnet") ||
		strings.Contains(id, "claude-opus") || strings.Contains(id, "claude-haiku")
	return api.Capabilities{
		Streaming: true,
		Vision:    modern || strings.Contains(id, "vision"),
		Tools:     modern || strings.Contains(id, "tool"),
		JSON:      strings.Contains(id, "json"),
	}
}

// Chat implements provider.Provider.
func (p *Provider) Chat(ctx context.Context, secret string, req *provider.ChatRequest) (*provider.ChatResult, error) {
	var resp messagesResponse
	if err := p.client.PostJSON(ctx, secret, "/messages", p.buildRequest(req, false), &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	result := &provider.ChatResult{Text: text.String()}
	if resp.Usage != nil {
		result.Usage = toUsage(resp.Usage)
	}
	return result, nil
}

// StreamChat implements provider.Provider.
func (p *Provider) StreamChat(ctx context.Context, secret string, req *provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	body, err := p.client.OpenStream(ctx, secret, "/messages", p.buildRequest(req, true))
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

// buildRequest translates a vendor-neutral request. System messages are
// joined into the top-level system field.
func (p *Provider) buildRequest(req *provider.ChatRequest, stream bool) messagesRequest {
	system, turns := provider.SplitSystem(req.Messages)

	out := messagesRequest{
		Model:       req.Model,
		System:      system,
		Messages:    make([]message, 0, len(turns)),
		MaxTokens:   provider.MaxTokens(req.Settings, p.maxTokens),
		Temperature: provider.Temperature(req.Settings, defaultTemperature),
		Stream:      stream,
	}
	for _, m := range turns {
		out.Messages = append(out.Messages, message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func toUsage(u *usage) api.Usage {
	return api.Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
	}
}
