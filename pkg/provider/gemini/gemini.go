// Package gemini implements the provider adapter for the Google Gemini
// generateContent API.
package gemini

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/provider"
)

// DefaultBaseURL is the public Gemini API root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const (
	defaultTemperature = 0.7
	maxModelPages      = 10
)

// Config holds the adapter settings.
type Config struct {
	provider.ClientConfig
}

// Provider talks to Gemini.
type Provider struct {
	client *provider.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Gemini adapter.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Provider{client: provider.NewClient(api.ProviderGemini, cfg.ClientConfig, authorize)}
}

func authorize(req *http.Request, secret string) {
	req.Header.Set("x-goog-api-key", secret)
}

// ID implements provider.Provider.
func (p *Provider) ID() provider.ID { return api.ProviderGemini }

// ValidateCredential fetches one catalog entry.
func (p *Provider) ValidateCredential(ctx context.Context, secret string) error {
	return p.client.GetJSON(ctx, secret, "/models?pageSize=1", nil)
}

// ListModels returns every model that supports generateContent.
func (p *Provider) ListModels(ctx context.Context, secret string) ([]api.NormalizedModel, error) {
	var models []api.NormalizedModel
	path := "/models?pageSize=1000"
	for page := 0; page < maxModelPages; page++ {
		var list modelList
		if err := p.client.GetJSON(ctx, secret, path, &list); err != nil {
			return nil, err
		}
		for _, m := range list.Models {
			if !slices.Contains(m.SupportedGenerationMethods, "generateContent") {
				continue
			}
			id := strings.TrimPrefix(m.Name, "models/")
			name := m.DisplayName
			if name == "" {
				name = id
			}
			caps := capabilities(id)
			caps.Streaming = slices.Contains(m.SupportedGenerationMethods, "streamGenerateContent")
			models = append(models, api.NormalizedModel{
				ID:           id,
				DisplayName:  name,
				Provider:     api.ProviderGemini,
				Capabilities: caps,
			})
		}
		if list.NextPageToken == "" {
			break
		}
		path = "/models?pageSize=1000&pageToken=" + url.QueryEscape(list.NextPageToken)
	}
	return models, nil
}

func capabilities(id string) api.Capabilities {
	return api.Capabilities{
		Vision: strings.Contains(id, "vision") || strings.Contains(id, "pro") || strings.Contains(id, "flash"),
	}
}

// Chat implements provider.Provider.
func (p *Provider) Chat(ctx context.Context, secret string, req *provider.ChatRequest) (*provider.ChatResult, error) {
	var resp generateContentResponse
	path := modelPath(req.Model) + ":generateContent"
	if err := p.client.PostJSON(ctx, secret, path, buildRequest(req), &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, api.NewUpstreamError(resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Candidates) == 0 && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, api.NewUpstreamError(http.StatusOK, "prompt blocked: "+resp.PromptFeedback.BlockReason)
	}

	result := &provider.ChatResult{Text: resp.text()}
	if resp.UsageMetadata != nil {
		result.Usage = toUsage(resp.UsageMetadata)
	}
	return result, nil
}

// StreamChat implements provider.Provider.
func (p *Provider) StreamChat(ctx context.Context, secret string, req *provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	path := modelPath(req.Model) + ":streamGenerateContent?alt=sse"
	body, err := p.client.OpenStream(ctx, secret, path, buildRequest(req))
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

func modelPath(model string) string {
	return "/models/" + url.PathEscape(strings.TrimPrefix(model, "models/"))
}

// buildRequest translates a vendor-neutral request. Assistant turns use the
// "model" role and system messages become the system instruction.
func buildRequest(req *provider.ChatRequest) generateContentRequest {
	system, turns := provider.SplitSystem(req.Messages)

	out := generateContentRequest{
		Contents: make([]content, 0, len(turns)),
		GenerationConfig: &generationConfig{
			MaxOutputTokens: req.Settings.MaxTokens,
		},
	}
	temp := provider.Temperature(req.Settings, defaultTemperature)
	out.GenerationConfig.Temperature = &temp

	if system != "" {
		out.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	for _, m := range turns {
		role := "user"
		if m.Role == api.RoleAssistant {
			role = "model"
		}
		out.Contents = append(out.Contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	return out
}

func toUsage(u *usageMetadata) api.Usage {
	return api.Usage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount,
		TotalTokens:  u.TotalTokenCount,
	}
}
