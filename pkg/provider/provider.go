// Package provider defines the uniform contract every vendor adapter
// implements, together with the shared upstream HTTP client and error
// mapping the adapters build on.
//
// The vendor set is closed: OpenAI, Anthropic and Gemini. Callers dispatch on
// [ID] through [Adapters.For] rather than registering adapters at runtime.
package provider

import (
	"context"
	"fmt"

	"github.com/rhuss/colloquy/pkg/api"
)

// ID identifies a vendor adapter.
type ID = api.ProviderID

// Provider is the uniform contract of a vendor adapter. Each adapter owns
// request construction, response parsing and translation of the vendor's
// stream frames into canonical deltas.
//
// Implementations must be safe for concurrent use. The secret is passed per
// call and never retained by the adapter.
type Provider interface {
	// ID returns the vendor this adapter talks to.
	ID() ID

	// ValidateCredential issues a lightweight read-only call. Any non-2xx
	// response is returned as an *api.APIError carrying the raw body text.
	ValidateCredential(ctx context.Context, secret string) error

	// ListModels fetches the vendor catalog in normalized form.
	ListModels(ctx context.Context, secret string) ([]api.NormalizedModel, error)

	// Chat performs a non-streaming exchange.
	Chat(ctx context.Context, secret string, req *ChatRequest) (*ChatResult, error)

	// StreamChat performs a streaming exchange. Failures before the first
	// byte are returned directly. Afterwards the returned channel receives
	// delta events followed by exactly one done or error event, and is
	// closed by the adapter. On context cancellation the channel is closed
	// without a terminal event.
	StreamChat(ctx context.Context, secret string, req *ChatRequest) (<-chan StreamEvent, error)
}

// Adapters holds one adapter per supported vendor.
type Adapters struct {
	OpenAI    Provider
	Anthropic Provider
	Gemini    Provider
}

// For returns the adapter for id.
func (a *Adapters) For(id ID) (Provider, error) {
	var p Provider
	switch id {
	case api.ProviderOpenAI:
		p = a.OpenAI
	case api.ProviderAnthropic:
		p = a.Anthropic
	case api.ProviderGemini:
		p = a.Gemini
	default:
		return nil, api.NewValidationError("provider", fmt.Sprintf("unsupported provider %q", id))
	}
	if p == nil {
		return nil, api.NewInternalError(fmt.Sprintf("provider %q is not configured", id))
	}
	return p, nil
}
