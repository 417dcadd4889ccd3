package engine

import (
	"context"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/models"
)

// Limiter admits or rejects work for a bucket key such as "user:alice".
type Limiter interface {
	Allow(key string) bool
}

// ModelLookup serves the model catalog listed with one of the user's keys.
// *models.Service satisfies it.
type ModelLookup interface {
	ForKey(ctx context.Context, userID string, providerID api.ProviderID, keyID string, refresh bool) (*models.Catalog, error)
}

// Config holds configuration for the orchestrator.
type Config struct {
	// Validation bounds inbound content, request ids and thread settings.
	// The zero value selects api.DefaultValidationConfig.
	Validation api.ValidationConfig

	// Limiter throttles sends per user. Nil disables local rate limiting.
	Limiter Limiter

	// Models is consulted for the streaming capability of a thread's model.
	// Nil means every model is assumed to stream.
	Models ModelLookup
}

func (c Config) validation() api.ValidationConfig {
	if c.Validation == (api.ValidationConfig{}) {
		return api.DefaultValidationConfig()
	}
	return c.Validation
}
