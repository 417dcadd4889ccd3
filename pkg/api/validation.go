package api

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxContentSize   int
	MaxRequestIDLen  int
	MaxSystemPrompt  int
	MaxTitleLength   int
	MinKeyLength     int
	MaxOutputTokens  int
	MaxModelIDLength int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxContentSize:   1 << 20, // 1MB
		MaxRequestIDLen:  128,
		MaxSystemPrompt:  32 * 1024,
		MaxTitleLength:   200,
		MinKeyLength:     8,
		MaxOutputTokens:  8192,
		MaxModelIDLength: 200,
	}
}

// ValidateSendMessage checks the body of a message send.
func ValidateSendMessage(req *SendMessageRequest, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(req.Content) == "" {
		return NewValidationError("content", "content must not be empty")
	}
	if cfg.MaxContentSize > 0 && len(req.Content) > cfg.MaxContentSize {
		return NewValidationError("content",
			fmt.Sprintf("content exceeds maximum size of %d bytes", cfg.MaxContentSize))
	}
	if cfg.MaxRequestIDLen > 0 && len(req.RequestID) > cfg.MaxRequestIDLen {
		return NewValidationError("requestId",
			fmt.Sprintf("requestId exceeds maximum length of %d", cfg.MaxRequestIDLen))
	}
	return nil
}

// ValidateCreateThread checks the body of a thread creation and returns the
// parsed provider.
func ValidateCreateThread(req *CreateThreadRequest, cfg ValidationConfig) (ProviderID, *APIError) {
	provider, apiErr := ParseProviderID(req.Provider)
	if apiErr != nil {
		return "", apiErr
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", NewValidationError("model", "model is required")
	}
	if cfg.MaxModelIDLength > 0 && len(req.Model) > cfg.MaxModelIDLength {
		return "", NewValidationError("model", "model is too long")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return "", NewValidationError("temperature", "temperature must be between 0 and 2")
	}
	if req.MaxTokens != nil && (*req.MaxTokens < 1 || *req.MaxTokens > cfg.MaxOutputTokens) {
		return "", NewValidationError("max_tokens",
			fmt.Sprintf("max_tokens must be between 1 and %d", cfg.MaxOutputTokens))
	}
	if cfg.MaxSystemPrompt > 0 && len(req.SystemPrompt) > cfg.MaxSystemPrompt {
		return "", NewValidationError("system_prompt", "system_prompt is too long")
	}
	if cfg.MaxTitleLength > 0 && utf8.RuneCountInString(req.Title) > cfg.MaxTitleLength {
		return "", NewValidationError("title", "title is too long")
	}
	return provider, nil
}

// ValidateCreateKey checks the body of an API key creation and returns the
// parsed provider.
func ValidateCreateKey(req *CreateKeyRequest, cfg ValidationConfig) (ProviderID, *APIError) {
	provider, apiErr := ParseProviderID(req.Provider)
	if apiErr != nil {
		return "", apiErr
	}
	if len(strings.TrimSpace(req.Key)) < cfg.MinKeyLength {
		return "", NewValidationError("key",
			fmt.Sprintf("key must be at least %d characters", cfg.MinKeyLength))
	}
	return provider, nil
}

// TitleFromContent derives a thread title from the first four words of a
// message. Longer content gets an ellipsis.
func TitleFromContent(content string) string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return DefaultThreadTitle
	}
	if len(words) <= 4 {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:4], " ") + "..."
}
