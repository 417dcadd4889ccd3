package api

import (
	"fmt"
	"strings"
	"time"
)

// ProviderID names one of the supported LLM vendors. The set is closed.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
)

// Providers lists every supported vendor in a stable order.
var Providers = []ProviderID{ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// ParseProviderID converts s into a ProviderID. Matching is case-insensitive.
func ParseProviderID(s string) (ProviderID, *APIError) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	switch id {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		return id, nil
	}
	return "", NewValidationError("provider",
		fmt.Sprintf("unsupported provider %q (expected openai, anthropic or gemini)", s))
}

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ThreadStatus is the lifecycle status of a thread.
type ThreadStatus string

const (
	ThreadStatusActive   ThreadStatus = "active"
	ThreadStatusArchived ThreadStatus = "archived"
)

// DefaultThreadTitle is assigned to threads created without a title. It is
// replaced by a title derived from the first user message.
const DefaultThreadTitle = "New chat"

// Thread is a conversation owned by one user. Provider, model and generation
// settings are fixed at creation; only Title and Status change afterwards.
type Thread struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Provider     ProviderID   `json:"provider"`
	Model        string       `json:"model"`
	KeyID        string       `json:"key_id,omitempty"`
	Title        string       `json:"title"`
	Status       ThreadStatus `json:"status"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
	MaxTokens    *int         `json:"max_tokens,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Settings returns the generation settings applied to every exchange.
func (t *Thread) Settings() Settings {
	return Settings{Temperature: t.Temperature, MaxTokens: t.MaxTokens}
}

// Message is one persisted conversation turn. Content never changes after
// the message is stored.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is a role/content pair sent to a provider adapter.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Settings are the per-exchange generation parameters. Nil means the
// adapter's vendor default.
type Settings struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Usage reports token counts returned by the vendor, when available.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Capabilities are advisory per-model feature flags. Only Streaming changes
// behavior: it decides whether a streaming exchange is attempted.
type Capabilities struct {
	Streaming bool `json:"streaming"`
	Vision    bool `json:"vision"`
	Tools     bool `json:"tools"`
	JSON      bool `json:"json"`
}

// NormalizedModel is a vendor catalog entry in canonical form.
type NormalizedModel struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	Provider     ProviderID   `json:"provider"`
	Capabilities Capabilities `json:"capabilities"`
}

// KeyStatus is the validation status of a stored API key.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusInvalid KeyStatus = "invalid"
	KeyStatusRevoked KeyStatus = "revoked"
)

// APIKey is a stored vendor credential. Sealed holds the encrypted secret and
// is never serialized; clients only ever see Masked.
type APIKey struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Provider        ProviderID `json:"provider"`
	Label           string     `json:"label,omitempty"`
	Sealed          string     `json:"-"`
	Last4           string     `json:"-"`
	Masked          string     `json:"masked"`
	Status          KeyStatus  `json:"status"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// MaskKey renders the last four characters of a secret behind a fixed mask.
func MaskKey(last4 string) string {
	return "**** **** **** " + last4
}

// LastFour returns up to the last four characters of secret.
func LastFour(secret string) string {
	if len(secret) <= 4 {
		return secret
	}
	return secret[len(secret)-4:]
}

// Audit actions.
const (
	AuditKeyCreated    = "key.created"
	AuditKeyValidated  = "key.validated"
	AuditKeyRevoked    = "key.revoked"
	AuditThreadDeleted = "thread.deleted"
)

// AuditEntry records a security relevant action taken by a user.
type AuditEntry struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Action    string            `json:"action"`
	TargetID  string            `json:"target_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateThreadRequest is the inbound body of POST /v1/threads.
type CreateThreadRequest struct {
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	KeyID        string   `json:"key_id,omitempty"`
	Title        string   `json:"title,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
}

// SendMessageRequest is the inbound body that starts or continues an exchange.
// Stream defaults to true when omitted.
type SendMessageRequest struct {
	Content   string `json:"content"`
	RequestID string `json:"requestId,omitempty"`
	Stream    *bool  `json:"stream,omitempty"`
}

// Streaming reports whether the caller asked for an event stream.
func (r *SendMessageRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// CreateKeyRequest is the inbound body of POST /v1/keys.
type CreateKeyRequest struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
	Label    string `json:"label,omitempty"`
}

// ThreadWithMessages is returned by GET /v1/threads/{id}.
type ThreadWithMessages struct {
	Thread   *Thread    `json:"thread"`
	Messages []*Message `json:"messages"`
}
