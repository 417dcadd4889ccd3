package storage

import (
	"context"
	"time"

	"github.com/rhuss/colloquy/pkg/api"
)

// ThreadStore persists threads. Reads are scoped by owner: a thread owned by
// someone else is reported as ErrNotFound.
type ThreadStore interface {
	CreateThread(ctx context.Context, t *api.Thread) error
	GetThread(ctx context.Context, userID, id string) (*api.Thread, error)

	// ListThreads returns the owner's threads, most recently updated first.
	ListThreads(ctx context.Context, userID string) ([]*api.Thread, error)

	UpdateThreadTitle(ctx context.Context, id, title string) error

	// DeleteThread removes the thread and all of its messages.
	DeleteThread(ctx context.Context, userID, id string) error
}

// MessageStore persists conversation turns.
type MessageStore interface {
	// AppendMessage stores a message. When requestID is non-empty and a
	// message with the same (threadID, requestID, role) already exists, that
	// message is returned and nothing is written. An unknown thread yields
	// ErrNotFound.
	AppendMessage(ctx context.Context, threadID string, role api.Role, content, requestID string) (*api.Message, error)

	// FindMessageByRequestID returns ErrNotFound when no message matches.
	FindMessageByRequestID(ctx context.Context, threadID, requestID string, role api.Role) (*api.Message, error)

	// ListMessages returns the thread's messages in insertion order.
	ListMessages(ctx context.Context, threadID string) ([]*api.Message, error)
}

// KeyStore persists sealed vendor credentials. Secret material is never
// updated; only status and timestamps change.
type KeyStore interface {
	CreateKey(ctx context.Context, k *api.APIKey) error
	GetKey(ctx context.Context, userID, id string) (*api.APIKey, error)

	// ListKeys returns the owner's keys, newest first.
	ListKeys(ctx context.Context, userID string) ([]*api.APIKey, error)

	// UpdateKeyStatus sets the status and, when validatedAt is non-nil, the
	// last validation time.
	UpdateKeyStatus(ctx context.Context, id string, status api.KeyStatus, validatedAt *time.Time) error

	// TouchKey records that the key was used for an exchange.
	TouchKey(ctx context.Context, id string, usedAt time.Time) error
}

// AuditStore records credential and thread lifecycle events.
type AuditStore interface {
	RecordAudit(ctx context.Context, e *api.AuditEntry) error

	// ListAudit returns the owner's entries, newest first.
	ListAudit(ctx context.Context, userID string) ([]*api.AuditEntry, error)
}

// ModelCacheEntry is the model catalog fetched with one credential. Vendors
// scope catalogs to the account, so entries are keyed by provider and key.
type ModelCacheEntry struct {
	Provider  api.ProviderID
	KeyID     string
	Models    []api.NormalizedModel
	FetchedAt time.Time
}

// ModelCacheStore persists model catalogs.
type ModelCacheStore interface {
	// GetModelCache returns ErrNotFound when the catalog was never fetched.
	GetModelCache(ctx context.Context, provider api.ProviderID, keyID string) (*ModelCacheEntry, error)

	// PutModelCache replaces the catalog for (e.Provider, e.KeyID).
	PutModelCache(ctx context.Context, e *ModelCacheEntry) error
}

// Store is the full persistence surface used by the server.
type Store interface {
	ThreadStore
	MessageStore
	KeyStore
	AuditStore
	ModelCacheStore

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}
