package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/storage"
)

// CreateThread validates the request and stores a new thread. A named key
// must belong to the user, match the provider and be active.
func (e *Engine) CreateThread(ctx context.Context, userID string, req *api.CreateThreadRequest) (*api.Thread, error) {
	providerID, apiErr := api.ValidateCreateThread(req, e.cfg.Validation)
	if apiErr != nil {
		return nil, apiErr
	}

	if req.KeyID != "" {
		key, err := e.creds.Get(ctx, userID, req.KeyID)
		if err != nil {
			return nil, err
		}
		if key.Provider != providerID {
			return nil, api.NewValidationError("key_id",
				fmt.Sprintf("key %s belongs to provider %s, not %s", key.ID, key.Provider, providerID))
		}
		if key.Status != api.KeyStatusActive {
			return nil, api.NewValidationError("key_id", fmt.Sprintf("key %s is %s", key.ID, key.Status))
		}
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = api.DefaultThreadTitle
	}
	now := e.now()
	t := &api.Thread{
		ID:           api.NewThreadID(),
		UserID:       userID,
		Provider:     providerID,
		Model:        strings.TrimSpace(req.Model),
		KeyID:        req.KeyID,
		Title:        title,
		Status:       api.ThreadStatusActive,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateThread(ctx, t); err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}
	slog.Info("thread created", "thread_id", t.ID, "user_id", userID, "provider", providerID, "model", t.Model)
	return t, nil
}

// ListThreads returns the user's threads, most recently updated first.
func (e *Engine) ListThreads(ctx context.Context, userID string) ([]*api.Thread, error) {
	threads, err := e.store.ListThreads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	if threads == nil {
		threads = []*api.Thread{}
	}
	return threads, nil
}

// GetThread returns a thread together with its messages.
func (e *Engine) GetThread(ctx context.Context, userID, threadID string) (*api.ThreadWithMessages, error) {
	t, err := e.loadThread(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.store.ListMessages(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	if msgs == nil {
		msgs = []*api.Message{}
	}
	return &api.ThreadWithMessages{Thread: t, Messages: msgs}, nil
}

// DeleteThread cancels any running exchange, removes the thread with its
// messages and records the deletion in the audit log.
func (e *Engine) DeleteThread(ctx context.Context, userID, threadID string) error {
	t, err := e.loadThread(ctx, userID, threadID)
	if err != nil {
		return err
	}
	e.CancelExchange(t.ID)

	if err := e.store.DeleteThread(ctx, userID, t.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return api.NewNotFoundError(fmt.Sprintf("thread %q not found", threadID))
		}
		return fmt.Errorf("deleting thread: %w", err)
	}

	err = e.store.RecordAudit(ctx, &api.AuditEntry{
		ID:        api.NewAuditID(),
		UserID:    userID,
		Action:    api.AuditThreadDeleted,
		TargetID:  t.ID,
		Metadata:  map[string]string{"provider": string(t.Provider), "model": t.Model},
		CreatedAt: e.now(),
	})
	if err != nil {
		slog.Warn("failed to record audit entry", "action", api.AuditThreadDeleted, "target_id", t.ID, "error", err)
	}
	slog.Info("thread deleted", "thread_id", t.ID, "user_id", userID)
	return nil
}

// Cancel stops the exchange running on one of the user's threads. It reports
// whether an exchange was running.
func (e *Engine) Cancel(ctx context.Context, userID, threadID string) (bool, error) {
	t, err := e.loadThread(ctx, userID, threadID)
	if err != nil {
		return false, err
	}
	return e.CancelExchange(t.ID), nil
}
