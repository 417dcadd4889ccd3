package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/debug"
	"github.com/rhuss/colloquy/pkg/observability"
	"github.com/rhuss/colloquy/pkg/provider"
	"github.com/rhuss/colloquy/pkg/storage"
	"github.com/rhuss/colloquy/pkg/transport"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	storage.ThreadStore
	storage.MessageStore
	storage.AuditStore
}

// Adapters resolves the adapter of a provider. *provider.Adapters satisfies it.
type Adapters interface {
	For(id api.ProviderID) (provider.Provider, error)
}

// Credentials resolves stored keys. *keys.Service satisfies it.
type Credentials interface {
	Get(ctx context.Context, userID, keyID string) (*api.APIKey, error)
	ActiveKeyID(ctx context.Context, userID string, providerID api.ProviderID) (string, error)
	Secret(ctx context.Context, userID, keyID string) (string, error)
}

// Engine orchestrates exchanges between clients and provider adapters. It
// implements transport.ChatService.
type Engine struct {
	store    Store
	adapters Adapters
	creds    Credentials
	cfg      Config

	locks    *threadLocks
	inflight *transport.InFlightRegistry
	now      func() time.Time
}

var _ transport.ChatService = (*Engine)(nil)

// New creates an Engine. Store, adapters and credentials must not be nil.
func New(store Store, adapters Adapters, creds Credentials, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: store must not be nil")
	}
	if adapters == nil {
		return nil, fmt.Errorf("engine: adapters must not be nil")
	}
	if creds == nil {
		return nil, fmt.Errorf("engine: credentials must not be nil")
	}
	cfg.Validation = cfg.validation()
	return &Engine{
		store:    store,
		adapters: adapters,
		creds:    creds,
		cfg:      cfg,
		locks:    newThreadLocks(),
		inflight: transport.NewInFlightRegistry(),
		now:      time.Now,
	}, nil
}

// SendMessage appends a user turn to a thread and runs one exchange for it.
//
// Errors returned before the exchange starts (validation, rate limiting,
// missing thread or key) are left to the caller to report. Once the exchange
// runs, a streaming failure is written to w as an error event and nil is
// returned; a non-streaming failure is returned. A cancelled exchange writes
// nothing, persists no reply and returns the context error.
func (e *Engine) SendMessage(ctx context.Context, req *transport.SendRequest, w transport.EventWriter) error {
	if apiErr := api.ValidateSendMessage(&api.SendMessageRequest{
		Content:   req.Content,
		RequestID: req.RequestID,
	}, e.cfg.Validation); apiErr != nil {
		return apiErr
	}

	if e.cfg.Limiter != nil && !e.cfg.Limiter.Allow("user:"+req.UserID) {
		observability.RateLimitRejectedTotal.WithLabelValues("user").Inc()
		return api.NewRateLimitedError("too many messages, retry shortly")
	}

	thread, err := e.loadThread(ctx, req.UserID, req.ThreadID)
	if err != nil {
		return err
	}

	unlock, err := e.locks.acquire(ctx, thread.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if req.RequestID != "" {
		prior, err := e.store.FindMessageByRequestID(ctx, thread.ID, req.RequestID, api.RoleAssistant)
		switch {
		case err == nil:
			return e.replay(ctx, thread, req, prior, w)
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("checking request id: %w", err)
		}
	}

	if _, err := e.store.AppendMessage(ctx, thread.ID, api.RoleUser, req.Content, req.RequestID); err != nil {
		return fmt.Errorf("storing user message: %w", err)
	}
	if thread.Title == "" || thread.Title == api.DefaultThreadTitle {
		title := api.TitleFromContent(req.Content)
		if err := e.store.UpdateThreadTitle(ctx, thread.ID, title); err != nil {
			slog.Warn("failed to set thread title", "thread_id", thread.ID, "error", err)
		}
	}

	stored, err := e.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	adapter, err := e.adapters.For(thread.Provider)
	if err != nil {
		return err
	}
	keyID := thread.KeyID
	if keyID == "" {
		if keyID, err = e.creds.ActiveKeyID(ctx, req.UserID, thread.Provider); err != nil {
			return err
		}
	}
	secret, err := e.creds.Secret(ctx, req.UserID, keyID)
	if err != nil {
		return err
	}

	exCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := e.inflight.Register(thread.ID, cancel)
	defer release()

	x := &exchange{
		req:     req,
		thread:  thread,
		adapter: adapter,
		secret:  secret,
		chat: &provider.ChatRequest{
			Model:    thread.Model,
			Messages: buildHistory(thread, stored),
			Settings: thread.Settings(),
		},
		state: api.ExchangeIdle,
		start: e.now(),
	}
	debug.Log("engine", "exchange started", "thread_id", thread.ID, "provider", thread.Provider,
		"model", thread.Model, "history", len(x.chat.Messages), "stream", req.Stream)

	if req.Stream {
		if e.streams(ctx, req.UserID, keyID, thread) {
			return e.runStream(ctx, exCtx, x, w)
		}
		return e.runBuffered(ctx, exCtx, x, w)
	}
	return e.runChat(ctx, exCtx, x, w)
}

// CancelExchange cancels the exchange running on threadID. It reports whether
// one was running.
func (e *Engine) CancelExchange(threadID string) bool {
	ok := e.inflight.Cancel(threadID)
	if ok {
		debug.Log("engine", "exchange cancel requested", "thread_id", threadID)
	}
	return ok
}

// replay answers a duplicate request id with the reply already stored,
// without contacting the provider.
func (e *Engine) replay(ctx context.Context, thread *api.Thread, req *transport.SendRequest, prior *api.Message, w transport.EventWriter) error {
	observability.ExchangesTotal.WithLabelValues(string(thread.Provider), observability.OutcomeDeduped).Inc()
	debug.Log("engine", "duplicate request id, replaying stored reply",
		"thread_id", thread.ID, "request_id", req.RequestID, "message_id", prior.ID)
	if req.Stream {
		return w.WriteDone(ctx, prior)
	}
	return w.WriteMessage(ctx, prior)
}

// streams reports whether the thread's model supports streaming, as listed
// with the key the exchange uses. Unknown models and catalog failures count
// as streaming.
func (e *Engine) streams(ctx context.Context, userID, keyID string, thread *api.Thread) bool {
	if e.cfg.Models == nil {
		return true
	}
	catalog, err := e.cfg.Models.ForKey(ctx, userID, thread.Provider, keyID, false)
	if err != nil {
		debug.Log("engine", "model catalog unavailable", "provider", thread.Provider, "error", err)
		return true
	}
	for _, m := range catalog.Models {
		if m.ID == thread.Model {
			return m.Capabilities.Streaming
		}
	}
	return true
}

func (e *Engine) loadThread(ctx context.Context, userID, threadID string) (*api.Thread, error) {
	if !api.ValidateThreadID(threadID) {
		return nil, api.NewNotFoundError(fmt.Sprintf("thread %q not found", threadID))
	}
	t, err := e.store.GetThread(ctx, userID, threadID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, api.NewNotFoundError(fmt.Sprintf("thread %q not found", threadID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading thread: %w", err)
	}
	return t, nil
}
