// Package memory provides an in-memory implementation of storage.Store for
// testing and single-instance deployments. Data is lost when the process
// restarts. An optional thread cap evicts the least recently used thread
// together with its messages.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/storage"
)

type modelKey struct {
	provider api.ProviderID
	keyID    string
}

type requestKey struct {
	requestID string
	role      api.Role
}

// threadEntry holds a thread, its messages in insertion order and the
// request-id index used for idempotent appends.
type threadEntry struct {
	thread    api.Thread
	messages  []*api.Message
	byRequest map[requestKey]*api.Message
	lruElem   *list.Element
}

// Store is an in-memory storage.Store.
type Store struct {
	mu         sync.RWMutex
	threads    map[string]*threadEntry
	lruList    *list.List // front = most recently used
	maxThreads int        // 0 = unlimited

	keys   map[string]*api.APIKey
	audit  []*api.AuditEntry
	models map[modelKey]*storage.ModelCacheEntry

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an in-memory store. When maxThreads is greater than zero the
// least recently used thread is evicted once the cap is reached.
func New(maxThreads int) *Store {
	return &Store{
		threads:    make(map[string]*threadEntry),
		lruList:    list.New(),
		maxThreads: maxThreads,
		keys:       make(map[string]*api.APIKey),
		models:     make(map[modelKey]*storage.ModelCacheEntry),
		now:        time.Now,
	}
}

// CreateThread stores a new thread.
func (s *Store) CreateThread(_ context.Context, t *api.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[t.ID]; exists {
		return storage.ErrConflict
	}
	if s.maxThreads > 0 && len(s.threads) >= s.maxThreads {
		s.evictOldest()
	}

	s.threads[t.ID] = &threadEntry{
		thread:    *t,
		byRequest: make(map[requestKey]*api.Message),
		lruElem:   s.lruList.PushFront(t.ID),
	}
	return nil
}

// GetThread returns the thread when it exists and is owned by userID.
func (s *Store) GetThread(_ context.Context, userID, id string) (*api.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.threads[id]
	if !ok || e.thread.UserID != userID {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	t := e.thread
	return &t, nil
}

// ListThreads returns the owner's threads, most recently updated first.
func (s *Store) ListThreads(_ context.Context, userID string) ([]*api.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.Thread
	for _, e := range s.threads {
		if e.thread.UserID != userID {
			continue
		}
		t := e.thread
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// UpdateThreadTitle replaces the thread title.
func (s *Store) UpdateThreadTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.threads[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.thread.Title = title
	e.thread.UpdatedAt = s.now()
	return nil
}

// DeleteThread removes the thread and its messages.
func (s *Store) DeleteThread(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.threads[id]
	if !ok || e.thread.UserID != userID {
		return storage.ErrNotFound
	}
	s.lruList.Remove(e.lruElem)
	delete(s.threads, id)
	return nil
}

// AppendMessage stores a message, returning the existing one when the
// (thread, request id, role) triple was already written. The lookup and the
// insert happen under the same write lock.
func (s *Store) AppendMessage(_ context.Context, threadID string, role api.Role, content, requestID string) (*api.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.threads[threadID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	key := requestKey{requestID: requestID, role: role}
	if requestID != "" {
		if existing, ok := e.byRequest[key]; ok {
			m := *existing
			return &m, nil
		}
	}

	now := s.now()
	msg := &api.Message{
		ID:        api.NewMessageID(),
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		RequestID: requestID,
		CreatedAt: now,
	}
	e.messages = append(e.messages, msg)
	if requestID != "" {
		e.byRequest[key] = msg
	}
	e.thread.UpdatedAt = now
	s.lruList.MoveToFront(e.lruElem)

	m := *msg
	return &m, nil
}

// FindMessageByRequestID looks up a message by its idempotency triple.
func (s *Store) FindMessageByRequestID(_ context.Context, threadID, requestID string, role api.Role) (*api.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.threads[threadID]
	if !ok || requestID == "" {
		return nil, storage.ErrNotFound
	}
	existing, ok := e.byRequest[requestKey{requestID: requestID, role: role}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	m := *existing
	return &m, nil
}

// ListMessages returns the thread's messages in insertion order.
func (s *Store) ListMessages(_ context.Context, threadID string) ([]*api.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.threads[threadID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]*api.Message, len(e.messages))
	for i, msg := range e.messages {
		m := *msg
		out[i] = &m
	}
	return out, nil
}

// CreateKey stores a sealed credential.
func (s *Store) CreateKey(_ context.Context, k *api.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[k.ID]; exists {
		return storage.ErrConflict
	}
	cp := *k
	s.keys[k.ID] = &cp
	return nil
}

// GetKey returns the key when it exists and is owned by userID.
func (s *Store) GetKey(_ context.Context, userID, id string) (*api.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok || k.UserID != userID {
		return nil, storage.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

// ListKeys returns the owner's keys, newest first.
func (s *Store) ListKeys(_ context.Context, userID string) ([]*api.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.APIKey
	for _, k := range s.keys {
		if k.UserID != userID {
			continue
		}
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateKeyStatus changes the key status and optionally its validation time.
func (s *Store) UpdateKeyStatus(_ context.Context, id string, status api.KeyStatus, validatedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.Status = status
	if validatedAt != nil {
		t := *validatedAt
		k.LastValidatedAt = &t
	}
	return nil
}

// TouchKey records the last use of a key.
func (s *Store) TouchKey(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.LastUsedAt = &usedAt
	return nil
}

// RecordAudit appends an audit entry.
func (s *Store) RecordAudit(_ context.Context, e *api.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.audit = append(s.audit, &cp)
	return nil
}

// ListAudit returns the owner's audit entries, newest first.
func (s *Store) ListAudit(_ context.Context, userID string) ([]*api.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].UserID == userID {
			cp := *s.audit[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetModelCache returns the catalog cached for a provider and key.
func (s *Store) GetModelCache(_ context.Context, provider api.ProviderID, keyID string) (*storage.ModelCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.models[modelKey{provider: provider, keyID: keyID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	cp.Models = append([]api.NormalizedModel(nil), e.Models...)
	return &cp, nil
}

// PutModelCache replaces the cached catalog.
func (s *Store) PutModelCache(_ context.Context, e *storage.ModelCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	cp.Models = append([]api.NormalizedModel(nil), e.Models...)
	s.models[modelKey{provider: e.Provider, keyID: e.KeyID}] = &cp
	return nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recently used thread.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.threads, id)
}
