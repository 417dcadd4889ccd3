// Package models serves provider model catalogs from a cache. A catalog is
// fetched with one of the user's keys (the active key for the provider
// unless one is named), kept for the cache TTL, and served stale when a
// later fetch fails.
//
// Concurrent misses for the same (provider, key) share one upstream fetch.
package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/debug"
	"github.com/rhuss/colloquy/pkg/observability"
	"github.com/rhuss/colloquy/pkg/provider"
	"github.com/rhuss/colloquy/pkg/storage"
)

// DefaultTTL is how long a fetched catalog is considered fresh.
const DefaultTTL = 24 * time.Hour

// Credentials resolves the key used to list a provider's models.
// *keys.Service satisfies it.
type Credentials interface {
	ActiveKeyID(ctx context.Context, userID string, providerID api.ProviderID) (string, error)
	Secret(ctx context.Context, userID, keyID string) (string, error)
}

// Listers resolves provider adapters. *provider.Adapters satisfies it.
type Listers interface {
	For(id api.ProviderID) (provider.Provider, error)
}

// Catalog is the response of List.
type Catalog struct {
	Provider  api.ProviderID        `json:"provider"`
	Models    []api.NormalizedModel `json:"models"`
	Stale     bool                  `json:"stale"`
	FetchedAt time.Time             `json:"fetched_at"`
}

// Service serves cached catalogs.
type Service struct {
	store   storage.ModelCacheStore
	creds   Credentials
	listers Listers
	ttl     time.Duration
	group   singleflight.Group
	now     func() time.Time
}

// New creates a catalog service. A non-positive ttl selects DefaultTTL.
func New(store storage.ModelCacheStore, creds Credentials, listers Listers, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, creds: creds, listers: listers, ttl: ttl, now: time.Now}
}

// List returns the user's catalog for a provider. With refresh set the cache
// is bypassed; a failed fetch still falls back to the cached catalog, marked
// Stale. Without any cached catalog the fetch error is returned.
func (s *Service) List(ctx context.Context, userID string, providerID api.ProviderID, refresh bool) (*Catalog, error) {
	keyID, err := s.creds.ActiveKeyID(ctx, userID, providerID)
	if err != nil {
		return nil, err
	}
	return s.ForKey(ctx, userID, providerID, keyID, refresh)
}

// ForKey is List for a specific key of the user rather than the active one.
func (s *Service) ForKey(ctx context.Context, userID string, providerID api.ProviderID, keyID string, refresh bool) (*Catalog, error) {
	cached, err := s.store.GetModelCache(ctx, providerID, keyID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("reading model cache: %w", err)
	}
	if !refresh && cached != nil && s.now().Sub(cached.FetchedAt) < s.ttl {
		debug.Log("models", "cache hit", "provider", providerID, "key_id", keyID)
		observability.ModelCacheTotal.WithLabelValues(string(providerID), "hit").Inc()
		return catalog(cached, false), nil
	}

	fresh, err := s.fetch(ctx, userID, providerID, keyID)
	if err != nil {
		if cached != nil && ctx.Err() == nil {
			slog.Warn("model fetch failed, serving stale catalog",
				"provider", providerID, "key_id", keyID, "error", err)
			observability.ModelCacheTotal.WithLabelValues(string(providerID), "stale").Inc()
			return catalog(cached, true), nil
		}
		return nil, err
	}
	observability.ModelCacheTotal.WithLabelValues(string(providerID), "miss").Inc()
	return catalog(fresh, false), nil
}

// fetch lists models upstream and stores them. Callers racing on the same
// key share one call; the call runs detached from any single caller's
// cancellation.
func (s *Service) fetch(ctx context.Context, userID string, providerID api.ProviderID, keyID string) (*storage.ModelCacheEntry, error) {
	ch := s.group.DoChan(string(providerID)+"/"+keyID, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)

		p, err := s.listers.For(providerID)
		if err != nil {
			return nil, err
		}
		secret, err := s.creds.Secret(fetchCtx, userID, keyID)
		if err != nil {
			return nil, err
		}

		start := s.now()
		list, err := p.ListModels(fetchCtx, secret)
		if err != nil {
			return nil, err
		}
		debug.Log("models", "catalog fetched", "provider", providerID, "count", len(list),
			"duration", s.now().Sub(start))

		entry := &storage.ModelCacheEntry{Provider: providerID, KeyID: keyID, Models: list, FetchedAt: s.now()}
		if err := s.store.PutModelCache(fetchCtx, entry); err != nil {
			slog.Warn("failed to store model catalog", "provider", providerID, "error", err)
		}
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*storage.ModelCacheEntry), nil
	}
}

func catalog(e *storage.ModelCacheEntry, stale bool) *Catalog {
	models := e.Models
	if models == nil {
		models = []api.NormalizedModel{}
	}
	return &Catalog{Provider: e.Provider, Models: models, Stale: stale, FetchedAt: e.FetchedAt}
}
