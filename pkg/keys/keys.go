// Package keys manages the lifecycle of user-supplied vendor credentials:
// create after upstream validation, re-validate, revoke, masked listing, and
// selection of the secret used for one exchange.
//
// Secrets are sealed before they reach storage and opened only in Secret,
// whose caller holds the plaintext for the duration of one exchange.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/debug"
	"github.com/rhuss/colloquy/pkg/provider"
	"github.com/rhuss/colloquy/pkg/storage"
)

// Store is the persistence the service needs.
type Store interface {
	storage.KeyStore
	storage.AuditStore
}

// Sealer encrypts secrets at rest. *seal.Sealer satisfies it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Validators resolves the adapter that validates a provider's credentials.
// *provider.Adapters satisfies it.
type Validators interface {
	For(id api.ProviderID) (provider.Provider, error)
}

// Service implements the credential lifecycle.
type Service struct {
	store      Store
	sealer     Sealer
	validators Validators
	validation api.ValidationConfig
	now        func() time.Time
}

// New creates a credential service.
func New(store Store, sealer Sealer, validators Validators) *Service {
	return &Service{
		store:      store,
		sealer:     sealer,
		validators: validators,
		validation: api.DefaultValidationConfig(),
		now:        time.Now,
	}
}

// Create validates the key against its vendor and, on success, stores it
// sealed. Nothing is stored when validation fails; the returned
// *api.APIError carries the classified upstream failure.
func (s *Service) Create(ctx context.Context, userID string, req *api.CreateKeyRequest) (*api.APIKey, error) {
	providerID, apiErr := api.ValidateCreateKey(req, s.validation)
	if apiErr != nil {
		return nil, apiErr
	}
	secret := strings.TrimSpace(req.Key)

	if err := s.validate(ctx, providerID, secret); err != nil {
		return nil, err
	}

	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("sealing key: %w", err)
	}

	now := s.now()
	key := &api.APIKey{
		ID:              api.NewKeyID(),
		UserID:          userID,
		Provider:        providerID,
		Label:           strings.TrimSpace(req.Label),
		Sealed:          sealed,
		Last4:           api.LastFour(secret),
		Status:          api.KeyStatusActive,
		LastValidatedAt: &now,
		CreatedAt:       now,
	}
	if err := s.store.CreateKey(ctx, key); err != nil {
		return nil, fmt.Errorf("storing key: %w", err)
	}

	s.audit(ctx, userID, api.AuditKeyCreated, key.ID, map[string]string{
		"provider": string(providerID),
		"masked":   api.MaskKey(key.Last4),
	})
	slog.Info("api key created", "key_id", key.ID, "provider", providerID, "user_id", userID)
	return present(key), nil
}

// Validate re-checks a stored key upstream. Success marks it active and stamps
// last_validated_at; a credential failure marks it invalid. A revoked key is
// never reactivated.
func (s *Service) Validate(ctx context.Context, userID, keyID string) (*api.APIKey, error) {
	key, err := s.get(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}
	if key.Status == api.KeyStatusRevoked {
		return nil, api.NewValidationError("key_id", "key has been revoked")
	}

	secret, err := s.sealer.Open(key.Sealed)
	if err != nil {
		return nil, fmt.Errorf("opening key: %w", err)
	}

	now := s.now()
	validateErr := s.validate(ctx, key.Provider, secret)
	status := api.KeyStatusActive
	if validateErr != nil {
		var apiErr *api.APIError
		if !errors.As(validateErr, &apiErr) || (apiErr.Code != api.CodeInvalidCredential && apiErr.Code != api.CodeInsufficientPermissions) {
			// Transient failures say nothing about the key.
			return nil, validateErr
		}
		status = api.KeyStatusInvalid
	}

	if err := s.store.UpdateKeyStatus(ctx, key.ID, status, &now); err != nil {
		return nil, fmt.Errorf("updating key status: %w", err)
	}
	key.Status = status
	key.LastValidatedAt = &now

	s.audit(ctx, userID, api.AuditKeyValidated, key.ID, map[string]string{"status": string(status)})
	if validateErr != nil {
		return nil, validateErr
	}
	return present(key), nil
}

// Revoke permanently disables a key.
func (s *Service) Revoke(ctx context.Context, userID, keyID string) (*api.APIKey, error) {
	key, err := s.get(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateKeyStatus(ctx, key.ID, api.KeyStatusRevoked, nil); err != nil {
		return nil, fmt.Errorf("revoking key: %w", err)
	}
	key.Status = api.KeyStatusRevoked

	s.audit(ctx, userID, api.AuditKeyRevoked, key.ID, map[string]string{"provider": string(key.Provider)})
	slog.Info("api key revoked", "key_id", key.ID, "user_id", userID)
	return present(key), nil
}

// List returns the user's keys with masked secrets, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]*api.APIKey, error) {
	keys, err := s.store.ListKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	for _, k := range keys {
		present(k)
	}
	return keys, nil
}

// Get returns one masked key.
func (s *Service) Get(ctx context.Context, userID, keyID string) (*api.APIKey, error) {
	key, err := s.get(ctx, userID, keyID)
	if err != nil {
		return nil, err
	}
	return present(key), nil
}

// ActiveKeyID picks the most recently validated active key of the user for
// the provider.
func (s *Service) ActiveKeyID(ctx context.Context, userID string, providerID api.ProviderID) (string, error) {
	keys, err := s.store.ListKeys(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("listing keys: %w", err)
	}

	var best *api.APIKey
	for _, k := range keys {
		if k.Provider != providerID || k.Status != api.KeyStatusActive {
			continue
		}
		if best == nil || validatedAfter(k, best) {
			best = k
		}
	}
	if best == nil {
		return "", api.NewNotFoundError(fmt.Sprintf("no active %s key configured", providerID))
	}
	return best.ID, nil
}

// Secret opens the key's secret for one exchange and stamps last_used_at.
// Revoked and invalid keys are refused.
func (s *Service) Secret(ctx context.Context, userID, keyID string) (string, error) {
	key, err := s.get(ctx, userID, keyID)
	if err != nil {
		return "", err
	}
	if key.Status != api.KeyStatusActive {
		return "", &api.APIError{
			Code:    api.CodeInvalidCredential,
			Message: fmt.Sprintf("key %s is %s", key.ID, key.Status),
			Param:   "key_id",
		}
	}

	secret, err := s.sealer.Open(key.Sealed)
	if err != nil {
		return "", fmt.Errorf("opening key: %w", err)
	}
	if err := s.store.TouchKey(ctx, key.ID, s.now()); err != nil {
		slog.Warn("failed to stamp key usage", "key_id", key.ID, "error", err)
	}
	debug.Log("keys", "secret opened", "key_id", key.ID, "provider", key.Provider)
	return secret, nil
}

func (s *Service) get(ctx context.Context, userID, keyID string) (*api.APIKey, error) {
	if !api.ValidateKeyID(keyID) {
		return nil, api.NewNotFoundError(fmt.Sprintf("key %q not found", keyID))
	}
	key, err := s.store.GetKey(ctx, userID, keyID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, api.NewNotFoundError(fmt.Sprintf("key %q not found", keyID))
	}
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}
	return key, nil
}

func (s *Service) validate(ctx context.Context, providerID api.ProviderID, secret string) error {
	p, err := s.validators.For(providerID)
	if err != nil {
		return err
	}
	if err := p.ValidateCredential(ctx, secret); err != nil {
		debug.Log("keys", "credential rejected", "provider", providerID, "error", err)
		return err
	}
	return nil
}

func (s *Service) audit(ctx context.Context, userID, action, targetID string, metadata map[string]string) {
	err := s.store.RecordAudit(ctx, &api.AuditEntry{
		ID:        api.NewAuditID(),
		UserID:    userID,
		Action:    action,
		TargetID:  targetID,
		Metadata:  metadata,
		CreatedAt: s.now(),
	})
	if err != nil {
		slog.Warn("failed to record audit entry", "action", action, "target_id", targetID, "error", err)
	}
}

func present(k *api.APIKey) *api.APIKey {
	k.Masked = api.MaskKey(k.Last4)
	return k
}

func validatedAfter(a, b *api.APIKey) bool {
	switch {
	case a.LastValidatedAt == nil:
		return false
	case b.LastValidatedAt == nil:
		return true
	default:
		return a.LastValidatedAt.After(*b.LastValidatedAt)
	}
}
