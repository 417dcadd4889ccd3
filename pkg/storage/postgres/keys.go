package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/storage"
)

const keyColumns = `id, user_id, provider, label, sealed_secret, last4, status,
	last_validated_at, last_used_at, created_at`

// CreateKey inserts a sealed credential.
func (s *Store) CreateKey(ctx context.Context, k *api.APIKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		k.ID, k.UserID, string(k.Provider), nullString(k.Label), k.Sealed, k.Last4, string(k.Status),
		k.LastValidatedAt, k.LastUsedAt, k.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting key: %w", err)
	}
	return nil
}

// GetKey returns the owner's key.
func (s *Store) GetKey(ctx context.Context, userID, id string) (*api.APIKey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	k, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying key: %w", err)
	}
	return k, nil
}

// ListKeys returns the owner's keys, newest first.
func (s *Store) ListKeys(ctx context.Context, userID string) ([]*api.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var out []*api.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpdateKeyStatus sets the status, keeping last_validated_at when
// validatedAt is nil.
func (s *Store) UpdateKeyStatus(ctx context.Context, id string, status api.KeyStatus, validatedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys
		SET status = $1, last_validated_at = COALESCE($2, last_validated_at)
		WHERE id = $3
	`, string(status), validatedAt, id)
	if err != nil {
		return fmt.Errorf("updating key status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TouchKey stamps last_used_at.
func (s *Store) TouchKey(ctx context.Context, id string, usedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, usedAt, id)
	if err != nil {
		return fmt.Errorf("touching key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanKey(row pgx.Row) (*api.APIKey, error) {
	var (
		k                api.APIKey
		provider, status string
		label            *string
	)
	err := row.Scan(
		&k.ID, &k.UserID, &provider, &label, &k.Sealed, &k.Last4, &status,
		&k.LastValidatedAt, &k.LastUsedAt, &k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	k.Provider = api.ProviderID(provider)
	k.Status = api.KeyStatus(status)
	k.Label = deref(label)
	return &k, nil
}

// RecordAudit appends an audit entry.
func (s *Store) RecordAudit(ctx context.Context, e *api.AuditEntry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshaling audit metadata: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, user_id, action, target_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, e.Action, e.TargetID, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the owner's entries, newest first.
func (s *Store) ListAudit(ctx context.Context, userID string) ([]*api.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, action, target_id, metadata, created_at
		FROM audit_log WHERE user_id = $1 ORDER BY seq DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	defer rows.Close()

	var out []*api.AuditEntry
	for rows.Next() {
		var (
			e        api.AuditEntry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.TargetID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling audit metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetModelCache returns the catalog cached for a provider and key.
func (s *Store) GetModelCache(ctx context.Context, provider api.ProviderID, keyID string) (*storage.ModelCacheEntry, error) {
	var (
		raw       []byte
		fetchedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT models, fetched_at FROM model_cache WHERE provider = $1 AND key_id = $2`, string(provider), keyID,
	).Scan(&raw, &fetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying model cache: %w", err)
	}

	e := &storage.ModelCacheEntry{Provider: provider, KeyID: keyID, FetchedAt: fetchedAt}
	if err := json.Unmarshal(raw, &e.Models); err != nil {
		return nil, fmt.Errorf("unmarshaling models: %w", err)
	}
	return e, nil
}

// PutModelCache upserts the catalog.
func (s *Store) PutModelCache(ctx context.Context, e *storage.ModelCacheEntry) error {
	raw, err := json.Marshal(e.Models)
	if err != nil {
		return fmt.Errorf("marshaling models: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO model_cache (provider, key_id, models, fetched_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, key_id) DO UPDATE SET models = EXCLUDED.models, fetched_at = EXCLUDED.fetched_at
	`, string(e.Provider), e.KeyID, raw, e.FetchedAt)
	if err != nil {
		return fmt.Errorf("upserting model cache: %w", err)
	}
	return nil
}
