package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/storage"
)

const threadColumns = `id, user_id, provider, model, key_id, title, status,
	system_prompt, temperature, max_tokens, created_at, updated_at`

// CreateThread inserts a thread.
func (s *Store) CreateThread(ctx context.Context, t *api.Thread) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO threads (`+threadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		t.ID, t.UserID, string(t.Provider), t.Model, nullString(t.KeyID), t.Title, string(t.Status),
		nullString(t.SystemPrompt), t.Temperature, t.MaxTokens, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting thread: %w", err)
	}
	return nil
}

// GetThread returns the owner's thread.
func (s *Store) GetThread(ctx context.Context, userID, id string) (*api.Thread, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = $1 AND user_id = $2`, id, userID)
	t, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	return t, nil
}

// ListThreads returns the owner's threads, most recently updated first.
func (s *Store) ListThreads(ctx context.Context, userID string) ([]*api.Thread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE user_id = $1
		ORDER BY updated_at DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var out []*api.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateThreadTitle replaces the title.
func (s *Store) UpdateThreadTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE threads SET title = $1, updated_at = $2 WHERE id = $3`, title, s.now(), id)
	if err != nil {
		return fmt.Errorf("updating thread title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteThread deletes the thread; messages go with it through ON DELETE
// CASCADE.
func (s *Store) DeleteThread(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanThread(row pgx.Row) (*api.Thread, error) {
	var (
		t                   api.Thread
		provider, status    string
		keyID, systemPrompt *string
	)
	err := row.Scan(
		&t.ID, &t.UserID, &provider, &t.Model, &keyID, &t.Title, &status,
		&systemPrompt, &t.Temperature, &t.MaxTokens, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Provider = api.ProviderID(provider)
	t.Status = api.ThreadStatus(status)
	t.KeyID = deref(keyID)
	t.SystemPrompt = deref(systemPrompt)
	return &t, nil
}
