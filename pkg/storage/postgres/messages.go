package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/debug"
	"github.com/rhuss/colloquy/pkg/storage"
)

const messageColumns = `id, thread_id, role, content, request_id, created_at`

// AppendMessage inserts a message and bumps the thread's updated_at. With a
// request id, an existing (thread, request id, role) row is returned instead.
// Two racing writers both pass the pre-check; the partial unique index makes
// the loser fail with a unique violation, after which the winner is re-read.
func (s *Store) AppendMessage(ctx context.Context, threadID string, role api.Role, content, requestID string) (*api.Message, error) {
	if requestID != "" {
		existing, err := s.FindMessageByRequestID(ctx, threadID, requestID, role)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	msg := &api.Message{
		ID:        api.NewMessageID(),
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		RequestID: requestID,
		CreatedAt: s.now(),
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, msg.ID, msg.ThreadID, string(msg.Role), msg.Content, nullString(msg.RequestID), msg.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE threads SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, threadID)
		return err
	})

	switch {
	case err == nil:
		return msg, nil
	case isMissingParent(err):
		return nil, storage.ErrNotFound
	case isDuplicateKey(err) && requestID != "":
		debug.Log("storage", "append lost race, returning winner", "thread_id", threadID, "request_id", requestID)
		return s.FindMessageByRequestID(ctx, threadID, requestID, role)
	default:
		return nil, fmt.Errorf("inserting message: %w", err)
	}
}

// FindMessageByRequestID looks up a message by its idempotency triple.
func (s *Store) FindMessageByRequestID(ctx context.Context, threadID, requestID string, role api.Role) (*api.Message, error) {
	if requestID == "" {
		return nil, storage.ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = $1 AND request_id = $2 AND role = $3
	`, threadID, requestID, string(role))
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

// ListMessages returns the thread's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]*api.Message, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM threads WHERE id = $1)`, threadID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking thread: %w", err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = $1
		ORDER BY seq
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []*api.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*api.Message, error) {
	var (
		m         api.Message
		role      string
		requestID *string
	)
	if err := row.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &requestID, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = api.Role(role)
	m.RequestID = deref(requestID)
	return &m, nil
}
