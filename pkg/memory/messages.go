package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsync/memoryplane/pkg/models"
)

// MessageStore reads conversation turns from the messages table (owned by
// the gateway, but shared by both services against the same database) to
// feed the audit pipeline's candidate windows. It implements MessageSource.
type MessageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore wraps a pool for reading message history.
func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// LastMessages returns the most recent limit messages in a thread, oldest
// first, excluding soft-deleted rows.
func (s *MessageStore) LastMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, user_id, role, content, created_at,
		       COALESCE(tokens_input, 0), COALESCE(tokens_output, 0),
		       COALESCE(provider, ''), COALESCE(model, ''), important, deleted_at
		FROM (
			SELECT id, thread_id, user_id, role, content, created_at,
			       tokens_input, tokens_output, provider, model, important, deleted_at
			FROM messages
			WHERE thread_id = $1 AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: query last messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt,
			&m.TokensIn, &m.TokensOut, &m.Provider, &m.Model, &m.Important, &m.DeletedAt); err != nil {
			return nil, fmt.Errorf("memory: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
