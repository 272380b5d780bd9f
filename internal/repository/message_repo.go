package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stream-chat/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	ListByConversationID(ctx context.Context, conversationID string) ([]domain.Message, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	createdAt, ok := domain.ParseTimestamp(message.Timestamp)
	if !ok {
		createdAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, query,
		message.ID,
		message.ConversationID,
		message.Role,
		message.Content,
		createdAt,
	)
	return err
}

func (r *PgMessageRepository) ListByConversationID(ctx context.Context, conversationID string) ([]domain.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var createdAt time.Time

		err = rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Role,
			&msg.Content,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		msg.Timestamp = domain.FormatTimestamp(createdAt)
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
