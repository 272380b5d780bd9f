package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stream-chat/internal/domain"
)

type ConversationRepository interface {
	Create(ctx context.Context, conversation domain.Conversation) error
	GetByID(ctx context.Context, id string) (domain.Conversation, error)
	List(ctx context.Context) ([]domain.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

func (r *PgConversationRepository) Create(ctx context.Context, conversation domain.Conversation) error {
	const query = `
		INSERT INTO conversations (id, role_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query,
		conversation.ID,
		conversation.RoleType,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	return err
}

// GetByID devuelve pgx.ErrNoRows si la conversacion no existe.
func (r *PgConversationRepository) GetByID(ctx context.Context, id string) (domain.Conversation, error) {
	const query = `
		SELECT id, role_type, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	var c domain.Conversation
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.RoleType,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (r *PgConversationRepository) List(ctx context.Context) ([]domain.Conversation, error) {
	const query = `
		SELECT id, role_type, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []domain.Conversation{}
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.RoleType, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (r *PgConversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE conversations SET updated_at = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, at)
	return err
}
