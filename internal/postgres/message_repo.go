package postgres

import (
	"context"
	"fmt"

	"github.com/skillbridge/chat-service/internal/domain"
	"github.com/skillbridge/chat-service/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Save(ctx context.Context, fromUser, toUser, body string, fileURL *string) (*domain.Message, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO messages (from_user, to_user, body, file_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, from_user, to_user, body, file_url, read, created_at, updated_at
	`, fromUser, toUser, body, fileURL)

	var m domain.Message
	if err := row.Scan(&m.ID, &m.FromUser, &m.ToUser, &m.Body, &m.FileURL, &m.Read, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// Conversation — история пары в порядке created_at ASC (клиент показывает
// переписку сверху вниз), дубли направлений схлопнуты OR-условием.
func (r *MessageRepository) Conversation(ctx context.Context, userA, userB, after string, limit int) ([]domain.Message, string, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	cur, err := store.DecodeCursor(after)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}

	const baseQuery = `
		SELECT id, from_user, to_user, body, file_url, read, created_at, updated_at
		FROM messages
		WHERE ((from_user = $1 AND to_user = $2) OR (from_user = $2 AND to_user = $1))
		  AND (
		    $3::timestamptz IS NULL
		    OR created_at > $3
		    OR (created_at = $3 AND id > $4)
		  )
		ORDER BY created_at ASC, id ASC
		LIMIT $5
	`

	var createdAt any
	var id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.db.Query(ctx, baseQuery, userA, userB, createdAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.FromUser, &m.ToUser, &m.Body, &m.FileURL, &m.Read, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) == limit {
		last := out[len(out)-1]
		next = store.EncodeCursor(store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return out, next, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, fromUser, toUser string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET read = TRUE, updated_at = now()
		WHERE from_user = $1 AND to_user = $2 AND NOT read
	`, fromUser, toUser)
	return err
}

func (r *MessageRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *MessageRepository) Close() {
	r.db.Close()
}
