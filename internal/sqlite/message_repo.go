package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/skillbridge/chat-service/internal/domain"
	"github.com/skillbridge/chat-service/internal/store"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MessageRepository — sqlite-бекенд для локальной разработки и тестов.
// В отличие от postgres id и метки времени назначаются на стороне Go.
type MessageRepository struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	from_user  TEXT NOT NULL,
	to_user    TEXT NOT NULL,
	body       TEXT NOT NULL DEFAULT '',
	file_url   TEXT,
	read       INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (from_user, to_user, created_at);
`

func New(ctx context.Context, path string) (*MessageRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// in-memory база живёт в одном соединении
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &MessageRepository{db: db}, nil
}

func (r *MessageRepository) Save(ctx context.Context, fromUser, toUser, body string, fileURL *string) (*domain.Message, error) {
	now := time.Now().UTC()
	m := &domain.Message{
		ID:        uuid.NewString(),
		FromUser:  fromUser,
		ToUser:    toUser,
		Body:      body,
		FileURL:   fileURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, from_user, to_user, body, file_url, read, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, m.ID, m.FromUser, m.ToUser, m.Body, m.FileURL, now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return nil, err
	}
	return m, nil
}

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

	query := `
		SELECT id, from_user, to_user, body, file_url, read, created_at, updated_at
		FROM messages
		WHERE ((from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?))
	`
	args := []any{userA, userB, userB, userA}
	if cur != nil {
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		ts := cur.CreatedAt.UnixMicro()
		args = append(args, ts, ts, cur.ID)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var createdAt, updatedAt int64
		if err := rows.Scan(&m.ID, &m.FromUser, &m.ToUser, &m.Body, &m.FileURL, &m.Read, &createdAt, &updatedAt); err != nil {
			return nil, "", err
		}
		m.CreatedAt = time.UnixMicro(createdAt).UTC()
		m.UpdatedAt = time.UnixMicro(updatedAt).UTC()
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
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET read = 1, updated_at = ?
		WHERE from_user = ? AND to_user = ? AND read = 0
	`, time.Now().UTC().UnixMicro(), fromUser, toUser)
	return err
}

func (r *MessageRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *MessageRepository) Close() {
	_ = r.db.Close()
}
