package store

import (
	"context"

	"github.com/skillbridge/chat-service/internal/domain"
)

// MessageStore — граница персистентности переписки. Реализации:
// postgres (prod) и sqlite (dev/тесты). Хранилище append-only,
// единственное допустимое обновление — флаг read.
type MessageStore interface {
	// Save вставляет сообщение и возвращает запись с серверными
	// id/created_at/updated_at.
	Save(ctx context.Context, fromUser, toUser, body string, fileURL *string) (*domain.Message, error)

	// Conversation — история пары (симметрично по направлению),
	// created_at ASC, курсорная пагинация.
	Conversation(ctx context.Context, userA, userB, after string, limit int) ([]domain.Message, string, error)

	// MarkRead помечает прочитанными сообщения from->to.
	MarkRead(ctx context.Context, fromUser, toUser string) error

	Ping(ctx context.Context) error
	Close()
}
