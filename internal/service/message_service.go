package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/skillbridge/chat-service/internal/domain"
	"github.com/skillbridge/chat-service/internal/metrics"
	"github.com/skillbridge/chat-service/internal/notify"
	"github.com/skillbridge/chat-service/internal/profile"
	"github.com/skillbridge/chat-service/internal/store"
)

// Broadcaster — доставка событий в комнату. Реализации: локальный ws.Hub
// или broker.Bridge поверх него.
type Broadcaster interface {
	BroadcastMessage(roomKey string, msg *domain.Message)
	BroadcastTyping(roomKey, userID string)
}

// MessageService — единая воронка создания сообщений: persist → push →
// broadcast. Через неё проходят и socket-, и upload-путь, поэтому клиенту
// не нужно самому дорассылать файловые сообщения.
type MessageService struct {
	store       store.MessageStore
	profiles    profile.Finder
	notifier    notify.Notifier
	broadcaster Broadcaster
}

func NewMessageService(st store.MessageStore, profiles profile.Finder, notifier notify.Notifier, broadcaster Broadcaster) *MessageService {
	return &MessageService{
		store:       st,
		profiles:    profiles,
		notifier:    notifier,
		broadcaster: broadcaster,
	}
}

// Publish сохраняет сообщение и рассылает его всем соединениям комнаты,
// включая другие сессии отправителя. Наружу уходит только серверная
// запись (id и created_at назначены хранилищем). Пуш — best-effort.
func (s *MessageService) Publish(ctx context.Context, fromUser, toUser, body string, fileURL *string) (*domain.Message, error) {
	fromUser = strings.TrimSpace(fromUser)
	toUser = strings.TrimSpace(toUser)
	if fromUser == "" || toUser == "" {
		return nil, domain.ErrMissingParticipant
	}

	msg, err := s.store.Save(ctx, fromUser, toUser, body, fileURL)
	if err != nil {
		return nil, err
	}

	s.notifyRecipient(ctx, msg)

	s.broadcaster.BroadcastMessage(domain.RoomKey(fromUser, toUser), msg)

	kind := "text"
	if msg.IsFile() {
		kind = "file"
	}
	metrics.MessagesPublished.WithLabelValues(kind).Inc()

	return msg, nil
}

// notifyRecipient — сбой уведомления никогда не валит отправку.
func (s *MessageService) notifyRecipient(ctx context.Context, msg *domain.Message) {
	p, err := s.profiles.FindByUser(ctx, msg.ToUser)
	if err != nil {
		slog.Warn("push: profile lookup failed", "toUser", msg.ToUser, "err", err)
		metrics.NotificationsDispatched.WithLabelValues("error").Inc()
		return
	}
	if p == nil || p.ExpoPushToken == "" {
		metrics.NotificationsDispatched.WithLabelValues("skipped").Inc()
		return
	}

	n := notify.Notification{
		Title: "📩 New Message",
		Body:  msg.Body,
		Data:  map[string]string{"fromUser": msg.FromUser},
	}
	if msg.IsFile() {
		n.Title = "📁 File Received"
		n.Body = "Tap to open the conversation."
	}

	if err := s.notifier.Push(ctx, p.ExpoPushToken, n); err != nil {
		slog.Warn("push: dispatch failed", "toUser", msg.ToUser, "err", err)
		metrics.NotificationsDispatched.WithLabelValues("error").Inc()
		return
	}
	metrics.NotificationsDispatched.WithLabelValues("ok").Inc()
}

// Typing — stateless-ретрансляция, без персистентности и rate limiting.
func (s *MessageService) Typing(userID, peerID string) {
	if userID == "" || peerID == "" {
		return
	}
	s.broadcaster.BroadcastTyping(domain.RoomKey(userID, peerID), userID)
}

func (s *MessageService) History(ctx context.Context, userA, userB, after string, limit int) ([]domain.Message, string, error) {
	if strings.TrimSpace(userA) == "" || strings.TrimSpace(userB) == "" {
		return nil, "", domain.ErrMissingParticipant
	}
	return s.store.Conversation(ctx, userA, userB, after, limit)
}

func (s *MessageService) MarkRead(ctx context.Context, fromUser, toUser string) error {
	if strings.TrimSpace(fromUser) == "" || strings.TrimSpace(toUser) == "" {
		return domain.ErrMissingParticipant
	}
	return s.store.MarkRead(ctx, fromUser, toUser)
}
