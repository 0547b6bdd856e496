package chatclient

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/skillbridge/chat-service/internal/domain"
	"github.com/skillbridge/chat-service/internal/transport/ws"

	"github.com/google/uuid"
)

const (
	// эхо live-сообщения после ACK может прийти чуть позже
	liveDedupeWindow = 2 * time.Second
	// файловое: HTTP-ответ и WS-рассылка гонятся дольше
	fileDedupeWindow = 5 * time.Second
)

var typingIndicatorTTL = 3 * time.Second

// Conversation — локальное состояние одной переписки: упорядоченный
// список сообщений без дублей плюс индикатор набора собеседника.
// Методы потокобезопасны, колбэки зовутся без удержания мьютекса.
type Conversation struct {
	c       *Client
	peerID  string
	roomKey string

	// OnUpdate получает снимок ленты после каждого изменения.
	// OnTyping — true при сигнале набора, false после паузы.
	OnUpdate func([]domain.Message)
	OnTyping func(bool)
	OnError  func(error)

	mu       sync.Mutex
	messages []domain.Message
	seen     map[string]struct{} // id
	pending  map[string]struct{} // correlationId в полёте

	typingTimer *time.Timer
}

func newConversation(c *Client, peerID, roomKey string) *Conversation {
	return &Conversation{
		c:       c,
		peerID:  peerID,
		roomKey: roomKey,
		seen:    make(map[string]struct{}),
		pending: make(map[string]struct{}),
	}
}

func (cv *Conversation) PeerID() string { return cv.peerID }

// Messages — снимок ленты в хронологическом порядке.
func (cv *Conversation) Messages() []domain.Message {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	out := make([]domain.Message, len(cv.messages))
	copy(out, cv.messages)
	return out
}

// LoadHistory догружает всю историю переписки постранично. Записи без id
// получают локальный temp-id, дубли по id отбрасываются: история может
// пересекаться с уже принятым по WS.
func (cv *Conversation) LoadHistory(ctx context.Context) error {
	after := ""
	for {
		items, next, err := cv.c.fetchHistory(ctx, cv.peerID, after)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		cv.mu.Lock()
		for _, m := range items {
			if m.ID == "" {
				m.ID = "temp-" + uuid.NewString()
			}
			if _, dup := cv.seen[m.ID]; dup {
				continue
			}
			cv.seen[m.ID] = struct{}{}
			cv.insertLocked(m)
		}
		cv.mu.Unlock()

		if next == "" {
			break
		}
		after = next
	}

	cv.notifyUpdate()
	return nil
}

// OnIncoming принимает серверную запись (WS-рассылка или ACK).
// Идемпотентна: повтор по id или эхо собственной отправки в окне
// дедупликации не меняет ленту.
func (cv *Conversation) OnIncoming(msg domain.Message) {
	if msg.ID == "" {
		msg.ID = "temp-" + uuid.NewString()
	}

	cv.mu.Lock()
	if _, dup := cv.seen[msg.ID]; dup {
		cv.mu.Unlock()
		return
	}
	if cv.isEchoLocked(msg) {
		cv.mu.Unlock()
		return
	}
	cv.seen[msg.ID] = struct{}{}
	cv.insertLocked(msg)
	cv.mu.Unlock()

	cv.notifyUpdate()
}

// isEchoLocked ловит то же сообщение под другим id: совпадение
// автора, текста и файла в коротком окне от последней такой записи.
// Окно симметричное: запоздавшая запись со старым createdAt эхом
// не считается, если разрыв больше окна.
func (cv *Conversation) isEchoLocked(msg domain.Message) bool {
	for i := len(cv.messages) - 1; i >= 0; i-- {
		prev := cv.messages[i]
		gap := msg.CreatedAt.Sub(prev.CreatedAt)
		if gap > fileDedupeWindow {
			return false // лента отсортирована, дальше только старше
		}
		if gap < 0 {
			gap = -gap
		}
		window := liveDedupeWindow
		if msg.IsFile() || prev.IsFile() {
			window = fileDedupeWindow
		}
		if gap > window {
			continue
		}
		if prev.FromUser != msg.FromUser || prev.Body != msg.Body {
			continue
		}
		if fileURL(prev) == fileURL(msg) {
			return true
		}
	}
	return false
}

func fileURL(m domain.Message) string {
	if m.FileURL == nil {
		return ""
	}
	return *m.FileURL
}

// insertLocked держит ленту отсортированной по createdAt; обычный
// случай — добавление в хвост.
func (cv *Conversation) insertLocked(msg domain.Message) {
	i := len(cv.messages)
	for i > 0 && cv.messages[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	cv.messages = append(cv.messages, domain.Message{})
	copy(cv.messages[i+1:], cv.messages[i:])
	cv.messages[i] = msg
}

func (cv *Conversation) notifyUpdate() {
	if cv.OnUpdate != nil {
		cv.OnUpdate(cv.Messages())
	}
}

// Send отправляет текст по WS. Локальной (оптимистичной) вставки нет:
// лента пополнится серверной записью из messageSaved или newMessage.
func (cv *Conversation) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	corrID := uuid.NewString()
	cv.mu.Lock()
	cv.pending[corrID] = struct{}{}
	cv.mu.Unlock()

	err := cv.c.emit(ws.Message{
		Type: ws.TypeSendMessage,
		Payload: ws.SendMessagePayload{
			FromUser:      cv.c.opts.UserID,
			ToUser:        cv.peerID,
			Body:          text,
			CorrelationID: corrID,
		},
	})
	if err != nil {
		cv.mu.Lock()
		delete(cv.pending, corrID)
		cv.mu.Unlock()
		return err
	}
	return nil
}

// SendFile загружает файл по HTTP и сразу вставляет серверную запись
// из ответа; последующая WS-рассылка гасится дедупликацией по id.
func (cv *Conversation) SendFile(ctx context.Context, filename string, r io.Reader) (*domain.Message, error) {
	msg, err := cv.c.uploadFile(ctx, cv.peerID, filename, r)
	if err != nil {
		return nil, err
	}
	cv.OnIncoming(*msg)
	return msg, nil
}

// TypingSignal шлёт индикатор набора; пустой ввод сигнала не даёт.
func (cv *Conversation) TypingSignal(draft string) {
	if strings.TrimSpace(draft) == "" {
		return
	}
	_ = cv.c.emit(ws.Message{
		Type:    ws.TypeUserTyping,
		Payload: ws.TypingPayload{UserID: cv.c.opts.UserID, PeerID: cv.peerID},
	})
}

// confirm: ACK отправителю. Запись попадает в ленту через обычный
// входящий путь (повторная WS-рассылка отсеется по id).
func (cv *Conversation) confirm(corrID string, msg domain.Message) {
	cv.mu.Lock()
	delete(cv.pending, corrID)
	cv.mu.Unlock()
	cv.OnIncoming(msg)
}

func (cv *Conversation) fail(corrID string, err error) {
	cv.mu.Lock()
	delete(cv.pending, corrID)
	cv.mu.Unlock()
	if cv.OnError != nil {
		cv.OnError(err)
	}
}

func (cv *Conversation) hasPending(corrID string) bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	_, ok := cv.pending[corrID]
	return ok
}

// peerTyping включает индикатор и гасит его, если сигналы перестали
// приходить. Каждый новый сигнал перезаводит таймер.
func (cv *Conversation) peerTyping() {
	cv.mu.Lock()
	if cv.typingTimer != nil {
		cv.typingTimer.Stop()
	}
	cv.typingTimer = time.AfterFunc(typingIndicatorTTL, func() {
		if cv.OnTyping != nil {
			cv.OnTyping(false)
		}
	})
	cv.mu.Unlock()

	if cv.OnTyping != nil {
		cv.OnTyping(true)
	}
}
