package ws

import "github.com/skillbridge/chat-service/internal/domain"

// Типы событий, которые ходят по WS
const (
	TypeJoinRoom      = "joinRoom"      // клиент входит в комнату пары
	TypeSendMessage   = "sendMessage"   // отправка текста
	TypeNewMessage    = "newMessage"    // серверная запись в комнату
	TypeUserTyping    = "userTyping"    // транзитный индикатор набора
	TypeMessageSaved  = "messageSaved"  // ACK отправителю (НЕ сообщение)
	TypeMessageFailed = "messageFailed" // отправка не сохранилась
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type JoinRoomPayload struct {
	UserID string `json:"userId"`
	PeerID string `json:"peerId"`
}

type SendMessagePayload struct {
	FromUser string `json:"fromUser"`
	ToUser   string `json:"toUser"`
	Body     string `json:"body"`

	// корреляция для ACK; назначается клиентом
	CorrelationID string `json:"correlationId,omitempty"`
}

type TypingPayload struct {
	UserID string `json:"userId"`
	PeerID string `json:"peerId,omitempty"`
}

// для клиента: снять pending по correlationId и показать серверную запись
type MessageSavedPayload struct {
	CorrelationID string          `json:"correlationId,omitempty"`
	Message       *domain.Message `json:"message"`
}

type MessageFailedPayload struct {
	CorrelationID string `json:"correlationId,omitempty"`
	Error         string `json:"error"`
}
