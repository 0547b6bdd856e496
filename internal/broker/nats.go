package broker

import (
	"encoding/json"
	"log/slog"

	"github.com/skillbridge/chat-service/internal/domain"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Bridge растягивает комнаты на несколько инстансов: локальный hub видит
// только свои соединения, поэтому каждый broadcast дублируется в NATS, а
// подписка доставляет чужие события в локальный hub. Без NATS (url пуст)
// сервис работает в однопроцессном режиме.
//
// Core pub/sub, не JetStream: фан-аут комнаты эфемерный, пропущенное
// восстанавливается запросом истории.

type Local interface {
	BroadcastMessage(roomKey string, msg *domain.Message)
	BroadcastTyping(roomKey, userID string)
}

const subjectPrefix = "chat.room."

type event struct {
	Instance string          `json:"instance"`
	Room     string          `json:"room"`
	Kind     string          `json:"kind"` // "message" | "typing"
	Message  *domain.Message `json:"message,omitempty"`
	UserID   string          `json:"userId,omitempty"`
}

type Bridge struct {
	nc       *nats.Conn
	local    Local
	instance string
	sub      *nats.Subscription
}

func New(url string, local Local) (*Bridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("chat-service"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		nc:       nc,
		local:    local,
		instance: uuid.NewString(),
	}

	sub, err := nc.Subscribe(subjectPrefix+">", b.onRemote)
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.sub = sub
	return b, nil
}

func (b *Bridge) onRemote(m *nats.Msg) {
	var ev event
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		slog.Warn("broker: bad event", "subject", m.Subject, "err", err)
		return
	}
	if ev.Instance == b.instance {
		return // своё же эхо
	}
	switch ev.Kind {
	case "message":
		if ev.Message != nil {
			b.local.BroadcastMessage(ev.Room, ev.Message)
		}
	case "typing":
		b.local.BroadcastTyping(ev.Room, ev.UserID)
	}
}

func (b *Bridge) publish(ev event) {
	ev.Instance = b.instance
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("broker: marshal event", "err", err)
		return
	}
	if err := b.nc.Publish(subjectPrefix+ev.Room, data); err != nil {
		slog.Warn("broker: publish failed", "room", ev.Room, "err", err)
	}
}

// BroadcastMessage — локальная доставка сразу, остальным инстансам через NATS.
func (b *Bridge) BroadcastMessage(roomKey string, msg *domain.Message) {
	b.local.BroadcastMessage(roomKey, msg)
	b.publish(event{Room: roomKey, Kind: "message", Message: msg})
}

func (b *Bridge) BroadcastTyping(roomKey, userID string) {
	b.local.BroadcastTyping(roomKey, userID)
	b.publish(event{Room: roomKey, Kind: "typing", UserID: userID})
}

func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.nc.Close()
}
